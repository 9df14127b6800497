// Package forge wraps the foundry `forge` command line tool for contract
// creation. Contract deployment goes through forge rather than raw
// transaction assembly so that Solidity sources produced at runtime can be
// compiled and optionally verified in one step.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ContractSpec identifies a contract to deploy, either by bare name
// (resolved by forge inside the working directory) or by source path plus
// contract name.
type ContractSpec struct {
	Path string
	Name string
}

// SpecName returns a spec resolved by contract name alone.
func SpecName(name string) ContractSpec {
	return ContractSpec{Name: name}
}

// SpecPathName returns a spec pinned to a specific source file.
func SpecPathName(path, name string) ContractSpec {
	return ContractSpec{Path: path, Name: name}
}

func (s ContractSpec) String() string {
	if s.Path != "" {
		return s.Path + ":" + s.Name
	}
	return s.Name
}

// Output is the JSON document `forge create --json` prints on success.
type Output struct {
	Deployer        common.Address `json:"deployer"`
	DeployedTo      common.Address `json:"deployedTo"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

// Create builds one `forge create` invocation. Zero-valued optional fields
// are omitted from the command line.
type Create struct {
	spec            ContractSpec
	dir             string
	overrideSource  string
	privateKey      string
	rpcURL          string
	nonce           *uint64
	constructorArgs []string
	etherscanAPIKey string
	noVerify        bool
}

// NewCreate returns a create invocation for the given contract.
func NewCreate(spec ContractSpec) *Create {
	return &Create{spec: spec}
}

// WithDir sets the working directory forge runs in (the foundry project
// holding remappings and dependencies).
func (c *Create) WithDir(dir string) *Create {
	c.dir = dir
	return c
}

// WithOverrideContractSource adds an extra source directory, used to compile
// contract files living outside the project tree.
func (c *Create) WithOverrideContractSource(dir string) *Create {
	c.overrideSource = dir
	return c
}

// WithPrivateKey sets the hex-encoded signing key.
func (c *Create) WithPrivateKey(hexKey string) *Create {
	c.privateKey = hexKey
	return c
}

// WithRPCURL sets the chain RPC endpoint.
func (c *Create) WithRPCURL(url string) *Create {
	c.rpcURL = url
	return c
}

// WithNonce pins the transaction nonce. Pinning keeps deployments in plan
// order when several creations are issued from one account.
func (c *Create) WithNonce(nonce uint64) *Create {
	c.nonce = &nonce
	return c
}

// WithConstructorArg appends one constructor argument.
func (c *Create) WithConstructorArg(arg string) *Create {
	c.constructorArgs = append(c.constructorArgs, arg)
	return c
}

// WithEtherscanAPIKey enables source verification through the block
// explorer after deployment.
func (c *Create) WithEtherscanAPIKey(key string) *Create {
	c.etherscanAPIKey = key
	return c
}

// NoVerify disables explorer verification even when an API key is set.
// Runtime-generated sources cannot be verified against a published build.
func (c *Create) NoVerify() *Create {
	c.noVerify = true
	return c
}

// Args returns the forge command line arguments for this invocation.
func (c *Create) Args() []string {
	args := []string{"create"}
	if c.overrideSource != "" {
		args = append(args, "-C", c.overrideSource)
	}
	args = append(args, c.spec.String())
	if c.privateKey != "" {
		args = append(args, "--private-key", c.privateKey)
	}
	if c.rpcURL != "" {
		args = append(args, "--rpc-url", c.rpcURL)
	}
	if c.nonce != nil {
		args = append(args, "--nonce", fmt.Sprintf("%d", *c.nonce))
	}
	for _, arg := range c.constructorArgs {
		args = append(args, "--constructor-args", arg)
	}
	if !c.noVerify && c.etherscanAPIKey != "" {
		args = append(args, "--etherscan-api-key", c.etherscanAPIKey, "--verify")
	}
	return append(args, "--json")
}

// Run executes forge and parses its JSON output.
func (c *Create) Run(ctx context.Context) (*Output, error) {
	cmd := exec.CommandContext(ctx, "forge", c.Args()...)
	cmd.Dir = c.dir
	stdout, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("forge create %s failed: %s", c.spec, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("forge create %s failed: %w", c.spec, err)
	}
	return parseOutput(stdout)
}

// parseOutput extracts the trailing JSON document from forge's stdout,
// which may be preceded by compiler progress lines. The document is flat,
// so the last '{' before the last '}' opens it.
func parseOutput(stdout []byte) (*Output, error) {
	s := string(stdout)
	if i := strings.LastIndexByte(s, '}'); i >= 0 {
		s = s[:i+1]
	}
	if i := strings.LastIndexByte(s, '{'); i >= 0 {
		s = s[i:]
	}
	out := new(Output)
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return nil, fmt.Errorf("could not parse forge output: %w", err)
	}
	return out, nil
}
