package web3

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zkgroups/deployer/artifacts"
	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/forge"
	"github.com/zkgroups/deployer/log"
	"github.com/zkgroups/deployer/planner"
	"github.com/zkgroups/deployer/solidity"
	"github.com/zkgroups/deployer/types"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 2 * time.Second
)

// verifierContractName is the contract name the key-generation tool emits
// in every synthesized verifier source.
const verifierContractName = "Verifier"

// DeploymentFailedError is a step-scoped execution failure. The run halts,
// prior completed steps stay valid, and the next invocation resumes at the
// failed step.
type DeploymentFailedError struct {
	Step  types.StepID
	Cause error
}

func (e *DeploymentFailedError) Error() string {
	return fmt.Sprintf("deployment step %q failed: %v", e.Step, e.Cause)
}

func (e *DeploymentFailedError) Unwrap() error {
	return e.Cause
}

// TxClient is the transaction capability the deployer needs from the chain
// client.
type TxClient interface {
	Address() common.Address
	NextNonce(ctx context.Context) (uint64, error)
	// ResetNonce drops the local reservation counter so the next
	// reservation reconciles with the provider again. Called after a
	// failed forge invocation, whose nonce consumption is unknown.
	ResetNonce()
	SendCall(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitTx(ctx context.Context, txHash common.Hash) error
}

// ContractCreator runs a prepared forge invocation. It is an interface so
// tests can intercept the command instead of spawning forge.
type ContractCreator interface {
	Create(ctx context.Context, create *forge.Create) (*forge.Output, error)
}

// ForgeCreator executes forge for real.
type ForgeCreator struct{}

func (ForgeCreator) Create(ctx context.Context, create *forge.Create) (*forge.Output, error) {
	return create.Run(ctx)
}

// AddressResolver maps a dependency step id to its deployed address, from
// either the current run or the persisted record.
type AddressResolver func(id types.StepID) (common.Address, bool)

// DeployerOptions configures step execution.
type DeployerOptions struct {
	// ContractsDir is where the embedded support contract sources are
	// materialized and where forge runs.
	ContractsDir string
	// RPCURL and PrivateKey are handed to forge for contract creation.
	RPCURL     string
	PrivateKey string
	// EtherscanAPIKey enables explorer verification of the support
	// contracts. Runtime-generated verifier sources are never verified.
	EtherscanAPIKey string
	// MaxAttempts bounds retries of transient RPC failures per operation.
	MaxAttempts int
	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
}

// Deployer executes plan steps in order against the chain.
type Deployer struct {
	client  TxClient
	creator ContractCreator
	cache   *artifacts.Cache
	cfg     *config.Config
	opts    DeployerOptions

	dispatcherPath string
	routerPath     string
	dispatcherABI  *abi.ABI
	routerABI      *abi.ABI
}

// NewDeployer materializes the support contract sources and prepares a step
// executor.
func NewDeployer(client TxClient, creator ContractCreator, cache *artifacts.Cache,
	cfg *config.Config, opts DeployerOptions,
) (*Deployer, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	dispatcherPath, routerPath, err := solidity.Materialize(opts.ContractsDir)
	if err != nil {
		return nil, err
	}
	dispatcherABI, err := solidity.DispatcherABI()
	if err != nil {
		return nil, err
	}
	routerABI, err := solidity.RouterABI()
	if err != nil {
		return nil, err
	}
	return &Deployer{
		client:         client,
		creator:        creator,
		cache:          cache,
		cfg:            cfg,
		opts:           opts,
		dispatcherPath: dispatcherPath,
		routerPath:     routerPath,
		dispatcherABI:  dispatcherABI,
		routerABI:      routerABI,
	}, nil
}

// Execute runs one step and returns the resulting contract address. Step
// failures are reported as DeploymentFailedError so the orchestrator can
// record them and halt.
func (d *Deployer) Execute(ctx context.Context, step planner.Step, resolve AddressResolver) (common.Address, error) {
	var addr common.Address
	var err error
	switch step.Kind {
	case planner.StepDeployVerifier:
		addr, err = d.deployVerifier(ctx, step.Key)
	case planner.StepRegisterGroup:
		addr, err = d.registerGroup(ctx, step.Group, resolve)
	case planner.StepDeployRouter:
		addr, err = d.deployRouter(ctx, resolve)
	default:
		err = fmt.Errorf("unknown step kind %v", step.Kind)
	}
	if err != nil {
		return common.Address{}, &DeploymentFailedError{Step: step.ID, Cause: err}
	}
	return addr, nil
}

func (d *Deployer) deployVerifier(ctx context.Context, key types.ArtifactKey) (common.Address, error) {
	path := d.cache.PathFor(key, artifacts.KindVerifierContract)
	out, err := d.createContract(ctx, func(nonce uint64) *forge.Create {
		return forge.NewCreate(forge.SpecPathName(path, verifierContractName)).
			WithDir(d.opts.ContractsDir).
			WithOverrideContractSource(filepath.Dir(path)).
			WithPrivateKey(d.opts.PrivateKey).
			WithRPCURL(d.opts.RPCURL).
			WithNonce(nonce).
			NoVerify()
	})
	if err != nil {
		return common.Address{}, err
	}
	log.Infow("deployed verifier contract",
		"key", key.String(),
		"address", out.DeployedTo.Hex(),
		"tx", out.TransactionHash.Hex(),
	)
	return out.DeployedTo, nil
}

func (d *Deployer) registerGroup(ctx context.Context, groupID types.GroupID, resolve AddressResolver) (common.Address, error) {
	group, ok := d.cfg.Groups[groupID]
	if !ok {
		return common.Address{}, fmt.Errorf("group %d not in configuration", groupID)
	}
	initialRoot := group.InitialRoot
	if len(initialRoot) == 0 {
		initialRoot = d.cfg.Misc.InitialLeafValue
	}
	// Pad to a full word so an absent root still forms a valid uint256
	// argument (0x0000...00).
	initialRoot = initialRoot.LeftPad(32)

	out, err := d.createContract(ctx, func(nonce uint64) *forge.Create {
		create := forge.NewCreate(forge.SpecPathName(d.dispatcherPath, solidity.DispatcherContract)).
			WithDir(d.opts.ContractsDir).
			WithPrivateKey(d.opts.PrivateKey).
			WithRPCURL(d.opts.RPCURL).
			WithNonce(nonce).
			WithConstructorArg(fmt.Sprintf("%d", group.TreeDepth)).
			WithConstructorArg(initialRoot.String())
		if d.opts.EtherscanAPIKey != "" {
			create = create.WithEtherscanAPIKey(d.opts.EtherscanAPIKey)
		}
		return create
	})
	if err != nil {
		return common.Address{}, err
	}
	dispatcher := out.DeployedTo
	log.Infow("deployed group dispatcher",
		"group", groupID,
		"address", dispatcher.Hex(),
		"tx", out.TransactionHash.Hex(),
	)

	for _, key := range d.cfg.GroupArtifactKeys(groupID) {
		verifier, ok := resolve(planner.VerifierStepID(key))
		if !ok {
			return common.Address{}, fmt.Errorf("no deployed verifier for %s", key)
		}
		data, err := d.dispatcherABI.Pack("updateVerifier",
			big.NewInt(int64(modeOrdinal(key.Mode))),
			big.NewInt(int64(key.BatchSize)),
			verifier,
		)
		if err != nil {
			return common.Address{}, fmt.Errorf("pack updateVerifier: %w", err)
		}
		if err := d.sendAndWait(ctx, dispatcher, data); err != nil {
			return common.Address{}, fmt.Errorf("wire verifier %s for group %d: %w", key, groupID, err)
		}
		log.Debugw("registered verifier on dispatcher",
			"group", groupID, "key", key.String(), "verifier", verifier.Hex())
	}
	return dispatcher, nil
}

func (d *Deployer) deployRouter(ctx context.Context, resolve AddressResolver) (common.Address, error) {
	out, err := d.createContract(ctx, func(nonce uint64) *forge.Create {
		create := forge.NewCreate(forge.SpecPathName(d.routerPath, solidity.RouterContract)).
			WithDir(d.opts.ContractsDir).
			WithPrivateKey(d.opts.PrivateKey).
			WithRPCURL(d.opts.RPCURL).
			WithNonce(nonce)
		if d.opts.EtherscanAPIKey != "" {
			create = create.WithEtherscanAPIKey(d.opts.EtherscanAPIKey)
		}
		return create
	})
	if err != nil {
		return common.Address{}, err
	}
	router := out.DeployedTo
	log.Infow("deployed group router", "address", router.Hex(), "tx", out.TransactionHash.Hex())

	for _, groupID := range d.cfg.GroupIDs() {
		dispatcher, ok := resolve(planner.GroupStepID(groupID))
		if !ok {
			return common.Address{}, fmt.Errorf("no dispatcher address for group %d", groupID)
		}
		data, err := d.routerABI.Pack("updateGroup", new(big.Int).SetUint64(uint64(groupID)), dispatcher)
		if err != nil {
			return common.Address{}, fmt.Errorf("pack updateGroup: %w", err)
		}
		if err := d.sendAndWait(ctx, router, data); err != nil {
			return common.Address{}, fmt.Errorf("route group %d: %w", groupID, err)
		}
	}
	return router, nil
}

// createContract runs one forge creation with a pinned nonce, retrying
// transient failures with fresh nonces.
func (d *Deployer) createContract(ctx context.Context, build func(nonce uint64) *forge.Create) (*forge.Output, error) {
	var out *forge.Output
	err := d.withRetry(ctx, func() error {
		nonce, err := d.client.NextNonce(ctx)
		if err != nil {
			return err
		}
		out, err = d.creator.Create(ctx, build(nonce))
		if err != nil {
			d.client.ResetNonce()
		}
		return err
	})
	return out, err
}

func (d *Deployer) sendAndWait(ctx context.Context, to common.Address, data []byte) error {
	return d.withRetry(ctx, func() error {
		hash, err := d.client.SendCall(ctx, to, data)
		if err != nil {
			return err
		}
		return d.client.WaitTx(ctx, hash)
	})
}

// withRetry retries op with bounded exponential backoff while the error
// looks transient. Permanent errors and context cancellation abort at once.
func (d *Deployer) withRetry(ctx context.Context, op func() error) error {
	backoff := d.opts.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == d.opts.MaxAttempts {
			break
		}
		log.Warnw("transient chain error, retrying",
			"attempt", attempt, "backoff", backoff.String(), "error", lastErr)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("exhausted %d attempts: %w", d.opts.MaxAttempts, lastErr)
}

func modeOrdinal(mode types.ProverMode) int {
	for i, m := range types.Modes {
		if m == mode {
			return i
		}
	}
	return len(types.Modes)
}
