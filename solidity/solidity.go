// Package solidity carries the deployment support contracts and their ABIs.
// The sources are embedded so the deployer can materialize them next to the
// runtime-generated verifier sources and hand everything to forge from one
// directory.
package solidity

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed contracts/*.sol
var contractFS embed.FS

// Contract names as they appear in the embedded sources.
const (
	DispatcherContract = "GroupDispatcher"
	RouterContract     = "GroupRouter"
)

// DispatcherABIJSON covers the dispatcher functions the deployer calls.
const DispatcherABIJSON = `[
  {"type":"function","name":"updateVerifier","stateMutability":"nonpayable","inputs":[
    {"name":"mode","type":"uint256"},
    {"name":"batchSize","type":"uint256"},
    {"name":"verifier","type":"address"}],"outputs":[]},
  {"type":"function","name":"verifierFor","stateMutability":"view","inputs":[
    {"name":"mode","type":"uint256"},
    {"name":"batchSize","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

// RouterABIJSON covers the router functions the deployer calls.
const RouterABIJSON = `[
  {"type":"function","name":"updateGroup","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"uint256"},
    {"name":"dispatcher","type":"address"}],"outputs":[]},
  {"type":"function","name":"routeFor","stateMutability":"view","inputs":[
    {"name":"groupId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

// DispatcherABI returns the parsed dispatcher ABI.
func DispatcherABI() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(DispatcherABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse dispatcher ABI: %w", err)
	}
	return &parsed, nil
}

// RouterABI returns the parsed router ABI.
func RouterABI() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(RouterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &parsed, nil
}

// Materialize writes the embedded contract sources into dir, creating it if
// needed. Existing files are left untouched so operator-patched sources
// survive re-runs. It returns the paths of the dispatcher and router
// sources.
func Materialize(dir string) (dispatcherPath, routerPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("could not create contracts dir: %w", err)
	}
	entries, err := contractFS.ReadDir("contracts")
	if err != nil {
		return "", "", err
	}
	for _, entry := range entries {
		data, err := contractFS.ReadFile("contracts/" + entry.Name())
		if err != nil {
			return "", "", err
		}
		dst := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return "", "", fmt.Errorf("could not write %s: %w", dst, err)
		}
	}
	return filepath.Join(dir, DispatcherContract+".sol"),
		filepath.Join(dir, RouterContract+".sol"), nil
}
