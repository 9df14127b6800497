package web3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/zkgroups/deployer/artifacts"
	"github.com/zkgroups/deployer/config"
	"github.com/zkgroups/deployer/forge"
	"github.com/zkgroups/deployer/planner"
	"github.com/zkgroups/deployer/solidity"
	"github.com/zkgroups/deployer/types"
)

type mockTxClient struct {
	nonce  uint64
	resets int
	calls  []mockCall
	waited []common.Hash
}

type mockCall struct {
	to   common.Address
	data []byte
}

func (m *mockTxClient) Address() common.Address { return common.HexToAddress("0xd0") }

func (m *mockTxClient) NextNonce(context.Context) (uint64, error) {
	n := m.nonce
	m.nonce++
	return n, nil
}

func (m *mockTxClient) ResetNonce() { m.resets++ }

func (m *mockTxClient) SendCall(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	m.calls = append(m.calls, mockCall{to: to, data: data})
	return common.BytesToHash([]byte{byte(len(m.calls))}), nil
}

func (m *mockTxClient) WaitTx(_ context.Context, hash common.Hash) error {
	m.waited = append(m.waited, hash)
	return nil
}

type mockCreator struct {
	created []*forge.Create
	errs    []error // consumed per call; nil slice means always succeed
	next    byte
}

func (m *mockCreator) Create(_ context.Context, create *forge.Create) (*forge.Output, error) {
	m.created = append(m.created, create)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.next++
	return &forge.Output{
		Deployer:        common.HexToAddress("0xd0"),
		DeployedTo:      common.BytesToAddress([]byte{m.next}),
		TransactionHash: common.BytesToHash([]byte{0xff, m.next}),
	}, nil
}

func testGroupConfig() *config.Config {
	return &config.Config{
		Groups: map[types.GroupID]*config.GroupConfig{
			1: {TreeDepth: 30, InsertionBatchSizes: []types.BatchSize{10, 100}},
		},
		Misc: config.MiscConfig{
			InitialLeafValue: types.HexStringToHexBytesMustUnmarshal("0x00deadbeef"),
		},
	}
}

func newTestDeployer(t *testing.T, client TxClient, creator ContractCreator, cfg *config.Config) (*Deployer, *artifacts.Cache) {
	cache, err := artifacts.New(t.TempDir())
	qt.Assert(t, err, qt.IsNil)
	deployer, err := NewDeployer(client, creator, cache, cfg, DeployerOptions{
		ContractsDir: t.TempDir(),
		RPCURL:       "http://localhost:8545",
		PrivateKey:   "deadbeef",
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})
	qt.Assert(t, err, qt.IsNil)
	return deployer, cache
}

func TestExecuteDeployVerifier(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{nonce: 3}
	creator := &mockCreator{}
	deployer, cache := newTestDeployer(t, client, creator, testGroupConfig())

	key := types.ArtifactKey{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 100}
	step := planner.Step{ID: planner.VerifierStepID(key), Kind: planner.StepDeployVerifier, Key: key}

	addr, err := deployer.Execute(context.Background(), step, func(types.StepID) (common.Address, bool) {
		return common.Address{}, false
	})
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, common.BytesToAddress([]byte{1}))

	c.Assert(creator.created, qt.HasLen, 1)
	args := strings.Join(creator.created[0].Args(), " ")
	c.Assert(args, qt.Contains, cache.PathFor(key, artifacts.KindVerifierContract)+":Verifier")
	c.Assert(args, qt.Contains, "--nonce 3")
	c.Assert(args, qt.Contains, "--rpc-url http://localhost:8545")
	// runtime-generated sources are never explorer-verified
	c.Assert(args, qt.Not(qt.Contains), "--verify")
}

func TestExecuteRegisterGroup(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{}
	creator := &mockCreator{}
	cfg := testGroupConfig()
	deployer, _ := newTestDeployer(t, client, creator, cfg)

	verifiers := map[types.StepID]common.Address{
		"verifier/insertion/30/10":  common.HexToAddress("0x10"),
		"verifier/insertion/30/100": common.HexToAddress("0x100"),
	}
	step := planner.Step{ID: planner.GroupStepID(1), Kind: planner.StepRegisterGroup, Group: 1}

	addr, err := deployer.Execute(context.Background(), step, func(id types.StepID) (common.Address, bool) {
		a, ok := verifiers[id]
		return a, ok
	})
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, common.BytesToAddress([]byte{1}))

	// one dispatcher creation with depth and initial root constructor args,
	// the root padded to a full 32-byte word
	c.Assert(creator.created, qt.HasLen, 1)
	args := strings.Join(creator.created[0].Args(), " ")
	c.Assert(args, qt.Contains, "GroupDispatcher")
	c.Assert(args, qt.Contains, "--constructor-args 30")
	c.Assert(args, qt.Contains,
		"--constructor-args 0x"+strings.Repeat("0", 54)+"00deadbeef")

	// one updateVerifier call per batch size, confirmed in order
	c.Assert(client.calls, qt.HasLen, 2)
	c.Assert(client.waited, qt.HasLen, 2)
	dispatcherABI, err := solidity.DispatcherABI()
	c.Assert(err, qt.IsNil)
	method, err := dispatcherABI.MethodById(client.calls[0].data[:4])
	c.Assert(err, qt.IsNil)
	c.Assert(method.Name, qt.Equals, "updateVerifier")
	unpacked, err := method.Inputs.Unpack(client.calls[0].data[4:])
	c.Assert(err, qt.IsNil)
	c.Assert(unpacked[1].(*big.Int).Int64(), qt.Equals, int64(10))
	c.Assert(unpacked[2].(common.Address), qt.Equals, common.HexToAddress("0x10"))
}

func TestExecuteRegisterGroupDefaultRoot(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{}
	creator := &mockCreator{}
	cfg := testGroupConfig()
	cfg.Misc.InitialLeafValue = nil
	deployer, _ := newTestDeployer(t, client, creator, cfg)

	verifiers := map[types.StepID]common.Address{
		"verifier/insertion/30/10":  common.HexToAddress("0x10"),
		"verifier/insertion/30/100": common.HexToAddress("0x100"),
	}
	step := planner.Step{ID: planner.GroupStepID(1), Kind: planner.StepRegisterGroup, Group: 1}

	_, err := deployer.Execute(context.Background(), step, func(id types.StepID) (common.Address, bool) {
		a, ok := verifiers[id]
		return a, ok
	})
	c.Assert(err, qt.IsNil)

	// with neither a group root nor a leaf value configured, the root
	// argument is still a well-formed zero word
	c.Assert(creator.created, qt.HasLen, 1)
	args := strings.Join(creator.created[0].Args(), " ")
	c.Assert(args, qt.Contains, "--constructor-args 0x"+strings.Repeat("0", 64))
}

func TestExecuteRegisterGroupMissingVerifier(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{}
	creator := &mockCreator{}
	deployer, _ := newTestDeployer(t, client, creator, testGroupConfig())

	step := planner.Step{ID: planner.GroupStepID(1), Kind: planner.StepRegisterGroup, Group: 1}
	_, err := deployer.Execute(context.Background(), step, func(types.StepID) (common.Address, bool) {
		return common.Address{}, false
	})

	var failErr *DeploymentFailedError
	c.Assert(err, qt.ErrorAs, &failErr)
	c.Assert(failErr.Step, qt.Equals, types.StepID("group/1"))
	c.Assert(failErr, qt.ErrorMatches, ".*no deployed verifier.*")
}

func TestExecuteDeployRouter(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{}
	creator := &mockCreator{}
	cfg := testGroupConfig()
	cfg.Misc.DeployRouter = true
	deployer, _ := newTestDeployer(t, client, creator, cfg)

	dispatcher := common.HexToAddress("0xd1")
	step := planner.Step{ID: planner.RouterStepID, Kind: planner.StepDeployRouter}
	addr, err := deployer.Execute(context.Background(), step, func(id types.StepID) (common.Address, bool) {
		if id == planner.GroupStepID(1) {
			return dispatcher, true
		}
		return common.Address{}, false
	})
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, common.BytesToAddress([]byte{1}))
	c.Assert(client.calls, qt.HasLen, 1)

	routerABI, err := solidity.RouterABI()
	c.Assert(err, qt.IsNil)
	method, err := routerABI.MethodById(client.calls[0].data[:4])
	c.Assert(err, qt.IsNil)
	c.Assert(method.Name, qt.Equals, "updateGroup")
}

func TestExecuteRetriesTransient(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{}
	creator := &mockCreator{errs: []error{fmt.Errorf("connection refused"), nil}}
	deployer, _ := newTestDeployer(t, client, creator, testGroupConfig())

	key := types.ArtifactKey{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 10}
	step := planner.Step{ID: planner.VerifierStepID(key), Kind: planner.StepDeployVerifier, Key: key}
	_, err := deployer.Execute(context.Background(), step, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(creator.created, qt.HasLen, 2)
	// the failed attempt reconciles the nonce before retrying
	c.Assert(client.resets, qt.Equals, 1)
}

func TestExecutePermanentFailureNotRetried(t *testing.T) {
	c := qt.New(t)

	client := &mockTxClient{}
	creator := &mockCreator{errs: []error{fmt.Errorf("insufficient funds for gas")}}
	deployer, _ := newTestDeployer(t, client, creator, testGroupConfig())

	key := types.ArtifactKey{Mode: types.ProverModeInsertion, TreeDepth: 30, BatchSize: 10}
	step := planner.Step{ID: planner.VerifierStepID(key), Kind: planner.StepDeployVerifier, Key: key}
	_, err := deployer.Execute(context.Background(), step, nil)

	var failErr *DeploymentFailedError
	c.Assert(err, qt.ErrorAs, &failErr)
	c.Assert(creator.created, qt.HasLen, 1)
}
