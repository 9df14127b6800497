package web3

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	qt "github.com/frankban/quicktest"
)

const testPrivKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	pendingNonce uint64
	nonceCalls   int
	sent         []*ethtypes.Transaction
	sendErr      error
	receipts     map[common.Hash]*ethtypes.Receipt
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: map[common.Hash]*ethtypes.Receipt{}}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(31337), nil }
func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 100, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.nonceCalls++
	return b.pendingNonce, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{BaseFee: big.NewInt(10)}, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	b.receipts[tx.Hash()] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return receipt, nil
}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	client, err := newClient(backend, big.NewInt(31337), testPrivKey)
	qt.Assert(t, err, qt.IsNil)
	return client
}

func TestNextNonceMonotonic(t *testing.T) {
	c := qt.New(t)

	backend := newFakeBackend()
	backend.pendingNonce = 5
	client := newTestClient(t, backend)

	ctx := context.Background()
	for want := uint64(5); want < 8; want++ {
		got, err := client.NextNonce(ctx)
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, want)
	}
	// only the first reservation hits the provider
	c.Assert(backend.nonceCalls, qt.Equals, 1)

	client.ResetNonce()
	got, err := client.NextNonce(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, uint64(5))
	c.Assert(backend.nonceCalls, qt.Equals, 2)
}

func TestSendCall(t *testing.T) {
	c := qt.New(t)

	backend := newFakeBackend()
	client := newTestClient(t, backend)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	hash, err := client.SendCall(context.Background(), to, []byte{0x01, 0x02})
	c.Assert(err, qt.IsNil)
	c.Assert(backend.sent, qt.HasLen, 1)

	tx := backend.sent[0]
	c.Assert(tx.Hash(), qt.Equals, hash)
	c.Assert(*tx.To(), qt.Equals, to)
	c.Assert(tx.Nonce(), qt.Equals, uint64(0))
	c.Assert(tx.Data(), qt.DeepEquals, []byte{0x01, 0x02})
	// feeCap = 2*baseFee + tip
	c.Assert(tx.GasFeeCap().Int64(), qt.Equals, int64(22))

	c.Assert(client.WaitTx(context.Background(), hash), qt.IsNil)
}

func TestSendCallFailureReleasesNonce(t *testing.T) {
	c := qt.New(t)

	backend := newFakeBackend()
	backend.sendErr = fmt.Errorf("connection refused")
	client := newTestClient(t, backend)
	to := common.Address{}

	_, err := client.SendCall(context.Background(), to, nil)
	c.Assert(err, qt.ErrorMatches, ".*connection refused.*")

	// the reserved nonce is reusable after the failed send
	backend.sendErr = nil
	_, err = client.SendCall(context.Background(), to, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(backend.sent[0].Nonce(), qt.Equals, uint64(0))
}

func TestWaitTxReverted(t *testing.T) {
	c := qt.New(t)

	backend := newFakeBackend()
	client := newTestClient(t, backend)
	hash := common.HexToHash("0x1")
	backend.receipts[hash] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}

	err := client.WaitTx(context.Background(), hash)
	c.Assert(err, qt.ErrorMatches, ".*reverted.*")
}

func TestWaitTxContextExpiry(t *testing.T) {
	c := qt.New(t)

	backend := newFakeBackend()
	client := newTestClient(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := client.WaitTx(ctx, common.HexToHash("0x2"))
	c.Assert(err, qt.ErrorMatches, ".*context deadline exceeded.*")
}

func TestIsTransient(t *testing.T) {
	c := qt.New(t)

	c.Assert(isTransient(fmt.Errorf("dial tcp: connection refused")), qt.IsTrue)
	c.Assert(isTransient(fmt.Errorf("429 Too Many Requests")), qt.IsTrue)
	c.Assert(isTransient(fmt.Errorf("execution reverted")), qt.IsFalse)
	c.Assert(isTransient(nil), qt.IsFalse)
}
