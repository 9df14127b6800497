// Package web3 executes deployment steps against an EVM chain. Contract
// creation is delegated to forge; wiring transactions (dispatcher and
// router updates) are assembled, signed and sent directly through the RPC
// client.
package web3

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zkgroups/deployer/log"
)

const (
	// waitTxInterval is the receipt polling interval.
	waitTxInterval = 1 * time.Second
	// baseFeeMultiplier headroom over the current base fee when pricing a
	// transaction.
	baseFeeMultiplier = 2
)

// ethBackend is the slice of the RPC client surface the deployer uses.
type ethBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Client signs and submits transactions from a single account. Nonces are
// reserved monotonically so steps submitted in plan order cannot race each
// other.
type Client struct {
	cli     ethBackend
	chainID *big.Int
	priv    *ecdsa.PrivateKey
	addr    common.Address

	nonceMu   sync.Mutex
	nonce     uint64
	nonceInit bool
}

// Dial connects to the RPC endpoint and prepares a signer from the hex
// encoded private key.
func Dial(ctx context.Context, rpcURL, hexPrivKey string) (*Client, error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	client, err := newClient(cli, chainID, hexPrivKey)
	if err != nil {
		return nil, err
	}
	lastBlock, err := cli.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	log.Infow("web3 client initialized",
		"chainID", chainID.Uint64(),
		"account", client.addr.Hex(),
		"lastBlock", lastBlock,
	)
	return client, nil
}

func newClient(cli ethBackend, chainID *big.Int, hexPrivKey string) (*Client, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(hexPrivKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Client{
		cli:     cli,
		chainID: chainID,
		priv:    priv,
		addr:    crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// Address returns the signing account address.
func (c *Client) Address() common.Address {
	return c.addr
}

// ChainID returns the connected chain id.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// NextNonce reserves the next account nonce. The first call reconciles with
// the provider's pending nonce; later calls increment locally.
func (c *Client) NextNonce(ctx context.Context) (uint64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	if !c.nonceInit {
		pending, err := c.cli.PendingNonceAt(ctx, c.addr)
		if err != nil {
			return 0, fmt.Errorf("pending nonce: %w", err)
		}
		c.nonce = pending
		c.nonceInit = true
	}
	n := c.nonce
	c.nonce++
	return n, nil
}

// ResetNonce drops the local counter; the next NextNonce call reconciles
// with the provider's pending nonce.
func (c *Client) ResetNonce() {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	c.nonceInit = false
}

// releaseNonce returns an unused reservation after a failed send, so the
// next transaction does not leave a gap the chain will never fill.
func (c *Client) releaseNonce(n uint64) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	if c.nonceInit && c.nonce == n+1 {
		c.nonce = n
	}
}

// SendCall signs and submits a contract call transaction and returns its
// hash. The caller is expected to WaitTx before sending dependent calls.
func (c *Client) SendCall(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := c.NextNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tipCap, err := c.cli.SuggestGasTipCap(ctx)
	if err != nil {
		c.releaseNonce(nonce)
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := c.cli.HeaderByNumber(ctx, nil)
	if err != nil {
		c.releaseNonce(nonce)
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(baseFeeMultiplier)),
		tipCap,
	)
	gas, err := c.cli.EstimateGas(ctx, ethereum.CallMsg{
		From: c.addr,
		To:   &to,
		Data: data,
	})
	if err != nil {
		c.releaseNonce(nonce)
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	inner := &ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	}
	signed, err := ethtypes.SignNewTx(c.priv, ethtypes.LatestSignerForChainID(c.chainID), inner)
	if err != nil {
		c.releaseNonce(nonce)
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.cli.SendTransaction(ctx, signed); err != nil {
		if isAlreadyKnown(err) {
			return signed.Hash(), nil
		}
		c.releaseNonce(nonce)
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}

// WaitTx polls until the transaction is mined, then checks its status. It
// returns an error if the context expires first or the transaction
// reverted.
func (c *Client) WaitTx(ctx context.Context, txHash common.Hash) error {
	for {
		receipt, err := c.cli.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for tx %s: %w", txHash.Hex(), ctx.Err())
		case <-time.After(waitTxInterval):
		}
	}
}

// Error classifiers
func isAlreadyKnown(err error) bool {
	return containsErr(err, "already known")
}

func isTransient(err error) bool {
	return containsErr(err, "connection refused") ||
		containsErr(err, "connection reset") ||
		containsErr(err, "timeout") ||
		containsErr(err, "deadline exceeded") ||
		containsErr(err, "too many requests") ||
		containsErr(err, "unexpected EOF") ||
		containsErr(err, "502") ||
		containsErr(err, "503")
}

func containsErr(err error, sub string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(sub))
}
