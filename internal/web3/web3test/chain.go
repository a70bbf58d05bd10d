// Package web3test provides an in-memory chain for tests of packages that
// depend on web3.Client.
package web3test

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"x402-Dashboard/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is a scriptable web3.Client. Zero values are usable; unset receipts
// make WaitForReceipt fail with web3.ErrReceiptTimeout.
type Chain struct {
	mu sync.Mutex

	ID    *big.Int
	Block uint64

	// OnCall answers eth_call. Returning nil output and nil error yields an
	// empty result.
	OnCall func(msg gethcore.CallMsg) ([]byte, error)
	// OnSend is invoked for every broadcast transaction and may register a
	// receipt with SetReceipt.
	OnSend func(tx *types.Transaction) error

	Calls    []gethcore.CallMsg
	Sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	waited   []common.Hash
	nonces   map[common.Address]uint64
	closed   bool
}

var _ web3.Client = (*Chain)(nil)

// NewChain returns a chain reporting the given chain id.
func NewChain(chainID int64) *Chain {
	return &Chain{ID: big.NewInt(chainID), Block: 1}
}

// SetReceipt registers the receipt returned for hash.
func (c *Chain) SetReceipt(hash common.Hash, receipt *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receipts == nil {
		c.receipts = make(map[common.Hash]*types.Receipt)
	}
	receipt.TxHash = hash
	c.receipts[hash] = receipt
}

// Waited lists the hashes passed to WaitForReceipt.
func (c *Chain) Waited() []common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Hash(nil), c.waited...)
}

// CallCount returns the number of eth_call requests served.
func (c *Chain) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

func (c *Chain) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return web3.ChainSnapshot{
		ChainID:     "0x" + c.chainID().Text(16),
		BlockNumber: "0x" + new(big.Int).SetUint64(c.Block).Text(16),
		Notes:       "in-memory chain",
	}, nil
}

func (c *Chain) CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, msg)
	handler := c.OnCall
	c.mu.Unlock()
	if handler == nil {
		return nil, nil
	}
	return handler(msg)
}

func (c *Chain) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waited = append(c.waited, hash)
	if receipt, ok := c.receipts[hash]; ok {
		return receipt, nil
	}
	return nil, web3.ErrReceiptTimeout
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.chainID()), nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(c.Block),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

func (c *Chain) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("chain closed")
	}
	c.Sent = append(c.Sent, tx)
	if c.nonces == nil {
		c.nonces = make(map[common.Address]uint64)
	}
	if sender, err := types.Sender(types.LatestSignerForChainID(c.chainID()), tx); err == nil {
		c.nonces[sender] = tx.Nonce() + 1
	}
	c.Block++
	handler := c.OnSend
	c.mu.Unlock()

	if handler != nil {
		return handler(tx)
	}
	return nil
}

func (c *Chain) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Chain) chainID() *big.Int {
	if c.ID == nil {
		return big.NewInt(1337)
	}
	return c.ID
}
