package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for the home page.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Currency describes the native currency of a chain.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainDescriptor is the fixed chain a wallet client is bound to.
type ChainDescriptor struct {
	ID       *big.Int `json:"id"`
	Name     string   `json:"name"`
	Currency Currency `json:"currency"`
	RPCURL   string   `json:"rpc_url"`
	Explorer string   `json:"explorer,omitempty"`
}

// Reader is the read-only "public client" view of a chain.
type Reader interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Broadcaster exposes what a local signer needs to assemble and broadcast a
// transaction.
type Broadcaster interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	Reader
	Broadcaster
	Close()
}

// ErrReceiptTimeout is returned when a transaction is not mined before the
// configured deadline.
var ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

// ReadContract packs a view call, executes it against the reader and unpacks
// the outputs.
func ReadContract(ctx context.Context, reader Reader, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	if reader == nil {
		return nil, errors.New("chain reader is not initialised")
	}
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := reader.CallContract(ctx, gethcore.CallMsg{To: &to, Data: input})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
