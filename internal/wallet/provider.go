package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// userRejectedCode is the EIP-1193 error code for a request the user declined.
const userRejectedCode = 4001

// ErrRejected reports that the wallet owner declined a request.
var ErrRejected = errors.New("user rejected the request")

// ErrChainMismatch reports that the wallet is on a different chain than the
// one the dashboard is bound to.
var ErrChainMismatch = errors.New("wallet is connected to a different chain")

// TxRequest is a transaction the wallet signs as From and broadcasts. A nil
// To creates a contract.
type TxRequest struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// Provider is the injected wallet. RequestAccounts may prompt the owner;
// Accounts never does and returns only already-authorised accounts.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// RPCProvider talks to an EIP-1193 style wallet exposed over JSON-RPC.
type RPCProvider struct {
	client *rpc.Client
}

// DialRPCProvider connects to the wallet endpoint.
func DialRPCProvider(ctx context.Context, url string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("连接钱包 RPC 失败: %w", err)
	}
	return NewRPCProvider(client), nil
}

// NewRPCProvider wraps an existing RPC client.
func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

// RequestAccounts issues eth_requestAccounts.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, mapRPCError("eth_requestAccounts", err)
	}
	return accounts, nil
}

// Accounts issues eth_accounts.
func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, mapRPCError("eth_accounts", err)
	}
	return accounts, nil
}

// ChainID issues eth_chainId.
func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, mapRPCError("eth_chainId", err)
	}
	return id.ToInt(), nil
}

type sendArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

// SendTransaction issues eth_sendTransaction and lets the wallet sign.
func (p *RPCProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	args := sendArgs{From: req.From, To: req.To, Data: req.Data}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	var hash common.Hash
	if err := p.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, mapRPCError("eth_sendTransaction", err)
	}
	return hash, nil
}

// Close releases the RPC connection.
func (p *RPCProvider) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}

func mapRPCError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return fmt.Errorf("%s: %w: %s", method, ErrRejected, rpcErr.Error())
	}
	return fmt.Errorf("%s: %w", method, err)
}
