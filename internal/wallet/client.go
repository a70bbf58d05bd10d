package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"x402-Dashboard/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// WalletClient is the transaction capable client bound to one account and a
// fixed chain.
type WalletClient struct {
	provider Provider
	account  common.Address
	chain    web3.ChainDescriptor
}

func newWalletClient(provider Provider, account common.Address, chain web3.ChainDescriptor) *WalletClient {
	return &WalletClient{provider: provider, account: account, chain: chain}
}

// Account returns the signing account.
func (c *WalletClient) Account() common.Address {
	return c.account
}

// Chain returns the chain the client is bound to.
func (c *WalletClient) Chain() web3.ChainDescriptor {
	return c.chain
}

// SendTransaction submits raw call data. A nil to deploys a contract. The
// provider must report the bound chain before anything is signed.
func (c *WalletClient) SendTransaction(ctx context.Context, to *common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if c == nil || c.provider == nil {
		return common.Hash{}, errors.New("wallet client is not connected")
	}
	if err := c.assertChain(ctx); err != nil {
		return common.Hash{}, err
	}
	return c.provider.SendTransaction(ctx, TxRequest{From: c.account, To: to, Data: data, Value: value})
}

func (c *WalletClient) assertChain(ctx context.Context) error {
	if c.chain.ID == nil {
		return nil
	}
	current, err := c.provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("wallet chain id: %w", err)
	}
	if current == nil || current.Cmp(c.chain.ID) != 0 {
		return fmt.Errorf("%w: expected %s (id %s), got %v", ErrChainMismatch, c.chain.Name, c.chain.ID, current)
	}
	return nil
}

// DeployContract appends the packed constructor arguments to bytecode and
// sends the contract creation transaction.
func (c *WalletClient) DeployContract(ctx context.Context, contractABI abi.ABI, bytecode []byte, args ...any) (common.Hash, error) {
	if len(bytecode) == 0 {
		return common.Hash{}, errors.New("contract bytecode is empty")
	}
	ctorArgs, err := contractABI.Pack("", args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack constructor: %w", err)
	}
	data := make([]byte, 0, len(bytecode)+len(ctorArgs))
	data = append(data, bytecode...)
	data = append(data, ctorArgs...)
	return c.SendTransaction(ctx, nil, data, nil)
}

// WriteContract sends a state changing call to method on the contract at to.
func (c *WalletClient) WriteContract(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) (common.Hash, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return c.SendTransaction(ctx, &to, input, nil)
}
