package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"x402-Dashboard/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Approver decides whether an account may be exposed to the dashboard.
type Approver interface {
	Approve(ctx context.Context, account common.Address) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, account common.Address) (bool, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, account common.Address) (bool, error) {
	return f(ctx, account)
}

// AutoApprove grants every request.
func AutoApprove() Approver {
	return ApproverFunc(func(context.Context, common.Address) (bool, error) { return true, nil })
}

// KeyProvider is a wallet backed by a local private key. Transactions are
// signed as EIP-1559 dynamic fee transactions and broadcast through chain.
type KeyProvider struct {
	key      *ecdsa.PrivateKey
	account  common.Address
	chain    web3.Broadcaster
	approver Approver

	mu         sync.Mutex
	authorized bool

	// sendMu is held from the nonce lookup until the broadcast returns.
	sendMu    sync.Mutex
	nextNonce uint64
}

// NewKeyProvider parses a hex encoded secp256k1 key.
func NewKeyProvider(hexKey string, chain web3.Broadcaster, approver Approver) (*KeyProvider, error) {
	if chain == nil {
		return nil, errors.New("key provider requires a chain backend")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	return &KeyProvider{
		key:      key,
		account:  crypto.PubkeyToAddress(key.PublicKey),
		chain:    chain,
		approver: approver,
	}, nil
}

// Address returns the key's account.
func (p *KeyProvider) Address() common.Address {
	return p.account
}

// Authorize marks the account as already exposed so Accounts returns it.
func (p *KeyProvider) Authorize() {
	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
}

// RequestAccounts asks the approver before exposing the account.
func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if p.isAuthorized() {
		return []common.Address{p.account}, nil
	}
	if p.approver == nil {
		return nil, ErrRejected
	}
	ok, err := p.approver.Approve(ctx, p.account)
	if err != nil {
		return nil, fmt.Errorf("approve account: %w", err)
	}
	if !ok {
		return nil, ErrRejected
	}
	p.Authorize()
	return []common.Address{p.account}, nil
}

// Accounts never prompts.
func (p *KeyProvider) Accounts(context.Context) ([]common.Address, error) {
	if p.isAuthorized() {
		return []common.Address{p.account}, nil
	}
	return []common.Address{}, nil
}

// ChainID reports the chain the key signs for.
func (p *KeyProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return p.chain.ChainID(ctx)
}

// SendTransaction fills nonce, fees and gas from the chain, signs and
// broadcasts. Sends from one provider are serialized so concurrent callers
// never sign with the same nonce.
func (p *KeyProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if !p.isAuthorized() {
		return common.Hash{}, fmt.Errorf("account %s is not authorised: %w", p.account.Hex(), ErrRejected)
	}
	if req.From != (common.Address{}) && req.From != p.account {
		return common.Hash{}, fmt.Errorf("cannot sign for %s with key of %s", req.From.Hex(), p.account.Hex())
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	chainID, err := p.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := p.chain.PendingNonceAt(ctx, p.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	// the node's pending view can trail a broadcast we just made
	if nonce < p.nextNonce {
		nonce = p.nextNonce
	}
	tip, err := p.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := p.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := p.chain.EstimateGas(ctx, gethcore.CallMsg{
		From:      p.account,
		To:        req.To,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Value:     value,
		Data:      req.Data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := p.chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	p.nextNonce = nonce + 1
	return signed.Hash(), nil
}

func (p *KeyProvider) isAuthorized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}
