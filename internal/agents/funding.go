package agents

import (
	"context"
	"fmt"
	"math/big"

	"x402-Dashboard/internal/activity"
	"x402-Dashboard/internal/backend"
	"x402-Dashboard/internal/contracts"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/events"
	"x402-Dashboard/internal/querycache"
	"x402-Dashboard/internal/web3"
	"x402-Dashboard/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DepositRequest funds an agent with its payment token.
type DepositRequest struct {
	AgentAddress string `json:"agent_address"`
	Amount       string `json:"amount"`
}

// DepositResult describes a mined deposit.
type DepositResult struct {
	TxHash string `json:"tx_hash"`
	Token  string `json:"token"`
	// Units is the amount in token base units.
	Units string `json:"units"`
}

// Balance is an agent's on-chain payment token balance.
type Balance struct {
	Token     string `json:"token"`
	Units     string `json:"units"`
	Formatted string `json:"formatted"`
}

// Deposit reads the agent's payment token, sends deposit(token, amount) and
// waits for the receipt. No token allowance is requested beforehand.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	client := s.session.Wallet()
	if client == nil {
		return DepositResult{}, xerrors.New(xerrors.CodeWalletDisconnected, "")
	}
	agent, err := parseAddress(req.AgentAddress, "agent_address")
	if err != nil {
		return DepositResult{}, err
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return DepositResult{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, err.Error(),
			xerrors.WithMetadata("field", "amount"))
	}

	agentABI, err := contracts.AgentABI()
	if err != nil {
		return DepositResult{}, xerrors.Wrap(xerrors.CodeUnknown, err, "agent ABI is invalid")
	}
	token, err := s.paymentToken(ctx, agent)
	if err != nil {
		return DepositResult{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "failed to read agent payment token",
			xerrors.WithMetadata("agent_address", agent.Hex()))
	}

	owner := client.Account()
	log := s.log.With("owner", owner.Hex(), "agent_address", agent.Hex())

	hash, err := client.WriteContract(ctx, agent, agentABI, contracts.MethodDeposit, token, amount)
	if err != nil {
		log.Warn("充值交易提交失败", "error", err)
		s.record(ctx, activity.Entry{Kind: activity.KindDeposit, Account: owner.Hex(), AgentAddress: agent.Hex(), Status: activity.StatusFailed, Detail: err.Error()})
		return DepositResult{}, walletError(err, "failed to submit deposit")
	}
	txHash := hash.Hex()

	receipt, err := s.session.Public().WaitForReceipt(ctx, hash)
	if err != nil {
		log.Warn("等待充值回执失败", "tx_hash", txHash, "error", err)
		s.record(ctx, activity.Entry{Kind: activity.KindDeposit, Account: owner.Hex(), AgentAddress: agent.Hex(), TxHash: txHash, Status: activity.StatusFailed, Detail: err.Error()})
		return DepositResult{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "deposit was not mined",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	if receipt.Status == types.ReceiptStatusFailed {
		log.Warn("充值交易被回滚", "tx_hash", txHash)
		s.record(ctx, activity.Entry{Kind: activity.KindDeposit, Account: owner.Hex(), AgentAddress: agent.Hex(), TxHash: txHash, Status: activity.StatusFailed, Detail: "reverted"})
		return DepositResult{}, xerrors.New(xerrors.CodeChainFailure, "deposit reverted",
			xerrors.WithMetadata("tx_hash", txHash))
	}

	if err := s.cache.Invalidate(ctx, "agent-balance", agent.Hex()); err != nil {
		log.Warn("刷新余额缓存失败", "error", err)
	}
	s.record(ctx, activity.Entry{Kind: activity.KindDeposit, Account: owner.Hex(), AgentAddress: agent.Hex(), TxHash: txHash, Status: activity.StatusSuccess, Detail: FormatAmount(amount)})
	logger.Audit().Info("agent deposit", "owner", owner.Hex(), "agent_address", agent.Hex(), "token", token.Hex(), "units", amount.String(), "tx_hash", txHash)
	confirmed := events.NewEvent(events.TypeDepositConfirmed, owner.Hex())
	confirmed.AgentAddress, confirmed.TxHash, confirmed.Amount = agent.Hex(), txHash, FormatAmount(amount)
	events.Emit(ctx, s.events, confirmed)
	log.Info("充值完成", "tx_hash", txHash, "units", amount.String())

	return DepositResult{TxHash: txHash, Token: token.Hex(), Units: amount.String()}, nil
}

// Balance reads getBalance(paymentToken()) of an agent through the cache.
func (s *Service) Balance(ctx context.Context, agentAddress string) (Balance, error) {
	agent, err := parseAddress(agentAddress, "agent_address")
	if err != nil {
		return Balance{}, err
	}
	return s.balance(ctx, agent)
}

// RefreshBalance drops the cached balance and re-reads it. From then on the
// on-chain value is preferred over the backend's for this agent.
func (s *Service) RefreshBalance(ctx context.Context, agentAddress string) (Balance, error) {
	agent, err := parseAddress(agentAddress, "agent_address")
	if err != nil {
		return Balance{}, err
	}
	if err := s.cache.Invalidate(ctx, "agent-balance", agent.Hex()); err != nil {
		s.log.Warn("刷新余额缓存失败", "agent_address", agent.Hex(), "error", err)
	}
	balance, err := s.balance(ctx, agent)
	if err != nil {
		return Balance{}, err
	}
	s.markRefreshed(agent)
	return balance, nil
}

// DisplayBalance returns the on-chain balance once the agent was explicitly
// refreshed. ok is false when the backend value should be shown.
func (s *Service) DisplayBalance(ctx context.Context, agent backend.Agent) (string, bool) {
	if !common.IsHexAddress(agent.ContractAddress) {
		return "", false
	}
	address := common.HexToAddress(agent.ContractAddress)
	if !s.isRefreshed(address) {
		return "", false
	}
	balance, err := s.balance(ctx, address)
	if err != nil {
		s.log.Warn("读取链上余额失败，使用后端余额", "agent_address", address.Hex(), "error", err)
		return "", false
	}
	return balance.Formatted, true
}

func (s *Service) balance(ctx context.Context, agent common.Address) (Balance, error) {
	balance, err := querycache.Fetch(ctx, s.cache, querycache.Key{"agent-balance", agent.Hex()}, func(ctx context.Context) (Balance, error) {
		token, err := s.paymentToken(ctx, agent)
		if err != nil {
			return Balance{}, err
		}
		agentABI, err := contracts.AgentABI()
		if err != nil {
			return Balance{}, err
		}
		out, err := web3.ReadContract(ctx, s.session.Public(), agent, agentABI, contracts.MethodGetBalance, token)
		if err != nil {
			return Balance{}, err
		}
		if len(out) != 1 {
			return Balance{}, fmt.Errorf("unexpected getBalance output %v", out)
		}
		units, ok := out[0].(*big.Int)
		if !ok {
			return Balance{}, fmt.Errorf("unexpected getBalance output type %T", out[0])
		}
		return Balance{Token: token.Hex(), Units: baseUnits(units), Formatted: FormatAmount(units)}, nil
	})
	if err != nil {
		return Balance{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "failed to read agent balance",
			xerrors.WithMetadata("agent_address", agent.Hex()))
	}
	return balance, nil
}

func (s *Service) paymentToken(ctx context.Context, agent common.Address) (common.Address, error) {
	agentABI, err := contracts.AgentABI()
	if err != nil {
		return common.Address{}, err
	}
	out, err := web3.ReadContract(ctx, s.session.Public(), agent, agentABI, contracts.MethodPaymentToken)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected paymentToken output %v", out)
	}
	token, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected paymentToken output type %T", out[0])
	}
	return token, nil
}
