package agents

import (
	"context"
	"strings"

	"x402-Dashboard/internal/activity"
	"x402-Dashboard/internal/backend"
	"x402-Dashboard/internal/contracts"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/events"
	"x402-Dashboard/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CreateRequest is the agent creation form.
type CreateRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	PaymentToken string `json:"payment_token"`
}

// CreateResult describes a deployed and registered agent.
type CreateResult struct {
	Agent           backend.Agent `json:"agent"`
	ContractAddress string        `json:"contract_address"`
	TxHash          string        `json:"tx_hash"`
}

// Create deploys an agent contract owned by the connected account and
// registers it with the backend. Every step depends on the previous one; a
// registration failure leaves the deployed contract unrecorded and is not
// retried.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	client := s.session.Wallet()
	if client == nil {
		return CreateResult{}, xerrors.New(xerrors.CodeWalletDisconnected, "")
	}
	if s.paymentHandler == "" {
		return CreateResult{}, xerrors.New(xerrors.CodeMissingConfiguration, "x402 payment handler contract is not configured",
			xerrors.WithMetadata("setting", "X402_PAYMENT_CONTRACT"))
	}
	if !common.IsHexAddress(s.paymentHandler) {
		return CreateResult{}, xerrors.New(xerrors.CodeMissingConfiguration, "x402 payment handler contract is not a valid address",
			xerrors.WithMetadata("setting", "X402_PAYMENT_CONTRACT"))
	}
	if len(s.bytecode) == 0 {
		return CreateResult{}, xerrors.New(xerrors.CodeMissingConfiguration, "agent contract bytecode is not configured",
			xerrors.WithMetadata("setting", "AGENT_BYTECODE"))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return CreateResult{}, xerrors.New(xerrors.CodeInvalidArgument, "agent name is required",
			xerrors.WithMetadata("field", "name"))
	}
	token, err := parseAddress(req.PaymentToken, "payment_token")
	if err != nil {
		return CreateResult{}, err
	}

	agentABI, err := contracts.AgentABI()
	if err != nil {
		return CreateResult{}, xerrors.Wrap(xerrors.CodeUnknown, err, "agent ABI is invalid")
	}

	owner := client.Account()
	handler := common.HexToAddress(s.paymentHandler)
	log := s.log.With("owner", owner.Hex())

	// 1-2: encode the constructor call and submit the deployment.
	hash, err := client.DeployContract(ctx, agentABI, s.bytecode, handler, token, owner)
	if err != nil {
		log.Warn("合约部署提交失败", "error", err)
		s.record(ctx, activity.Entry{Kind: activity.KindDeploy, Account: owner.Hex(), Status: activity.StatusFailed, Detail: err.Error()})
		return CreateResult{}, walletError(err, "failed to submit agent deployment")
	}
	txHash := hash.Hex()
	log = log.With("tx_hash", txHash)

	// 3: wait for the mined receipt.
	receipt, err := s.session.Public().WaitForReceipt(ctx, hash)
	if err != nil {
		log.Warn("等待部署回执失败", "error", err)
		s.record(ctx, activity.Entry{Kind: activity.KindDeploy, Account: owner.Hex(), TxHash: txHash, Status: activity.StatusFailed, Detail: err.Error()})
		return CreateResult{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "agent deployment was not mined",
			xerrors.WithMetadata("tx_hash", txHash))
	}

	// 4: the receipt must carry the new contract address.
	if receipt.Status == types.ReceiptStatusFailed {
		log.Warn("合约部署交易被回滚")
		s.record(ctx, activity.Entry{Kind: activity.KindDeploy, Account: owner.Hex(), TxHash: txHash, Status: activity.StatusFailed, Detail: "reverted"})
		return CreateResult{}, xerrors.New(xerrors.CodeChainFailure, "agent deployment reverted",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	if receipt.ContractAddress == (common.Address{}) {
		log.Warn("部署回执缺少合约地址")
		s.record(ctx, activity.Entry{Kind: activity.KindDeploy, Account: owner.Hex(), TxHash: txHash, Status: activity.StatusFailed, Detail: "receipt without contract address"})
		return CreateResult{}, xerrors.New(xerrors.CodeMissingReceiptField, "deployment receipt has no contract address",
			xerrors.WithMetadata("tx_hash", txHash))
	}
	contractAddress := receipt.ContractAddress.Hex()
	log = log.With("contract_address", contractAddress)

	s.record(ctx, activity.Entry{Kind: activity.KindDeploy, Account: owner.Hex(), AgentAddress: contractAddress, TxHash: txHash, Status: activity.StatusSuccess})
	logger.Audit().Info("agent deployed", "owner", owner.Hex(), "contract_address", contractAddress, "tx_hash", txHash)
	deployed := events.NewEvent(events.TypeAgentDeployed, owner.Hex())
	deployed.AgentAddress, deployed.TxHash = contractAddress, txHash
	events.Emit(ctx, s.events, deployed)

	// 5: register with the backend.
	agent, err := s.backend.CreateAgent(ctx, backend.CreateAgentRequest{
		UserWalletAddress: owner.Hex(),
		Name:              name,
		Description:       strings.TrimSpace(req.Description),
		ContractAddress:   contractAddress,
	})
	if err != nil {
		log.Error("智能体合约已部署但登记失败", "error", err)
		s.record(ctx, activity.Entry{Kind: activity.KindRegister, Account: owner.Hex(), AgentAddress: contractAddress, TxHash: txHash, Status: activity.StatusFailed, Detail: err.Error()})
		logger.Audit().Warn("agent registration failed", "owner", owner.Hex(), "contract_address", contractAddress, "tx_hash", txHash, "error", err.Error())
		failed := events.NewEvent(events.TypeAgentRegistrationFailed, owner.Hex())
		failed.AgentAddress, failed.TxHash = contractAddress, txHash
		events.Emit(ctx, s.events, failed)
		return CreateResult{}, xerrors.Wrap(xerrors.CodeRegistrationFailure, err, "",
			xerrors.WithMetadata("contract_address", contractAddress),
			xerrors.WithMetadata("tx_hash", txHash))
	}

	if err := s.cache.Invalidate(ctx, "agents"); err != nil {
		log.Warn("刷新智能体列表缓存失败", "error", err)
	}
	s.record(ctx, activity.Entry{Kind: activity.KindRegister, Account: owner.Hex(), AgentAddress: contractAddress, TxHash: txHash, Status: activity.StatusSuccess, Detail: agent.ID})
	registered := events.NewEvent(events.TypeAgentRegistered, owner.Hex())
	registered.AgentAddress, registered.TxHash = contractAddress, txHash
	events.Emit(ctx, s.events, registered)
	log.Info("智能体创建完成", "agent_id", agent.ID)

	return CreateResult{Agent: agent, ContractAddress: contractAddress, TxHash: txHash}, nil
}
