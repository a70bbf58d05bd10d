package config

// MonadTestnetChainID 是默认链 ID。
const MonadTestnetChainID int64 = 10143

// 钱包 provider 类型。
const (
	WalletProviderNone = "none"
	WalletProviderRPC  = "rpc"
	WalletProviderKey  = "key"
)

// ServiceType 表示市场服务的分类。
type ServiceType string

const (
	ServiceTypeStrategy    ServiceType = "strategy"
	ServiceTypeRiskControl ServiceType = "risk_control"
	ServiceTypeDataSource  ServiceType = "data_source"
	ServiceTypeOther       ServiceType = "other"
)

// ServiceTypes 按展示顺序列出全部服务类型。
var ServiceTypes = []ServiceType{
	ServiceTypeStrategy,
	ServiceTypeRiskControl,
	ServiceTypeDataSource,
	ServiceTypeOther,
}

// ValidServiceType 判断类型是否合法，空字符串表示不过滤。
func ValidServiceType(t string) bool {
	if t == "" {
		return true
	}
	for _, known := range ServiceTypes {
		if string(known) == t {
			return true
		}
	}
	return false
}

// AgentStatus 表示智能体的运行状态。
type AgentStatus string

const (
	AgentStatusActive              AgentStatus = "active"
	AgentStatusPaused              AgentStatus = "paused"
	AgentStatusInsufficientBalance AgentStatus = "insufficient_balance"
)

// TransactionStatus 表示交易状态。
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// PaymentType 表示 x402 支付方式。
type PaymentType string

const (
	PaymentTypeServiceCall  PaymentType = "service_call"
	PaymentTypeSubscription PaymentType = "subscription"
)
