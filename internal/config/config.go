package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config 描述了仪表盘守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	API       APIConfig       `json:"api"`
	Web3      Web3Config      `json:"web3"`
	Contracts ContractsConfig `json:"contracts"`
	Wallet    WalletConfig    `json:"wallet"`
	Cache     CacheConfig     `json:"cache"`
	Storage   StorageConfig   `json:"storage"`
	Events    EventsConfig    `json:"events"`
	Logging   LoggingConfig   `json:"logging"`
	Alerting  AlertingConfig  `json:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制仪表盘 HTTP 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
	// APIToken 非空时，POST 接口需要携带 Authorization: Bearer <token>。
	APIToken string `json:"api_token"`
}

// APIConfig 描述外部后端 REST 服务的位置。
type APIConfig struct {
	BaseURL        string `json:"base_url"`
	Version        string `json:"version"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与链描述。
type Web3Config struct {
	RPCURL       string         `json:"rpc_url"`
	ChainConfig  string         `json:"chain_config"`
	DefaultChain string         `json:"default_chain"`
	ChainID      int64          `json:"chain_id"`
	ChainName    string         `json:"chain_name"`
	Currency     CurrencyConfig `json:"currency"`
	Explorer     ExplorerConfig `json:"explorer"`

	ReceiptTimeoutSeconds int `json:"receipt_timeout_seconds"`
	PollIntervalMillis    int `json:"poll_interval_millis"`
}

// CurrencyConfig 描述链的原生代币。
type CurrencyConfig struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ExplorerConfig 描述区块浏览器。
type ExplorerConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ContractsConfig 记录部署后的合约地址，均允许为空。
type ContractsConfig struct {
	Agent          string `json:"agent"`
	Service        string `json:"service"`
	Market         string `json:"market"`
	PaymentHandler string `json:"payment_handler"`
	// AgentBytecode 为十六进制字节码；AgentArtifact 指向包含 bytecode 字段的编译产物。
	AgentBytecode string `json:"agent_bytecode"`
	AgentArtifact string `json:"agent_artifact"`
}

// WalletConfig 描述钱包 provider 的来源。
type WalletConfig struct {
	Provider    string `json:"provider"`
	RPCURL      string `json:"rpc_url"`
	PrivateKey  string `json:"private_key"`
	AutoApprove bool   `json:"auto_approve"`
}

// CacheConfig 控制请求缓存的存储方式。
type CacheConfig struct {
	Driver       string      `json:"driver"`
	StaleSeconds int         `json:"stale_seconds"`
	Redis        RedisConfig `json:"redis"`
}

// RedisConfig 为缓存与事件共用的 Redis 连接参数。
type RedisConfig struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
	Queue  string `json:"queue"`
}

// StorageConfig 统一描述本地活动日志的持久化方式。
type StorageConfig struct {
	Activity ActivityStoreConfig `json:"activity"`
}

// ActivityStoreConfig 支持 memory 与 mysql 两种驱动。
type ActivityStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 控制仪表盘事件的投递渠道。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 投递参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 描述链上操作审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertingConfig 控制运维告警，未配置 webhook 时仅写入审计日志。
type AlertingConfig struct {
	WebhookURL  string `json:"webhook_url"`
	MinSeverity string `json:"min_severity"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 解析指定路径的 JSON 配置文件，文件不存在时仅使用环境变量与默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."

	if strings.TrimSpace(path) != "" {
		baseDir = filepath.Dir(path)
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			content, err := io.ReadAll(file)
			if err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
			if err := json.Unmarshal(content, &cfg); err != nil {
				return nil, fmt.Errorf("解析配置失败: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 没有配置文件时完全依赖环境变量。
		default:
			return nil, fmt.Errorf("打开配置文件失败: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)

	return &cfg, nil
}

// applyEnv 使用环境变量覆盖配置文件中的同名字段。
func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Contracts.Agent, "AGENT_CONTRACT_ADDRESS")
	set(&c.Contracts.Service, "SERVICE_CONTRACT_ADDRESS")
	set(&c.Contracts.Market, "MARKET_CONTRACT_ADDRESS")
	set(&c.Contracts.PaymentHandler, "X402_PAYMENT_CONTRACT")
	set(&c.Contracts.AgentBytecode, "AGENT_BYTECODE")
	set(&c.Contracts.AgentArtifact, "AGENT_ARTIFACT")

	set(&c.API.BaseURL, "API_BASE_URL")
	set(&c.API.Version, "API_VERSION")

	set(&c.Web3.RPCURL, "MONAD_RPC_URL")
	if raw := strings.TrimSpace(getenv("MONAD_CHAIN_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("MONAD_CHAIN_ID 不是合法整数: %w", err)
		}
		c.Web3.ChainID = id
	}
	set(&c.Web3.Explorer.URL, "MONAD_EXPLORER_URL")

	set(&c.Wallet.RPCURL, "WALLET_RPC_URL")
	set(&c.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")

	if url := strings.TrimSpace(getenv("REDIS_URL")); url != "" {
		c.Cache.Redis.URL = url
		if c.Events.Redis.URL == "" {
			c.Events.Redis.URL = url
		}
	}
	set(&c.Storage.Activity.DSN, "DATABASE_DSN")
	set(&c.Events.RabbitMQ.URL, "RABBITMQ_URL")
	set(&c.Logging.Level, "LOG_LEVEL")
	set(&c.Alerting.WebhookURL, "ALERT_WEBHOOK_URL")
	set(&c.Server.APIToken, "X402_API_TOKEN")
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	if c.API.Version == "" {
		c.API.Version = "/api/v1"
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 15
	}

	c.applyChainDefaults()

	if c.Wallet.Provider == "" {
		switch {
		case c.Wallet.RPCURL != "":
			c.Wallet.Provider = WalletProviderRPC
		case c.Wallet.PrivateKey != "":
			c.Wallet.Provider = WalletProviderKey
		default:
			c.Wallet.Provider = WalletProviderNone
		}
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.StaleSeconds < 0 {
		c.Cache.StaleSeconds = 0
	} else if c.Cache.StaleSeconds == 0 {
		c.Cache.StaleSeconds = 30
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "x402:query"
	}

	if c.Storage.Activity.Driver == "" {
		c.Storage.Activity.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.Redis.Queue == "" {
		c.Events.Redis.Queue = "x402:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "x402.events"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}

	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "critical"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, c.Logging.Audit.Path)
	}
	if c.Contracts.AgentArtifact != "" && !filepath.IsAbs(c.Contracts.AgentArtifact) {
		c.Contracts.AgentArtifact = filepath.Join(baseDir, c.Contracts.AgentArtifact)
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
}

// applyChainDefaults 默认指向 Monad 测试网。
func (c *Config) applyChainDefaults() {
	w := &c.Web3
	if w.ChainID == 0 {
		w.ChainID = MonadTestnetChainID
	}
	if w.ChainName == "" {
		w.ChainName = "Monad Testnet"
	}
	if w.RPCURL == "" {
		w.RPCURL = "https://rpc.ankr.com/monad_testnet"
	}
	if w.Currency.Symbol == "" {
		w.Currency = CurrencyConfig{Name: "MON", Symbol: "MON", Decimals: 18}
	}
	if w.Currency.Decimals == 0 {
		w.Currency.Decimals = 18
	}
	if w.Explorer.URL == "" {
		w.Explorer.URL = "https://testnet.monadexplorer.com"
	}
	if w.Explorer.Name == "" {
		w.Explorer.Name = "Monad Explorer"
	}
	if w.ReceiptTimeoutSeconds <= 0 {
		w.ReceiptTimeoutSeconds = 120
	}
	if w.PollIntervalMillis <= 0 {
		w.PollIntervalMillis = 1000
	}
}

// APIEndpoint 返回带版本前缀的后端地址。
func (c *Config) APIEndpoint() string {
	base := strings.TrimRight(c.API.BaseURL, "/")
	version := strings.TrimSpace(c.API.Version)
	if version == "" {
		return base
	}
	if !strings.HasPrefix(version, "/") {
		version = "/" + version
	}
	return base + strings.TrimRight(version, "/")
}
