package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"x402-Dashboard/internal/activity"
	"x402-Dashboard/internal/agents"
	"x402-Dashboard/internal/api"
	"x402-Dashboard/internal/auth"
	"x402-Dashboard/internal/backend"
	"x402-Dashboard/internal/config"
	"x402-Dashboard/internal/contracts"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/events"
	"x402-Dashboard/internal/market"
	"x402-Dashboard/internal/observability/alerting"
	"x402-Dashboard/internal/observability/metrics"
	"x402-Dashboard/internal/querycache"
	"x402-Dashboard/internal/storage/mysql"
	"x402-Dashboard/internal/transactions"
	"x402-Dashboard/internal/wallet"
	"x402-Dashboard/internal/web3"
	"x402-Dashboard/internal/web3/provider"
	"x402-Dashboard/pkg/logger"

	"github.com/joho/godotenv"
)

// main 是仪表盘守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("x402d 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时忽略。
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	configPath := os.Getenv("X402_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "x402.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("x402d")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3, provider.DialEthereum)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	public, chain, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}

	walletProvider, closeWallet, err := createWalletProvider(ctx, cfg.Wallet, public)
	if err != nil {
		return err
	}
	defer closeWallet()

	session := wallet.NewSession(walletProvider, public, chain)
	if state := session.Restore(ctx); state.Connected {
		appLog.Info("已恢复钱包会话", "address", state.Address)
	}

	cache, err := createCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer cache.Close()

	journal, err := createJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	publisher, err := events.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	httpClient, err := backend.NewClient(cfg.APIEndpoint(), nil)
	if err != nil {
		return err
	}

	bytecode, err := contracts.LoadAgentBytecode(cfg.Contracts.AgentBytecode, cfg.Contracts.AgentArtifact)
	if err != nil {
		return err
	}
	if len(bytecode) == 0 {
		appLog.Warn("未配置智能体合约字节码，创建智能体将不可用")
	}

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	server := api.NewServer(cfg.Server.Address, api.Services{
		Session: session,
		Agents: agents.NewService(session, httpClient, cache, agents.Options{
			PaymentHandler: cfg.Contracts.PaymentHandler,
			Bytecode:       bytecode,
			Journal:        journal,
			Events:         publisher,
		}),
		Market:       market.NewService(httpClient, cache),
		Transactions: transactions.NewService(session, cache),
		Journal:      journal,
		Contracts:    cfg.Contracts,
		Metrics:      metrics.NewRecorder(),
		Alerts:       alerting.NewFanout(xerrors.Severity(cfg.Alerting.MinSeverity), notifiers...),
		Guard:        auth.NewGuard(cfg.Server.APIToken),
	})

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createWalletProvider(ctx context.Context, cfg config.WalletConfig, chain web3.Broadcaster) (wallet.Provider, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case config.WalletProviderNone:
		return nil, noop, nil
	case config.WalletProviderRPC:
		p, err := wallet.DialRPCProvider(ctx, cfg.RPCURL)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	case config.WalletProviderKey:
		// POST /session/connect 本身即用户授权；auto_approve 额外允许启动时静默恢复。
		p, err := wallet.NewKeyProvider(strings.TrimSpace(cfg.PrivateKey), chain, wallet.AutoApprove())
		if err != nil {
			return nil, noop, err
		}
		if cfg.AutoApprove {
			p.Authorize()
		}
		return p, noop, nil
	default:
		return nil, noop, fmt.Errorf("未知的钱包 provider: %s", cfg.Provider)
	}
}

func createCache(ctx context.Context, cfg config.CacheConfig) (*querycache.Cache, error) {
	stale := time.Duration(cfg.StaleSeconds) * time.Second
	switch cfg.Driver {
	case "", "memory":
		return querycache.New(querycache.NewMemoryStore(), stale), nil
	case "redis":
		store, err := querycache.NewRedisStore(ctx, querycache.RedisStoreConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
			TTL:    stale,
		})
		if err != nil {
			return nil, err
		}
		return querycache.New(store, stale), nil
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", cfg.Driver)
	}
}

func createJournal(ctx context.Context, cfg *config.Config) (activity.Journal, error) {
	store := cfg.Storage.Activity
	switch store.Driver {
	case "", "memory":
		return activity.NewMemoryJournal(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewActivityRepository(ctx, mysql.Config{
			DSN:             store.DSN,
			MaxOpenConns:    store.MaxOpenConns,
			MaxIdleConns:    store.MaxIdleConns,
			ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的活动存储驱动: %s", store.Driver)
	}
}
