package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.APIEndpoint())
	assert.Equal(t, MonadTestnetChainID, cfg.Web3.ChainID)
	assert.Equal(t, "MON", cfg.Web3.Currency.Symbol)
	assert.Equal(t, 18, cfg.Web3.Currency.Decimals)
	assert.Equal(t, WalletProviderNone, cfg.Wallet.Provider)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 30, cfg.Cache.StaleSeconds)
	assert.Equal(t, "none", cfg.Events.Driver)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Empty(t, cfg.Contracts.PaymentHandler)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x402.json")
	content := `{
  "api": {"base_url": "http://file:9000", "version": "api/v2/"},
  "contracts": {"agent": "0xfile"},
  "wallet": {"private_key": "abc"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("AGENT_CONTRACT_ADDRESS", "0xenv")
	t.Setenv("X402_PAYMENT_CONTRACT", "0xpay")
	t.Setenv("MONAD_CHAIN_ID", "31337")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xenv", cfg.Contracts.Agent)
	assert.Equal(t, "0xpay", cfg.Contracts.PaymentHandler)
	assert.Equal(t, int64(31337), cfg.Web3.ChainID)
	assert.Equal(t, "http://file:9000/api/v2", cfg.APIEndpoint())
	assert.Equal(t, WalletProviderKey, cfg.Wallet.Provider)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Cache.Redis.URL)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Events.Redis.URL)
}

func TestLoadRejectsBadChainID(t *testing.T) {
	t.Setenv("MONAD_CHAIN_ID", "monad")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidServiceType(t *testing.T) {
	assert.True(t, ValidServiceType(""))
	assert.True(t, ValidServiceType("risk_control"))
	assert.False(t, ValidServiceType("Risk_Control"))
	assert.False(t, ValidServiceType("arbitrage"))
}

func TestLoadOperatorSettings(t *testing.T) {
	t.Setenv("X402_API_TOKEN", "s3cret")
	t.Setenv("ALERT_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Server.APIToken)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Alerting.WebhookURL)
	assert.Equal(t, "critical", cfg.Alerting.MinSeverity)
}
