package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"x402-Dashboard/internal/config"
	"x402-Dashboard/internal/web3"
	"x402-Dashboard/internal/web3/ethereum"
)

// Dialer constructs a chain client; tests replace it to avoid network access.
type Dialer func(ctx context.Context, cfg ethereum.Config) (web3.Client, error)

// DialEthereum is the default Dialer backed by go-ethereum's ethclient.
func DialEthereum(ctx context.Context, cfg ethereum.Config) (web3.Client, error) {
	return ethereum.NewClient(ctx, cfg)
}

type entry struct {
	client     web3.Client
	descriptor web3.ChainDescriptor
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	chains       map[string]entry
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// Without a chain file the single chain described by cfg is registered as
// "default".
func NewRegistry(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialEthereum
	}
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	opts := ethereum.Config{
		PollInterval:   time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
		ReceiptTimeout: time.Duration(cfg.ReceiptTimeoutSeconds) * time.Second,
	}

	chains := make(map[string]entry)
	closeAll := func() {
		for _, e := range chains {
			e.client.Close()
		}
	}

	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		chainOpts := opts
		chainOpts.Name = name
		chainOpts.RPCURL = chain.RPCURL
		chainOpts.Notes = chain.Description
		client, err := dial(ctx, chainOpts)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		display := chain.Name
		if display == "" {
			display = name
		}
		chains[name] = entry{client: client, descriptor: web3.ChainDescriptor{
			ID:       big.NewInt(chain.ChainID),
			Name:     display,
			Currency: chain.Currency,
			RPCURL:   chain.RPCURL,
			Explorer: chain.Explorer,
		}}
	}

	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		chainOpts := opts
		chainOpts.Name = "default"
		chainOpts.RPCURL = cfg.RPCURL
		chainOpts.Notes = cfg.ChainName
		client, err := dial(ctx, chainOpts)
		if err != nil {
			return nil, err
		}
		chains["default"] = entry{client: client, descriptor: DescriptorFromConfig(cfg)}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(chains))
		for name := range chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, chains: chains}, nil
}

// DescriptorFromConfig builds the chain descriptor configured in Web3Config.
func DescriptorFromConfig(cfg config.Web3Config) web3.ChainDescriptor {
	return web3.ChainDescriptor{
		ID:   big.NewInt(cfg.ChainID),
		Name: cfg.ChainName,
		Currency: web3.Currency{
			Name:     cfg.Currency.Name,
			Symbol:   cfg.Currency.Symbol,
			Decimals: cfg.Currency.Decimals,
		},
		RPCURL:   cfg.RPCURL,
		Explorer: cfg.Explorer.URL,
	}
}

// DefaultClient returns the client configured as default chain together with
// its descriptor.
func (r *Registry) DefaultClient() (web3.Client, web3.ChainDescriptor, error) {
	if r == nil {
		return nil, web3.ChainDescriptor{}, errors.New("未初始化的链客户端注册表")
	}
	e, ok := r.chains[r.defaultChain]
	if !ok {
		return nil, web3.ChainDescriptor{}, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return e.client, e.descriptor, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.chains[name]
	return e.client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, e := range r.chains {
		if e.client != nil {
			e.client.Close()
		}
		delete(r.chains, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
