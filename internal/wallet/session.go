package wallet

import (
	"context"
	"log/slog"
	"sync"

	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/web3"
	"x402-Dashboard/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// State is the wallet snapshot rendered by the layout.
type State struct {
	Address   string               `json:"address,omitempty"`
	Connected bool                 `json:"connected"`
	Chain     web3.ChainDescriptor `json:"chain"`

	// ProviderDetected is false when the layout should prompt for a wallet install.
	ProviderDetected bool `json:"provider_detected"`
}

// Session holds the connected account, the read-only chain client and, while
// connected, the wallet client. It is shared by every page.
type Session struct {
	provider Provider
	public   web3.Client
	chain    web3.ChainDescriptor
	log      *slog.Logger

	mu      sync.RWMutex
	account common.Address
	wallet  *WalletClient
}

// NewSession creates a disconnected session. provider may be nil when no
// wallet is available.
func NewSession(provider Provider, public web3.Client, chain web3.ChainDescriptor) *Session {
	return &Session{
		provider: provider,
		public:   public,
		chain:    chain,
		log:      logger.Named("wallet"),
	}
}

// Connect requests account access and binds a wallet client to the first
// returned account.
func (s *Session) Connect(ctx context.Context) (State, error) {
	if s.provider == nil {
		return s.State(), xerrors.New(xerrors.CodeProviderMissing, "")
	}

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		s.log.Warn("钱包授权请求失败", "error", err)
		return s.State(), xerrors.Wrap(xerrors.CodePermissionRejected, err, "")
	}
	if len(accounts) == 0 {
		s.log.Warn("钱包未返回任何账户")
		return s.State(), xerrors.New(xerrors.CodePermissionRejected, "wallet returned no accounts")
	}

	s.bind(accounts[0])
	s.log.Info("钱包已连接", "address", accounts[0].Hex())
	return s.State(), nil
}

// Disconnect forgets the account and wallet client. Provider permissions are
// left untouched.
func (s *Session) Disconnect() State {
	s.mu.Lock()
	s.account = common.Address{}
	s.wallet = nil
	s.mu.Unlock()
	s.log.Info("钱包已断开")
	return s.State()
}

// Restore silently picks up an already authorised account without prompting.
func (s *Session) Restore(ctx context.Context) State {
	if s.provider == nil {
		s.log.Debug("未配置钱包 provider，跳过会话恢复")
		return s.State()
	}
	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		s.log.Warn("探测已授权账户失败", "error", err)
		return s.State()
	}
	if len(accounts) > 0 {
		s.bind(accounts[0])
		s.log.Info("已恢复钱包会话", "address", accounts[0].Hex())
	}
	return s.State()
}

func (s *Session) bind(account common.Address) {
	s.mu.Lock()
	s.account = account
	s.wallet = newWalletClient(s.provider, account, s.chain)
	s.mu.Unlock()
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := State{Chain: s.chain, ProviderDetected: s.HasProvider()}
	if s.wallet != nil {
		state.Address = s.account.Hex()
		state.Connected = true
	}
	return state
}

// Address returns the connected account.
func (s *Session) Address() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.wallet != nil
}

// Public returns the read-only chain client.
func (s *Session) Public() web3.Client {
	return s.public
}

// Wallet returns the wallet client, or nil while disconnected.
func (s *Session) Wallet() *WalletClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet
}

// Chain returns the fixed chain descriptor.
func (s *Session) Chain() web3.ChainDescriptor {
	return s.chain
}

// HasProvider reports whether a wallet provider was detected.
func (s *Session) HasProvider() bool {
	return s.provider != nil
}
