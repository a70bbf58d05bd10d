// Package agents drives the agent page: listing the connected wallet's
// agents, deploying and registering new agent contracts, funding them and
// reading their on-chain balance.
package agents

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"x402-Dashboard/internal/activity"
	"x402-Dashboard/internal/backend"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/events"
	"x402-Dashboard/internal/querycache"
	"x402-Dashboard/internal/wallet"
	"x402-Dashboard/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Backend is the subset of the backend client used by the agent page.
type Backend interface {
	ListUserAgents(ctx context.Context, address string) ([]backend.Agent, error)
	CreateAgent(ctx context.Context, req backend.CreateAgentRequest) (backend.Agent, error)
	GetAgent(ctx context.Context, id string) (backend.Agent, error)
	AgentTransactions(ctx context.Context, id string) ([]backend.Transaction, error)
	AgentStats(ctx context.Context, id string) (backend.AgentStats, error)
}

// Options carries the configuration of the agent page.
type Options struct {
	// PaymentHandler is the x402 payment handler contract passed to every
	// deployed agent.
	PaymentHandler string
	// Bytecode is the agent contract creation code.
	Bytecode []byte
	Journal  activity.Journal
	Events   events.Publisher
}

// Service implements the agent page operations.
type Service struct {
	session        *wallet.Session
	backend        Backend
	cache          *querycache.Cache
	paymentHandler string
	bytecode       []byte
	journal        activity.Journal
	events         events.Publisher
	log            *slog.Logger

	mu        sync.Mutex
	refreshed map[common.Address]bool
}

// NewService wires the agent page.
func NewService(session *wallet.Session, client Backend, cache *querycache.Cache, opts Options) *Service {
	if cache == nil {
		cache = querycache.New(nil, 0)
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		session:        session,
		backend:        client,
		cache:          cache,
		paymentHandler: strings.TrimSpace(opts.PaymentHandler),
		bytecode:       opts.Bytecode,
		journal:        opts.Journal,
		events:         publisher,
		log:            logger.Named("agents"),
		refreshed:      make(map[common.Address]bool),
	}
}

// View is an agent as shown on the page.
type View struct {
	backend.Agent
	DisplayBalance string `json:"display_balance"`
	BalanceSource  string `json:"balance_source"`
}

// Balance sources.
const (
	BalanceFromBackend = "backend"
	BalanceFromChain   = "chain"
)

// List returns the agents of the connected wallet. It never issues a request
// while disconnected.
func (s *Service) List(ctx context.Context) ([]View, error) {
	owner, ok := s.session.Address()
	if !ok {
		return nil, xerrors.New(xerrors.CodeWalletDisconnected, "")
	}
	address := owner.Hex()

	agents, err := querycache.Fetch(ctx, s.cache, querycache.Key{"agents", address}, func(ctx context.Context) ([]backend.Agent, error) {
		list, err := s.backend.ListUserAgents(ctx, address)
		if err != nil {
			if backend.StatusOf(err) != 0 {
				s.log.Info("后端返回非 2xx，按空列表处理", "address", address, "error", err)
				return []backend.Agent{}, nil
			}
			return nil, err
		}
		if list == nil {
			list = []backend.Agent{}
		}
		return list, nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "failed to load agents")
	}

	views := make([]View, 0, len(agents))
	for _, agent := range agents {
		views = append(views, s.view(ctx, agent))
	}
	return views, nil
}

func (s *Service) view(ctx context.Context, agent backend.Agent) View {
	v := View{Agent: agent, DisplayBalance: agent.Balance, BalanceSource: BalanceFromBackend}
	if balance, ok := s.DisplayBalance(ctx, agent); ok {
		v.DisplayBalance = balance
		v.BalanceSource = BalanceFromChain
	}
	return v
}

// Get returns one agent from the backend.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	if strings.TrimSpace(id) == "" {
		return View{}, xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	agent, err := querycache.Fetch(ctx, s.cache, querycache.Key{"agent", id}, func(ctx context.Context) (backend.Agent, error) {
		return s.backend.GetAgent(ctx, id)
	})
	if err != nil {
		return View{}, backendError(err, "failed to load agent")
	}
	return s.view(ctx, agent), nil
}

// Transactions lists the trades of an agent.
func (s *Service) Transactions(ctx context.Context, id string) ([]backend.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	txs, err := querycache.Fetch(ctx, s.cache, querycache.Key{"agent-transactions", id}, func(ctx context.Context) ([]backend.Transaction, error) {
		txs, err := s.backend.AgentTransactions(ctx, id)
		if txs == nil && err == nil {
			txs = []backend.Transaction{}
		}
		return txs, err
	})
	if err != nil {
		return nil, backendError(err, "failed to load agent transactions")
	}
	return txs, nil
}

// Stats returns the trade summary of an agent.
func (s *Service) Stats(ctx context.Context, id string) (backend.AgentStats, error) {
	if strings.TrimSpace(id) == "" {
		return backend.AgentStats{}, xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	stats, err := querycache.Fetch(ctx, s.cache, querycache.Key{"agent-stats", id}, func(ctx context.Context) (backend.AgentStats, error) {
		return s.backend.AgentStats(ctx, id)
	})
	if err != nil {
		return backend.AgentStats{}, backendError(err, "failed to load agent stats")
	}
	return stats, nil
}

func backendError(err error, message string) error {
	if backend.StatusOf(err) == http.StatusNotFound {
		return xerrors.Wrap(xerrors.CodeNotFound, err, "")
	}
	return xerrors.Wrap(xerrors.CodeBackendFailure, err, message)
}

// walletError maps a wallet failure to the rejected or chain failure code.
func walletError(err error, message string, opts ...xerrors.Option) error {
	if errors.Is(err, wallet.ErrRejected) {
		return xerrors.Wrap(xerrors.CodePermissionRejected, err, "", opts...)
	}
	return xerrors.Wrap(xerrors.CodeChainFailure, err, message, opts...)
}

func parseAddress(raw, field string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, field+" is not a valid address",
			xerrors.WithMetadata("field", field))
	}
	return common.HexToAddress(raw), nil
}

func (s *Service) record(ctx context.Context, entry activity.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.log.Warn("写入活动记录失败", "kind", entry.Kind, "error", err)
	}
}

func (s *Service) markRefreshed(agent common.Address) {
	s.mu.Lock()
	s.refreshed[agent] = true
	s.mu.Unlock()
}

func (s *Service) isRefreshed(agent common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshed[agent]
}

func baseUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
