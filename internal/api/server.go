package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"x402-Dashboard/internal/activity"
	"x402-Dashboard/internal/agents"
	"x402-Dashboard/internal/auth"
	"x402-Dashboard/internal/config"
	"x402-Dashboard/internal/market"
	"x402-Dashboard/internal/observability/alerting"
	"x402-Dashboard/internal/observability/metrics"
	"x402-Dashboard/internal/transactions"
	"x402-Dashboard/internal/wallet"
	"x402-Dashboard/pkg/logger"

	"github.com/google/uuid"
)

// Services 汇总各页面依赖的服务。Journal、Metrics、Alerts 与 Guard 可以为空。
type Services struct {
	Session      *wallet.Session
	Agents       *agents.Service
	Market       *market.Service
	Transactions *transactions.Service
	Journal      activity.Journal
	Contracts    config.ContractsConfig
	Metrics      *metrics.Recorder
	Alerts       alerting.Dispatcher
	Guard        *auth.Guard
}

// Server 负责暴露仪表盘的 REST 接口。
type Server struct {
	addr    string
	svc     Services
	log     *slog.Logger
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Services) *Server {
	if svc.Metrics == nil {
		svc.Metrics = metrics.NewRecorder()
	}
	if svc.Guard == nil {
		svc.Guard = auth.NewGuard("")
	}
	s := &Server{addr: addr, svc: svc, log: logger.Named("api")}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, s.svc.Metrics.Middleware(pattern, fn))
	}
	guard := s.svc.Guard.Middleware(s.writeError)
	guarded := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, s.svc.Metrics.Middleware(pattern, guard(fn)))
	}

	handle("GET /api/v1/session", s.handleSession)
	guarded("POST /api/v1/session/connect", s.handleConnect)
	guarded("POST /api/v1/session/disconnect", s.handleDisconnect)
	handle("GET /api/v1/home", s.handleHome)

	handle("GET /api/v1/agents", s.handleListAgents)
	guarded("POST /api/v1/agents", s.handleCreateAgent)
	handle("GET /api/v1/agents/{id}", s.handleAgentDetail)
	handle("GET /api/v1/agents/{id}/transactions", s.handleAgentTransactions)
	handle("GET /api/v1/agents/{id}/stats", s.handleAgentStats)
	handle("GET /api/v1/contracts/{address}/balance", s.handleBalance)
	guarded("POST /api/v1/contracts/{address}/deposit", s.handleDeposit)

	handle("GET /api/v1/market/services", s.handleListServices)
	handle("GET /api/v1/market/services/{id}", s.handleServiceDetail)
	handle("GET /api/v1/transactions", s.handleTransactions)
	handle("GET /api/v1/activity", s.handleActivity)

	mux.Handle("GET /metrics", s.svc.Metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return withRequestID(mux)
}

// Handler 返回完整的路由处理器，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler { return s.handler }

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("仪表盘 API 已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type requestIDKey struct{}

// RequestIDHeader 为请求 ID 的传递头。
const RequestIDHeader = "X-Request-ID"

// withRequestID 沿用调用方提供的请求 ID，缺失时生成新的 UUID。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
