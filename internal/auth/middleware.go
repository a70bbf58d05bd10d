package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "x402-Dashboard/internal/errors"
	loggerpkg "x402-Dashboard/pkg/logger"
)

// 认证失败的原因。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Guard 保护会触发钱包签名或修改会话状态的接口。未配置令牌时放行所有请求。
type Guard struct {
	token []byte
	audit *slog.Logger
}

// NewGuard 构造令牌守卫，token 为空表示关闭认证。
func NewGuard(token string) *Guard {
	g := &Guard{audit: loggerpkg.Audit()}
	if token = strings.TrimSpace(token); token != "" {
		g.token = []byte(token)
	}
	return g
}

// Enabled 报告是否启用了令牌校验。
func (g *Guard) Enabled() bool { return g != nil && len(g.token) > 0 }

// Check 校验 Authorization 头中的 Bearer 令牌。
func (g *Guard) Check(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return xerrors.Wrap(xerrors.CodeUnauthorized, ErrMissingToken, "")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return xerrors.Wrap(xerrors.CodeUnauthorized, ErrInvalidToken, "")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), g.token) != 1 {
		return xerrors.Wrap(xerrors.CodeUnauthorized, ErrInvalidToken, "")
	}
	return nil
}

// Middleware 返回一个 HTTP 中间件，拒绝的请求交给 onError 渲染，通过的请求写入审计日志。
func (g *Guard) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Check(r); err != nil {
				g.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"remote", r.RemoteAddr,
					"error", errors.Unwrap(err),
				)
				onError(w, r, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r)
			g.audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
