package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/observability/alerting"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Alert    bool              `json:"alert"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将错误渲染为 {"error": {...}}，状态码由错误码决定。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatus(err)
	body := errorBody{Code: xerrors.CodeOf(err), Alert: xerrors.ShouldAlert(err)}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
	} else {
		body.Message = xerrors.AttributesOf(xerrors.CodeUnknown).Message
		body.Alert = true
	}

	route := r.Method + " " + r.URL.Path
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", "route", route, "request_id", requestID(r.Context()), "error", err)
	} else {
		s.log.Debug("请求被拒绝", "route", route, "request_id", requestID(r.Context()), "error", err)
	}

	if s.svc.Alerts != nil {
		event := alerting.FromError(err, route, requestID(r.Context()), time.Now())
		if notifyErr := s.svc.Alerts.Notify(context.WithoutCancel(r.Context()), event); notifyErr != nil {
			s.log.Warn("告警发送失败", "code", event.Code, "error", notifyErr)
		}
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

// decodeBody 解析请求体，空请求体视为零值。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
