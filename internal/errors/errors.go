package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。Alert 表示需要以阻断式提示告知用户。
type Attributes struct {
	Message  string
	Severity Severity
	Alert    bool
	Status   int
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
			Status:   http.StatusInternalServerError,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
			Alert:    true,
			Status:   http.StatusBadRequest,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
			Status:   http.StatusNotFound,
		},
		CodeProviderMissing: {
			Message:  "no wallet provider found, install or configure a Web3 wallet",
			Severity: SeverityWarning,
			Alert:    true,
			Status:   http.StatusServiceUnavailable,
		},
		CodePermissionRejected: {
			Message:  "wallet permission request rejected",
			Severity: SeverityInfo,
			Status:   http.StatusForbidden,
		},
		CodeWalletDisconnected: {
			Message:  "please connect your wallet first",
			Severity: SeverityInfo,
			Alert:    true,
			Status:   http.StatusUnauthorized,
		},
		CodeMissingConfiguration: {
			Message:  "required configuration is missing",
			Severity: SeverityWarning,
			Alert:    true,
			Status:   http.StatusPreconditionFailed,
		},
		CodeBackendFailure: {
			Message:  "backend request failed",
			Severity: SeverityWarning,
			Alert:    true,
			Status:   http.StatusBadGateway,
		},
		CodeChainFailure: {
			Message:  "chain transaction failed",
			Severity: SeverityWarning,
			Alert:    true,
			Status:   http.StatusBadGateway,
		},
		CodeMissingReceiptField: {
			Message:  "transaction receipt is missing a required field",
			Severity: SeverityWarning,
			Alert:    true,
			Status:   http.StatusBadGateway,
		},
		CodeRegistrationFailure: {
			Message:  "contract deployed but backend registration failed",
			Severity: SeverityCritical,
			Alert:    true,
			Status:   http.StatusBadGateway,
		},
		CodeUnauthorized: {
			Message:  "missing or invalid API token",
			Severity: SeverityWarning,
			Status:   http.StatusUnauthorized,
		},
		CodeStorageFailure: {
			Message:  "storage failure",
			Severity: SeverityWarning,
			Status:   http.StatusInternalServerError,
		},
	}
)

// 错误码按失败类别划分，任何一类都不会被自动重试。
const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeProviderMissing      Code = "PROVIDER_MISSING"
	CodePermissionRejected   Code = "PERMISSION_REJECTED"
	CodeWalletDisconnected   Code = "WALLET_DISCONNECTED"
	CodeMissingConfiguration Code = "MISSING_CONFIGURATION"
	CodeBackendFailure       Code = "BACKEND_FAILURE"
	CodeChainFailure         Code = "CHAIN_FAILURE"
	CodeMissingReceiptField  Code = "MISSING_RECEIPT_FIELD"
	CodeRegistrationFailure  Code = "REGISTRATION_FAILURE"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
	CodeUnauthorized         Code = "UNAUTHORIZED"
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	attr, ok := registry[code]
	registryMu.RUnlock()
	if ok {
		return attr
	}
	registryMu.RLock()
	fallback := registry[CodeUnknown]
	registryMu.RUnlock()
	return fallback
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	alert    *bool
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAlert 覆盖是否需要提示用户。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// ShouldAlert 判断是否需要以阻断式提示告知用户。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	attr := AttributesOf(e.code)
	return attr.Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	attr := AttributesOf(e.code)
	return attr.Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HTTPStatus 返回错误码对应的 HTTP 状态码。
func HTTPStatus(err error) int {
	attr := AttributesOf(CodeOf(err))
	if attr.Status == 0 {
		return http.StatusInternalServerError
	}
	return attr.Status
}

// ShouldAlert 判断任意 error 是否需要提示用户。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
