// Package errors 定义分发层的错误码。每个错误码携带默认提示、严重程度、
// HTTP 状态以及是否需要告警，调用方只需关心错误码本身。
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code 是分发层统一的错误码。
type Code string

// Severity 是告警使用的严重程度。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown                  Code = "UNKNOWN"
	CodeInvalidArgument          Code = "INVALID_ARGUMENT"
	CodeConflict                 Code = "CONFLICT"
	CodeVerificationFailed       Code = "VERIFICATION_FAILED"
	CodeUnsupportedPlatform      Code = "UNSUPPORTED_PLATFORM"
	CodeMalformedPayload         Code = "MALFORMED_PAYLOAD"
	CodeConnectorNotFound        Code = "CONNECTOR_NOT_FOUND"
	CodeConnectorDisabled        Code = "CONNECTOR_DISABLED"
	CodeConnectorExecutionFailed Code = "CONNECTOR_EXECUTION_FAILED"
	CodeDispatchInternal         Code = "DISPATCH_INTERNAL"
	CodeStorageFailure           Code = "STORAGE_FAILURE"
	CodeQueueFailure             Code = "QUEUE_FAILURE"
	CodeTimeout                  Code = "TIMEOUT"
)

// Attributes 是错误码的默认行为。
type Attributes struct {
	Message    string
	Severity   Severity
	Alert      bool
	HTTPStatus int
}

var table = map[Code]Attributes{
	CodeUnknown:                  {"unknown error", SeverityCritical, true, http.StatusInternalServerError},
	CodeInvalidArgument:          {"invalid argument", SeverityInfo, false, http.StatusBadRequest},
	CodeConflict:                 {"request already in progress", SeverityWarning, false, http.StatusConflict},
	CodeVerificationFailed:       {"Webhook verification failed", SeverityWarning, false, http.StatusUnauthorized},
	CodeUnsupportedPlatform:      {"unsupported platform", SeverityInfo, false, http.StatusBadRequest},
	CodeMalformedPayload:         {"malformed webhook payload", SeverityInfo, false, http.StatusBadRequest},
	CodeConnectorNotFound:        {"connector not registered", SeverityInfo, false, http.StatusNotFound},
	CodeConnectorDisabled:        {"connector disabled", SeverityInfo, false, http.StatusConflict},
	CodeConnectorExecutionFailed: {"connector execution failed", SeverityWarning, false, http.StatusBadGateway},
	CodeDispatchInternal:         {"Internal webhook processing error", SeverityCritical, true, http.StatusInternalServerError},
	CodeStorageFailure:           {"storage failure", SeverityCritical, true, http.StatusInternalServerError},
	CodeQueueFailure:             {"queue failure", SeverityCritical, true, http.StatusInternalServerError},
	CodeTimeout:                  {"operation timed out", SeverityWarning, false, http.StatusGatewayTimeout},
}

// Attributes 返回错误码的默认行为，未知错误码按 UNKNOWN 处理。
func (c Code) Attributes() Attributes {
	if attr, ok := table[c]; ok {
		return attr
	}
	return table[CodeUnknown]
}

// Error 是带错误码的错误。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 修改 Error。
type Option func(*Error)

// WithMetadata 附加一项上下文信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 1)
		}
		e.metadata[key] = value
	}
}

// New 创建错误；message 为空时使用错误码的默认提示。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = code.Attributes().Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，并保留 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码匹配，消息与 cause 不参与比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码，nil 视为 UNKNOWN。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回面向调用方的提示。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回上下文信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// HTTPStatus 返回错误码对应的状态码。
func (e *Error) HTTPStatus() int {
	return e.Code().Attributes().HTTPStatus
}

// From 从错误链中取出 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链中的错误码，没有时为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HTTPStatusOf 返回任意错误对应的状态码，nil 为 200，未编码的错误为 500。
func HTTPStatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return CodeOf(err).Attributes().HTTPStatus
}
