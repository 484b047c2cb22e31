package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Category groups errors by origin and drives the HTTP status and retry policy.
type Category string

const (
	CategoryValidation     Category = "VALIDATION"
	CategoryInput          Category = "INPUT"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryBusinessLogic  Category = "BUSINESS_LOGIC"
	CategoryConnection     Category = "CONNECTION"
	CategoryResource       Category = "RESOURCE"
	CategorySystem         Category = "SYSTEM"
)

// Severity ranks how loudly an error is reported.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Error is a classified error. Message is safe to show to end users.
type Error struct {
	Code      string
	Category  Category
	Severity  Severity
	Retryable bool
	Message   string
	Status    int
	Details   any
	Context   map[string]any

	cause error
	stack []uintptr
}

// New builds a classified error and records the caller's stack.
func New(code string, category Category, severity Severity, message string) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Severity: severity,
		Message:  message,
		stack:    callers(),
	}
}

// Wrap classifies cause under the given code.
func Wrap(cause error, code string, category Category, severity Severity, message string) *Error {
	e := New(code, category, severity, message)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two classified errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// HTTPStatus maps the error to a response status.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Category {
	case CategoryValidation, CategoryInput:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryConnection, CategoryResource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithStatus returns a copy with an explicit HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// WithDetails returns a copy carrying client-visible details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithContext returns a copy with an extra diagnostic key. Context never
// reaches clients outside development mode.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// Cause returns the wrapped error, if any.
func (e *Error) Cause() error {
	return e.cause
}

// Stack renders the stack captured at construction.
func (e *Error) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func callers() []uintptr {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

// Validation reports a request-shape failure.
func Validation(code, message string) *Error {
	e := New(code, CategoryValidation, SeverityLow, message)
	e.stack = callers()
	return e
}

// Input reports a malformed identifier or parameter.
func Input(code, message string) *Error {
	e := New(code, CategoryInput, SeverityLow, message)
	e.stack = callers()
	return e
}

// Unauthenticated reports a missing or invalid credential.
func Unauthenticated(code, message string) *Error {
	e := New(code, CategoryAuthentication, SeverityMedium, message)
	e.stack = callers()
	return e
}

// Forbidden reports an authorization failure.
func Forbidden(code, message string) *Error {
	e := New(code, CategoryAuthorization, SeverityMedium, message)
	e.stack = callers()
	return e
}

// Business reports a business-rule failure surfaced as 400.
func Business(code, message string) *Error {
	e := New(code, CategoryBusinessLogic, SeverityLow, message)
	e.Status = http.StatusBadRequest
	e.stack = callers()
	return e
}

// NotFound reports a missing resource.
func NotFound(code, message string) *Error {
	e := New(code, CategoryBusinessLogic, SeverityLow, message)
	e.Status = http.StatusNotFound
	e.stack = callers()
	return e
}

// Conflict reports a duplicate or concurrent-modification failure.
func Conflict(code, message string) *Error {
	e := New(code, CategoryBusinessLogic, SeverityLow, message)
	e.Status = http.StatusConflict
	e.stack = callers()
	return e
}

// Internal wraps an unexpected failure.
func Internal(cause error, message string) *Error {
	e := Wrap(cause, CodeInternal, CategorySystem, SeverityHigh, message)
	e.stack = callers()
	return e
}

// Invariant reports an internal invariant violation.
func Invariant(message string) *Error {
	e := New(CodeInvariantViolation, CategorySystem, SeverityCritical, "An unexpected error occurred")
	e.Context = map[string]any{"invariant": message}
	e.stack = callers()
	return e
}
