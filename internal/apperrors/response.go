package apperrors

import "time"

// Body is the JSON error envelope returned by every endpoint.
type Body struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
	Debug     *Debug `json:"debug,omitempty"`
}

// Debug carries internals and is only attached outside production.
type Debug struct {
	Message string         `json:"message"`
	Stack   string         `json:"stack"`
	Context map[string]any `json:"context,omitempty"`
}

// ToBody renders err for clients.
func ToBody(err *Error, now time.Time, withDebug bool) Body {
	body := Body{
		Message:   err.Message,
		Code:      err.Code,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Retryable: err.Retryable,
		Details:   err.Details,
	}
	if withDebug {
		body.Debug = &Debug{
			Message: err.Error(),
			Stack:   err.Stack(),
			Context: err.Context,
		}
	}
	return body
}
