package apperrors

import (
	"context"

	"neighbourhood-chat/internal/logger"
)

// Report logs a classified error with the operation context. Critical errors
// additionally emit an alert record that log-based alerting keys on.
func Report(ctx context.Context, operation string, err *Error, fields map[string]any) {
	if err == nil {
		return
	}
	log := logger.FromContext(ctx)

	event := log.Warn()
	if err.Severity == SeverityHigh || err.Severity == SeverityCritical {
		event = log.Error()
	}
	event.
		Str("operation", operation).
		Str("code", err.Code).
		Str("category", string(err.Category)).
		Str("severity", string(err.Severity)).
		Bool("retryable", err.Retryable).
		Fields(fields).
		Err(err).
		Msg("request failed")

	if err.Severity != SeverityCritical {
		return
	}
	log.Error().
		Bool("alert", true).
		Str("operation", operation).
		Str("code", err.Code).
		Str("category", string(err.Category)).
		Fields(fields).
		Interface("context", err.Context).
		Str("stack", err.Stack()).
		Msg("=== CRITICAL ERROR ===")
}
