package apperrors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/lib/pq"
)

// Classify converts any error into a classified *Error. Errors that are
// already classified pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e := Wrap(err, CodeOperationTimeout, CategoryConnection, SeverityHigh, "The service is temporarily unavailable, please retry")
		e.Retryable = true
		return e
	case errors.Is(err, context.Canceled):
		return Wrap(err, CodeRequestCancelled, CategoryConnection, SeverityLow, "The request was cancelled")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(err, pqErr)
	}

	if isConnectionError(err) {
		e := Wrap(err, CodeConnection, CategoryConnection, SeverityHigh, "The service is temporarily unavailable, please retry")
		e.Retryable = true
		return e
	}

	return Internal(err, "An unexpected error occurred")
}

func classifyPostgres(err error, pqErr *pq.Error) *Error {
	switch pqErr.Code.Class() {
	case "08":
		e := Wrap(err, CodeConnection, CategoryConnection, SeverityHigh, "The service is temporarily unavailable, please retry")
		e.Retryable = true
		return e
	case "23":
		if pqErr.Code == "23505" {
			e := Wrap(err, CodeDuplicateKey, CategoryBusinessLogic, SeverityLow, "The resource already exists")
			e.Status = 409
			return e
		}
		return Wrap(err, CodeConstraint, CategoryValidation, SeverityLow, "The request violates a data constraint")
	case "22":
		return Wrap(err, CodeInvalidInput, CategoryInput, SeverityLow, "The request contains an invalid value")
	case "40":
		e := Wrap(err, CodeTransactionConflict, CategoryConnection, SeverityMedium, "The service is busy, please retry")
		e.Retryable = true
		return e
	case "53":
		e := Wrap(err, CodeResourceExhausted, CategoryResource, SeverityCritical, "The service is temporarily unavailable, please retry")
		e.Retryable = true
		return e
	case "57":
		e := Wrap(err, CodeConnection, CategoryConnection, SeverityHigh, "The service is temporarily unavailable, please retry")
		e.Retryable = true
		return e
	default:
		return Internal(err, "An unexpected error occurred")
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryable reports whether err is classified as transient.
func IsRetryable(err error) bool {
	e := Classify(err)
	return e != nil && e.Retryable
}

// HasCode reports whether err is a classified error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
