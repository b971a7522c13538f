package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error class constants for trace write failure classification.
const (
	WriteErrorClassBusy       = "busy"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassIO         = "io"
	WriteErrorClassOther      = "other"
)

// ClassifyWriteError maps a trace write error to one of the defined error
// classes so failure counters group on categories rather than opaque Go type
// names.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassOther
	}

	// Typed checks before string matching.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassIO
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassIO
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WriteErrorClassIO
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassIO
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 23 covers integrity constraint violations.
		if strings.HasPrefix(pgErr.Code, "23") {
			return WriteErrorClassConstraint
		}
	}

	// String-based classification for errors from database drivers and
	// wrapped errors where type information is lost.
	msg := strings.ToLower(err.Error())

	if isBusyString(msg) {
		return WriteErrorClassBusy
	}
	if isConstraintString(msg) {
		return WriteErrorClassConstraint
	}
	if isIOString(msg) {
		return WriteErrorClassIO
	}

	return WriteErrorClassOther
}

func isBusyString(msg string) bool {
	return strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database is locked")
}

func isConstraintString(msg string) bool {
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "violates foreign key constraint") ||
		strings.Contains(msg, "violates unique constraint") ||
		strings.Contains(msg, "violates check constraint") ||
		strings.Contains(msg, "duplicate key")
}

func isIOString(msg string) bool {
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}
