// Package resilience provides retry with exponential backoff for the
// store operations the sweep depends on.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError wraps an error that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a network-level failure, or a database condition that
// clears on its own (serialization failure, deadlock, lock contention,
// connection loss).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isTransientSQLState(pgErr.Code) {
		return true
	}

	// String-based heuristics for errors wrapped by drivers that lose the
	// typed cause.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"conn closed",
		"conn busy",
		"database is locked",   // SQLITE_BUSY
		"database table is locked",
		"deadlock detected",
		"serialization failure",
		"too many connections",
		"the database system is starting up",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// isTransientSQLState covers connection failures (class 08), serialization
// failures and deadlocks (class 40), insufficient resources (class 53),
// and a server that is restarting (57P03).
func isTransientSQLState(code string) bool {
	if len(code) >= 2 {
		switch code[:2] {
		case "08", "40", "53":
			return true
		}
	}
	return code == "57P03"
}
