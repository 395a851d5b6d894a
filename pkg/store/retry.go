// retry.go wraps SQLite writes with automatic retries for transient
// errors.
//
// Under concurrent access, WAL-mode SQLite surfaces SQLITE_BUSY,
// SQLITE_LOCKED, and IOERR_SHORT_READ (522). The busy_timeout pragma
// absorbs most SQLITE_BUSY cases at the connection level; the rest need
// application-level retries with backoff.
package store

import (
	"math/rand"
	"strings"
	"time"
)

// retryConfig bounds the retry loop for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// transientSQLiteErr reports whether err is worth retrying:
// SQLITE_BUSY (5), SQLITE_LOCKED (6), IOERR_SHORT_READ (522), or the
// textual "database is locked" fallthrough from modernc.org/sqlite.
func transientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs fn, retrying transient errors with exponential backoff
// plus jitter. Non-transient errors return immediately.
func withRetry(cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !transientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			time.Sleep(retryDelay(cfg, attempt))
		}
	}
	return lastErr
}

// retryDelay is baseDelay * 2^attempt capped at maxDelay, plus jitter
// in [0, baseDelay).
func retryDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
