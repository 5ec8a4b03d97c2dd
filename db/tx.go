package db

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultTxRetries bounds retries of transactions that fail on lock or
// serialization conflicts.
const DefaultTxRetries = 3

// retryable reports whether err is a transient conflict worth retrying.
// Covers SQLite busy/locked and MySQL deadlock/lock-wait messages.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "try restarting transaction")
}

// Transact runs fn inside a transaction, retrying up to retries times on
// transient conflicts. Every attempt gets a fresh transaction; a failed
// attempt is fully rolled back before the next one starts. Business-rule
// errors are never retried.
func Transact(gdb *gorm.DB, retries int, fn func(tx *gorm.DB) error) error {
	if retries <= 0 {
		retries = DefaultTxRetries
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		err = gdb.Transaction(fn)
		if !retryable(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}
