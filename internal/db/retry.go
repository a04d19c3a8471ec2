package db

import (
	"strings"
	"time"

	"github.com/banshee-data/coincidence/internal/monitoring"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 20 * time.Millisecond
)

func logf(format string, v ...interface{}) {
	monitoring.Logf(format, v...)
}

// isSQLiteBusy reports whether err is a lock contention error worth retrying.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with linear backoff while it fails with
// SQLITE_BUSY. Other errors are returned immediately.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 1; attempt <= busyMaxAttempts; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyMaxAttempts {
			time.Sleep(time.Duration(attempt) * busyBaseDelay)
		}
	}
	return err
}
