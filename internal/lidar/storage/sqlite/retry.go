package sqlite

import (
	"strings"
	"time"
)

const (
	maxBusyRetries = 5
	busyBaseDelay  = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is SQLite's lock contention error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while it fails
// with SQLITE_BUSY. Other errors are returned unchanged.
func retryOnBusy(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
