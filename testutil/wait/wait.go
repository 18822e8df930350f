// Package wait provides polling helpers for asynchronous tests.
package wait

import (
	"errors"
	"time"
)

// ErrPredicate is returned when a predicate never held before the timeout.
var ErrPredicate = errors.New("predicate not satisfied before the timeout")

// PollInterval is the default polling interval.
const PollInterval = 10 * time.Millisecond

// NoError calls f until it returns nil and gives up once the timeout has
// elapsed, returning the last error seen. The first call happens right away.
//
// NOTE: f is never interrupted, so a blocking f delays the timeout.
func NoError(f func() error, timeout time.Duration) error {
	err := f()
	if err == nil {
		return nil
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return err

		case <-ticker.C:
			if err = f(); err == nil {
				return nil
			}
		}
	}
}

// Predicate polls pred until it returns true or the timeout is reached.
func Predicate(pred func() bool, timeout time.Duration) error {
	return NoError(func() error {
		if pred() {
			return nil
		}

		return ErrPredicate
	}, timeout)
}
