package crank

import (
	"log/slog"
	"sync"
	"time"
)

// failureRecord tracks failures for a single vault.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker suppresses vaults whose actions fail repeatedly in watch
// mode. Thread-safe. A vault that fails >= threshold times within cooldown
// is skipped with a Warn log until the cooldown lapses. Success clears the
// record. A threshold of zero disables suppression.
type failureTracker struct {
	mu        sync.Mutex
	records   map[string]*failureRecord
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for testing
}

func newFailureTracker(threshold int, cooldown time.Duration, logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records:   make(map[string]*failureRecord),
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// shouldSkip returns true if the vault has failed enough times within the
// cooldown window that it should be suppressed.
func (ft *failureTracker) shouldSkip(vault string) bool {
	if ft.threshold <= 0 {
		return false
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[vault]
	if !ok {
		return false
	}

	// Forget stale failures.
	if ft.nowFunc().Sub(rec.lastAt) > ft.cooldown {
		delete(ft.records, vault)
		return false
	}

	return rec.count >= ft.threshold
}

// recordFailure increments the failure counter for a vault.
func (ft *failureTracker) recordFailure(vault, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[vault]
	if !ok {
		rec = &failureRecord{}
		ft.records[vault] = rec
	}

	// Reset if the previous failure is older than the cooldown.
	if ft.nowFunc().Sub(rec.lastAt) > ft.cooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if ft.threshold > 0 && rec.count == ft.threshold {
		ft.logger.Warn("vault suppressed after repeated failures",
			slog.String("vault", vault),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
			slog.Duration("cooldown", ft.cooldown),
		)
	}
}

// recordSuccess clears the failure record for a vault.
func (ft *failureTracker) recordSuccess(vault string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, vault)
}
