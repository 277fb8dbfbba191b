package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/chrono-crank/internal/config"
)

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReloader_AppliesNewConfig(t *testing.T) {
	saveFlags(t)

	initial := resolvedWithLevel(t, "warn")
	holder := config.NewHolder(initial, "test.toml")

	next := resolvedWithLevel(t, "debug")
	next.PollInterval = 5 * time.Minute

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	r := newReloader(holder, func() (*config.Resolved, error) { return next, nil }, level, quietTestLogger())

	require.True(t, r.reload("test"))
	assert.Same(t, next, holder.Config())
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestReloader_FlagLevelSurvivesReload(t *testing.T) {
	saveFlags(t)

	flagQuiet = true

	holder := config.NewHolder(resolvedWithLevel(t, "warn"), "test.toml")
	level := new(slog.LevelVar)
	level.Set(slog.LevelError)

	next := resolvedWithLevel(t, "debug")
	r := newReloader(holder, func() (*config.Resolved, error) { return next, nil }, level, quietTestLogger())

	require.True(t, r.reload("test"))
	assert.Equal(t, slog.LevelError, level.Level(), "--quiet outranks the config file")
}

func TestReloader_KeepsPreviousOnError(t *testing.T) {
	saveFlags(t)

	initial := resolvedWithLevel(t, "info")
	holder := config.NewHolder(initial, "test.toml")

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	r := newReloader(holder, func() (*config.Resolved, error) {
		return nil, errors.New("crank.poll_interval: invalid duration")
	}, level, quietTestLogger())

	assert.False(t, r.reload("test"))
	assert.Same(t, initial, holder.Config())
	assert.Equal(t, slog.LevelInfo, level.Level())
}

func TestReloader_ListenReloadsPerSignal(t *testing.T) {
	saveFlags(t)

	holder := config.NewHolder(resolvedWithLevel(t, "info"), "test.toml")
	next := resolvedWithLevel(t, "info")
	reloaded := make(chan struct{}, 2)

	r := newReloader(holder, func() (*config.Resolved, error) {
		reloaded <- struct{}{}
		return next, nil
	}, nil, quietTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan struct{}, 2)
	done := make(chan struct{})

	go func() {
		r.listen(ctx, requests)
		close(done)
	}()

	requests <- struct{}{}
	requests <- struct{}{}

	for range 2 {
		select {
		case <-reloaded:
		case <-time.After(2 * time.Second):
			t.Fatal("reload not triggered within 2 seconds")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return after cancel")
	}
}

func TestRestartRequired(t *testing.T) {
	prev := resolvedWithLevel(t, "info")

	same := *prev
	same.PollInterval = prev.PollInterval * 2
	same.FollowupDelay = prev.FollowupDelay * 2
	same.Logging.LogLevel = "debug"
	assert.Empty(t, restartRequired(prev, &same), "live settings need no restart")

	changed := *prev
	changed.RPCURL = "https://other.example.com"
	changed.ParallelVaults = prev.ParallelVaults + 1
	changed.DryRun = !prev.DryRun
	assert.Equal(t, []string{"rpc.url", "crank.parallel_vaults", "crank.dry_run"}, restartRequired(prev, &changed))
}
