package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests signal the test process itself, so they do not run in parallel.

func signalTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCrankSignals_InterruptCancels(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, _ := crankSignals(parent, signalTestLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of SIGINT")
	}
}

func TestCrankSignals_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, _ := crankSignals(parent, signalTestLogger())

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of parent cancel")
	}
}

func TestCrankSignals_HangupRequestsReload(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, reloads := crankSignals(parent, signalTestLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("reload not requested within 2 seconds of SIGHUP")
	}

	assert.NoError(t, ctx.Err(), "SIGHUP must not stop the loop")
}

func TestCrankSignals_HangupsMergeWhilePending(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, reloads := crankSignals(parent, signalTestLogger())

	for range 3 {
		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("reload not requested within 2 seconds of SIGHUP")
	}

	select {
	case <-reloads:
		t.Fatal("queued hangups should merge into one reload")
	case <-time.After(100 * time.Millisecond):
	}
}
