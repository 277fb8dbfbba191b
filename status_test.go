package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/solana"
)

func newStatusLedger(t *testing.T) *crank.Ledger {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger, err := crank.OpenLedger(context.Background(), filepath.Join(t.TempDir(), "state.db"), 10, logger)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	return ledger
}

func TestPrintTicks_Text(t *testing.T) {
	ledger := newStatusLedger(t)
	ctx := context.Background()

	ok := sampleTickReport()
	require.NoError(t, ledger.RecordTick(ctx, ok, nil))

	aborted := &crank.TickReport{CycleID: "dead", StartedAt: ok.StartedAt.Add(time.Hour)}
	require.NoError(t, ledger.RecordTick(ctx, aborted, errors.New("getSlot: connection refused")))

	ticks, err := ledger.RecentTicks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	var buf bytes.Buffer
	require.NoError(t, printTicks(&buf, ticks, false))
	out := buf.String()

	assert.Contains(t, out, "CYCLE")
	assert.Contains(t, out, "error: getSlot: connection refused")
	assert.Contains(t, out, "1 ok, 0 done, 1 failed")
	assert.Contains(t, out, "312,456,789")
}

func TestPrintTicks_DryRunAndIdle(t *testing.T) {
	ticks := []crank.TickRow{
		{CycleID: "a", StartedAt: time.Now(), DryRun: true, Planned: 3},
		{CycleID: "b", StartedAt: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, printTicks(&buf, ticks, false))

	assert.Contains(t, buf.String(), "dry run, 3 planned")
	assert.Contains(t, buf.String(), "nothing to do")
}

func TestPrintTicks_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTicks(&buf, nil, false))
	assert.Equal(t, "No ticks recorded yet.\n", buf.String())
}

func TestPrintTicks_JSON(t *testing.T) {
	ticks := []crank.TickRow{{CycleID: "a", Epoch: 9, Failed: 2, ErrorMsg: "boom", Duration: 3 * time.Second}}

	var buf bytes.Buffer
	require.NoError(t, printTicks(&buf, ticks, true))

	var got []tickRowJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].CycleID)
	assert.Equal(t, int64(3000), got[0].DurationMS)
	assert.Equal(t, 2, got[0].Failed)
	assert.Equal(t, "boom", got[0].Error)
}

func TestShowTickActions(t *testing.T) {
	ledger := newStatusLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.RecordTick(ctx, sampleTickReport(), nil))

	var buf bytes.Buffer
	require.NoError(t, showTickActions(ctx, &buf, ledger, "c0ffee", false))
	out := buf.String()

	assert.Contains(t, out, testKey(1).String())
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, shortKey(solana.Signature{7}.String()))
	assert.Contains(t, out, "blockhash not found")

	buf.Reset()
	require.NoError(t, showTickActions(ctx, &buf, ledger, "c0ffee", true))

	var got []actionRowJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "crank", got[0].Kind)
	assert.Equal(t, []string{solana.Signature{7}.String()}, got[0].Signatures)
	assert.Equal(t, "failed", got[1].Status)
}

func TestShowTickActions_UnknownCycle(t *testing.T) {
	ledger := newStatusLedger(t)

	var buf bytes.Buffer
	require.NoError(t, showTickActions(context.Background(), &buf, ledger, "nope", false))
	assert.Equal(t, "No actions recorded for cycle nope.\n", buf.String())
}
