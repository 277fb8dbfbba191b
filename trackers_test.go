package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/solana"
)

func sampleSnapshot() *crank.Snapshot {
	a, b, orphan := testKey(1), testKey(2), testKey(9)

	return &crank.Snapshot{
		Slot:         1042,
		EpochLength:  100,
		CurrentEpoch: 10,
		Vaults: map[solana.Pubkey]crank.Vault{
			a: {Address: a, OperatorCount: 3},
			b: {Address: b, OperatorCount: 2},
		},
		Trackers: map[solana.Pubkey]crank.Tracker{
			b: {Address: testKey(22), Vault: b, NcnEpoch: 10, LastUpdatedIndex: 2},
			a: {Address: testKey(11), Vault: a, NcnEpoch: 10, LastUpdatedIndex: 1},
		},
		StaleTrackers: []crank.Tracker{
			{Address: testKey(12), Vault: a, NcnEpoch: 8},
			{Address: testKey(99), Vault: orphan, NcnEpoch: 9},
		},
	}
}

func TestTrackerRows_OrderAndState(t *testing.T) {
	rows := trackerRows(sampleSnapshot())
	require.Len(t, rows, 4)

	// Oldest epoch first, then by vault.
	assert.Equal(t, testKey(12).String(), rows[0].Address)
	assert.Equal(t, "stale", rows[0].State)

	// A tracker whose vault is gone cannot be classified.
	assert.Equal(t, testKey(99).String(), rows[1].Address)
	assert.Equal(t, "invalid", rows[1].State)
	assert.Zero(t, rows[1].OperatorCount)

	assert.Equal(t, testKey(11).String(), rows[2].Address)
	assert.Equal(t, "cranking", rows[2].State)
	assert.Equal(t, uint64(3), rows[2].OperatorCount)

	assert.Equal(t, testKey(22).String(), rows[3].Address)
	assert.Equal(t, "fully_advanced", rows[3].State)
}

func TestPrintTrackers_Text(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printTrackers(&buf, sampleSnapshot(), false))
	out := buf.String()

	assert.Contains(t, out, "Epoch 10 at slot 1,042")
	assert.Contains(t, out, "TRACKER")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "2/2")
}

func TestPrintTrackers_Empty(t *testing.T) {
	var buf bytes.Buffer

	snap := &crank.Snapshot{Slot: 5, CurrentEpoch: 0, EpochLength: 100}

	require.NoError(t, printTrackers(&buf, snap, false))
	assert.Contains(t, buf.String(), "No open trackers.")
}

func TestPrintTrackers_JSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printTrackers(&buf, sampleSnapshot(), true))

	var got trackersJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, uint64(10), got.Epoch)
	require.Len(t, got.Trackers, 4)
	assert.Equal(t, uint64(8), got.Trackers[0].NcnEpoch)
}
