package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/solana"
)

func testKey(b byte) solana.Pubkey {
	var p solana.Pubkey
	p[0] = b
	p[31] = b

	return p
}

func sampleTickReport() *crank.TickReport {
	crankVault, closeVault, idleVault := testKey(1), testKey(2), testKey(3)

	sig := solana.Signature{7}

	return &crank.TickReport{
		CycleID:     "c0ffee",
		StartedAt:   time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Duration:    4260 * time.Millisecond,
		Slot:        312_456_789,
		Epoch:       723,
		EpochLength: 432_000,
		Decisions: []crank.Decision{
			{Vault: crankVault, State: crank.StateCranking, Kind: crank.ActionCrank},
			{Vault: closeVault, State: crank.StateFullyAdvanced, Kind: crank.ActionClose},
			{Vault: idleVault, State: crank.StateUpToDate, Kind: crank.ActionNone},
		},
		States: map[crank.TrackerState]int{
			crank.StateCranking:      1,
			crank.StateFullyAdvanced: 1,
			crank.StateUpToDate:      1,
		},
		Planned:   2,
		Attempted: 2,
		Succeeded: 1,
		Failed:    1,
		Outcomes: []crank.ActionOutcome{
			{
				Action: crank.Action{
					Kind:        crank.ActionCrank,
					Vault:       crankVault,
					Epoch:       723,
					Delegations: []crank.OperatorDelegation{{Index: 0}, {Index: 1}},
					StartAt:     1,
				},
				Status:     crank.StatusSucceeded,
				Signatures: []solana.Signature{sig},
				Duration:   1500 * time.Millisecond,
			},
			{
				Action:   crank.Action{Kind: crank.ActionClose, Vault: closeVault, Epoch: 723},
				Status:   crank.StatusFailed,
				Err:      errors.New("blockhash not found"),
				Duration: 200 * time.Millisecond,
			},
		},
	}
}

func TestPrintTickReport_Text(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printTickReport(&buf, sampleTickReport(), false))
	out := buf.String()

	assert.Contains(t, out, "Epoch 723 at slot 312,456,789\n")
	assert.NotContains(t, out, "dry run")
	assert.Contains(t, out, testKey(1).String())
	assert.Contains(t, out, "blockhash not found")
	assert.Contains(t, out, "vaults: 1 cranking, 1 fully_advanced, 1 up_to_date")
	assert.Contains(t, out, "planned 2, succeeded 1, already done 0, suppressed 0, failed 1 in 4.3s")
}

func TestPrintTickReport_DryRunAndEmpty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printTickReport(&buf, &crank.TickReport{DryRun: true, Epoch: 5, Slot: 2000}, false))

	assert.Equal(t, "Epoch 5 at slot 2,000  (dry run)\n\nNo vaults found.\n", buf.String())
}

func TestPrintTickReport_JSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printTickReport(&buf, sampleTickReport(), true))

	var got tickJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "c0ffee", got.CycleID)
	assert.Equal(t, int64(4260), got.DurationMS)
	assert.Equal(t, uint64(723), got.Epoch)
	assert.Equal(t, 1, got.States["cranking"])
	require.Len(t, got.Decisions, 3)
	assert.Equal(t, "none", got.Decisions[2].Action)

	require.Len(t, got.Actions, 2)
	assert.Equal(t, "crank", got.Actions[0].Kind)
	assert.Equal(t, 1, got.Actions[0].Delegations, "only delegations past StartAt are reported")
	assert.Equal(t, []string{solana.Signature{7}.String()}, got.Actions[0].Signatures)
	assert.Equal(t, "failed", got.Actions[1].Status)
	assert.Equal(t, "blockhash not found", got.Actions[1].Error)
	assert.Empty(t, got.Actions[1].Signatures)
}

func TestFormatStates(t *testing.T) {
	assert.Equal(t, "vaults: none", formatStates(nil))
	assert.Equal(t, "vaults: 2 untracked, 1 stale, 4 up_to_date", formatStates(map[crank.TrackerState]int{
		crank.StateUpToDate:  4,
		crank.StateStale:     1,
		crank.StateUntracked: 2,
		crank.StateInvalid:   0,
	}))
}
