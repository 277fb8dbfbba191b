// Package crank drives vault update state trackers through their per-epoch
// lifecycle. Each tick reads a chain snapshot, decides one action per vault
// (initialize, crank, or close the tracker), executes the actions, and
// records the outcome.
//
// The decision layer (CurrentEpoch, OrderDelegations, ClassifyTracker,
// Planner) is pure and performs no I/O. The Engine wires it to a
// SnapshotProvider and an ActionExecutor.
package crank

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// ErrSnapshotFetch wraps any failure to assemble a complete snapshot. The
// tick is aborted; the next tick retries from scratch.
var ErrSnapshotFetch = errors.New("crank: snapshot fetch failed")

// Vault is the subset of vault state the planner needs.
type Vault struct {
	Address                 solana.Pubkey
	OperatorCount           uint64
	LastFullStateUpdateSlot uint64
}

// OperatorDelegation is one operator's allocation within one vault. Index is
// the operator's stable position in [0, operator_count).
type OperatorDelegation struct {
	Address  solana.Pubkey
	Vault    solana.Pubkey
	Operator solana.Pubkey
	Index    uint64
}

// Tracker is a vault update state tracker.
type Tracker struct {
	Address          solana.Pubkey
	Vault            solana.Pubkey
	NcnEpoch         uint64
	LastUpdatedIndex uint64
}

// Snapshot is a point-in-time view of chain state, read once per tick and
// never mutated.
type Snapshot struct {
	Slot         uint64
	EpochLength  uint64
	CurrentEpoch uint64

	Vaults      map[solana.Pubkey]Vault
	Delegations []OperatorDelegation

	// Trackers holds current-epoch trackers keyed by vault.
	Trackers map[solana.Pubkey]Tracker

	// StaleTrackers are prior-epoch trackers that were never closed.
	StaleTrackers []Tracker

	// DecodeErrors lists accounts skipped because they failed to decode.
	DecodeErrors []*DecodeError
}

// DecodeError reports one account that could not be decoded. The account is
// skipped and the rest of the snapshot is used.
type DecodeError struct {
	Account solana.Pubkey
	Kind    string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("crank: decoding %s account %s: %v", e.Kind, e.Account, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ActionKind identifies a tracker lifecycle operation.
type ActionKind int

// Action kinds. ActionNone marks a vault that needs nothing this tick.
const (
	ActionNone ActionKind = iota
	ActionInitialize
	ActionCrank
	ActionClose
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionInitialize:
		return "initialize"
	case ActionCrank:
		return "crank"
	case ActionClose:
		return "close"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is one lifecycle operation for one vault.
//
// Initialize carries the epoch to open a tracker for; Tracker is zero since
// the executor derives the address. Crank carries the full visiting order in
// Delegations and the number already applied in StartAt. Close carries the
// tracker and its ncn_epoch.
type Action struct {
	Kind        ActionKind
	Vault       solana.Pubkey
	Epoch       uint64
	Tracker     solana.Pubkey
	Delegations []OperatorDelegation
	StartAt     uint64
}

// Remaining returns the delegations a Crank action still has to apply.
func (a *Action) Remaining() []OperatorDelegation {
	if a.StartAt >= uint64(len(a.Delegations)) {
		return nil
	}

	return a.Delegations[a.StartAt:]
}

// ActionError is a failed action with enough context to alert or retry on.
type ActionError struct {
	Kind  ActionKind
	Vault solana.Pubkey
	Epoch uint64
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("crank: %s vault %s epoch %d: %v", e.Kind, e.Vault, e.Epoch, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Outcome is how the executor disposed of an action that did not fail.
type Outcome int

// Executor outcomes.
const (
	// OutcomeApplied means at least one transaction landed.
	OutcomeApplied Outcome = iota
	// OutcomeAlreadyDone means chain state already reflected the action.
	OutcomeAlreadyDone
)

// ActionResult is what the executor reports for one action.
type ActionResult struct {
	Outcome    Outcome
	Signatures []solana.Signature
}

// ActionStatus is the recorded disposition of a planned action.
type ActionStatus string

// Action statuses as stored in the ledger.
const (
	StatusPlanned     ActionStatus = "planned"
	StatusSucceeded   ActionStatus = "succeeded"
	StatusAlreadyDone ActionStatus = "already_done"
	StatusFailed      ActionStatus = "failed"
	StatusSuppressed  ActionStatus = "suppressed"
)

// ActionOutcome records what happened to one action during a tick.
type ActionOutcome struct {
	Action     Action
	Status     ActionStatus
	Signatures []solana.Signature
	Err        error
	Duration   time.Duration
}

// TickReport summarizes one tick.
type TickReport struct {
	CycleID     string
	StartedAt   time.Time
	Duration    time.Duration
	DryRun      bool
	Slot        uint64
	Epoch       uint64
	EpochLength uint64

	// Decisions holds the per-vault verdict, including vaults that needed
	// nothing. States counts them per lifecycle state.
	Decisions []Decision
	States    map[TrackerState]int

	Planned     int
	Attempted   int
	Succeeded   int
	AlreadyDone int
	Suppressed  int
	Failed      int

	Outcomes []ActionOutcome
	Errors   []error
}

// MadeProgress reports whether any action changed chain state, which means
// the next lifecycle step is likely due soon.
func (r *TickReport) MadeProgress() bool {
	return r.Succeeded > 0
}
