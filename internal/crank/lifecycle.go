package crank

// TrackerState is where a vault stands in its per-epoch update cycle.
type TrackerState int

// Tracker states. Initializing and Closed are transient and never observed
// in a snapshot: a just-created tracker reads as Cranking or FullyAdvanced,
// and a closed one as UpToDate.
const (
	// StateUntracked: no tracker exists and the vault has not been fully
	// updated this epoch.
	StateUntracked TrackerState = iota
	// StateUpToDate: no tracker exists and the vault was fully updated this
	// epoch or later.
	StateUpToDate
	// StateCranking: a current-epoch tracker has delegations left to apply.
	StateCranking
	// StateFullyAdvanced: a current-epoch tracker has applied every
	// delegation and can be closed.
	StateFullyAdvanced
	// StateStale: a tracker from a previous epoch was never closed.
	StateStale
	// StateInvalid: tracker contents contradict the vault (progress past
	// operator_count, or an epoch in the future).
	StateInvalid
)

func (s TrackerState) String() string {
	switch s {
	case StateUntracked:
		return "untracked"
	case StateUpToDate:
		return "up_to_date"
	case StateCranking:
		return "cranking"
	case StateFullyAdvanced:
		return "fully_advanced"
	case StateStale:
		return "stale"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ClassifyTracker places a vault in its lifecycle given its tracker (nil when
// none exists) and the current epoch.
func ClassifyTracker(v *Vault, t *Tracker, currentEpoch, epochLength uint64) TrackerState {
	if t == nil {
		// A vault updated in a later epoch than our slot read is ahead of
		// us, not behind.
		if CurrentEpoch(v.LastFullStateUpdateSlot, epochLength) >= currentEpoch {
			return StateUpToDate
		}

		return StateUntracked
	}

	switch {
	case t.NcnEpoch < currentEpoch:
		return StateStale
	case t.NcnEpoch > currentEpoch:
		return StateInvalid
	case t.LastUpdatedIndex > v.OperatorCount:
		return StateInvalid
	case t.LastUpdatedIndex == v.OperatorCount:
		return StateFullyAdvanced
	default:
		return StateCranking
	}
}
