package crank

import (
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// Decision is the planner's verdict for one vault. Warning is set when the
// vault needs operator attention (fallback ordering, an invalid tracker, a
// tracker that cannot advance).
type Decision struct {
	Vault   solana.Pubkey
	State   TrackerState
	Kind    ActionKind
	Warning string
}

// Plan is the output of one planning pass: at most one action per vault,
// sorted by vault address.
type Plan struct {
	CycleID     string
	Slot        uint64
	Epoch       uint64
	EpochLength uint64
	Actions     []Action
	Decisions   []Decision
}

// States counts vaults per lifecycle state.
func (p *Plan) States() map[TrackerState]int {
	counts := make(map[TrackerState]int)
	for i := range p.Decisions {
		counts[p.Decisions[i].State]++
	}

	return counts
}

// Planner is a pure decision engine that turns a Snapshot into a Plan. It
// performs no I/O.
type Planner struct {
	logger *slog.Logger
}

// NewPlanner creates a Planner with the given logger.
func NewPlanner(logger *slog.Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan decides, for every vault in the snapshot, which single lifecycle
// action (if any) applies this tick.
func (p *Planner) Plan(snap *Snapshot) *Plan {
	p.logger.Debug("planning tracker actions",
		slog.Uint64("epoch", snap.CurrentEpoch),
		slog.Int("vaults", len(snap.Vaults)),
		slog.Int("trackers", len(snap.Trackers)),
		slog.Int("stale_trackers", len(snap.StaleTrackers)),
	)

	byVault := groupDelegations(snap.Delegations)
	stale := oldestStaleTrackers(snap.StaleTrackers)

	plan := &Plan{
		CycleID:     uuid.New().String(),
		Slot:        snap.Slot,
		Epoch:       snap.CurrentEpoch,
		EpochLength: snap.EpochLength,
	}

	addrs := make([]solana.Pubkey, 0, len(snap.Vaults))
	for addr := range snap.Vaults {
		addrs = append(addrs, addr)
	}

	slices.SortFunc(addrs, solana.Compare)

	for _, addr := range addrs {
		v := snap.Vaults[addr]

		var tracker *Tracker
		if t, ok := snap.Trackers[addr]; ok {
			tracker = &t
		}

		var staleTracker *Tracker
		if t, ok := stale[addr]; ok {
			staleTracker = &t
		}

		d, action := p.decide(&v, tracker, staleTracker, byVault[addr], snap)
		plan.Decisions = append(plan.Decisions, d)

		if action != nil {
			plan.Actions = append(plan.Actions, *action)
		}
	}

	counts := countByKind(plan.Actions)

	p.logger.Info("plan complete",
		slog.String("cycle_id", plan.CycleID),
		slog.Uint64("epoch", plan.Epoch),
		slog.Int("total_actions", len(plan.Actions)),
		slog.Int("initializes", counts[ActionInitialize]),
		slog.Int("cranks", counts[ActionCrank]),
		slog.Int("closes", counts[ActionClose]),
	)

	return plan
}

// decide applies the per-vault policy. A stale tracker blocks initializing
// the current epoch's tracker, so it is closed first.
func (p *Planner) decide(
	v *Vault, tracker, stale *Tracker, delegations []OperatorDelegation, snap *Snapshot,
) (Decision, *Action) {
	if stale != nil {
		p.logger.Info("closing stale tracker",
			slog.String("vault", v.Address.String()),
			slog.String("tracker", stale.Address.String()),
			slog.Uint64("ncn_epoch", stale.NcnEpoch),
			slog.Uint64("current_epoch", snap.CurrentEpoch),
		)

		return Decision{Vault: v.Address, State: StateStale, Kind: ActionClose},
			&Action{Kind: ActionClose, Vault: v.Address, Epoch: stale.NcnEpoch, Tracker: stale.Address}
	}

	state := ClassifyTracker(v, tracker, snap.CurrentEpoch, snap.EpochLength)
	d := Decision{Vault: v.Address, State: state}

	switch state {
	case StateUntracked:
		d.Kind = ActionInitialize

		return d, &Action{Kind: ActionInitialize, Vault: v.Address, Epoch: snap.CurrentEpoch}

	case StateFullyAdvanced:
		d.Kind = ActionClose

		return d, &Action{Kind: ActionClose, Vault: v.Address, Epoch: tracker.NcnEpoch, Tracker: tracker.Address}

	case StateCranking:
		return p.decideCrank(d, v, tracker, delegations)

	case StateInvalid:
		d.Warning = "tracker progress exceeds operator count"
		p.logger.Warn("skipping invalid tracker",
			slog.String("vault", v.Address.String()),
			slog.String("tracker", tracker.Address.String()),
			slog.Uint64("last_updated_index", tracker.LastUpdatedIndex),
			slog.Uint64("operator_count", v.OperatorCount),
		)

		return d, nil

	default:
		return d, nil
	}
}

func (p *Planner) decideCrank(
	d Decision, v *Vault, tracker *Tracker, delegations []OperatorDelegation,
) (Decision, *Action) {
	ordered, fellBack := OrderDelegations(tracker.NcnEpoch, v.OperatorCount, delegations)
	if fellBack {
		d.Warning = "no delegation at round-robin start index"
		p.logger.Warn("delegation order fell back to next live index",
			slog.String("vault", v.Address.String()),
			slog.Uint64("start_index", tracker.NcnEpoch%v.OperatorCount),
			slog.Uint64("first_index", ordered[0].Index),
		)
	}

	if tracker.LastUpdatedIndex >= uint64(len(ordered)) {
		d.Warning = "tracker cannot advance: no delegation records left to apply"
		p.logger.Warn("tracker stuck",
			slog.String("vault", v.Address.String()),
			slog.Uint64("last_updated_index", tracker.LastUpdatedIndex),
			slog.Uint64("operator_count", v.OperatorCount),
			slog.Int("delegations", len(ordered)),
		)

		return d, nil
	}

	d.Kind = ActionCrank

	return d, &Action{
		Kind:        ActionCrank,
		Vault:       v.Address,
		Epoch:       tracker.NcnEpoch,
		Tracker:     tracker.Address,
		Delegations: ordered,
		StartAt:     tracker.LastUpdatedIndex,
	}
}

func groupDelegations(delegations []OperatorDelegation) map[solana.Pubkey][]OperatorDelegation {
	out := make(map[solana.Pubkey][]OperatorDelegation)
	for _, d := range delegations {
		out[d.Vault] = append(out[d.Vault], d)
	}

	return out
}

// oldestStaleTrackers keeps, per vault, the stale tracker with the lowest
// ncn_epoch. Older trackers are closed before newer ones.
func oldestStaleTrackers(trackers []Tracker) map[solana.Pubkey]Tracker {
	out := make(map[solana.Pubkey]Tracker)

	for _, t := range trackers {
		cur, ok := out[t.Vault]
		if !ok || t.NcnEpoch < cur.NcnEpoch ||
			(t.NcnEpoch == cur.NcnEpoch && solana.Compare(t.Address, cur.Address) < 0) {
			out[t.Vault] = t
		}
	}

	return out
}

func countByKind(actions []Action) map[ActionKind]int {
	counts := make(map[ActionKind]int)
	for i := range actions {
		counts[actions[i].Kind]++
	}

	return counts
}
