package crank

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultParallelVaults = 1
	slotBufferSize        = 64
)

// SnapshotProvider reads the chain state one tick plans against.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ActionExecutor submits one action to the chain. Implementations must be
// safe for concurrent use across distinct vaults.
type ActionExecutor interface {
	Execute(ctx context.Context, a *Action) (*ActionResult, error)
}

// TickRecorder persists tick reports. tickErr is set when the tick aborted.
type TickRecorder interface {
	RecordTick(ctx context.Context, r *TickReport, tickErr error) error
}

// SlotSource streams observed slots until ctx is canceled.
type SlotSource interface {
	Run(ctx context.Context, out chan<- uint64) error
}

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Provider         SnapshotProvider // satisfied by *ChainSnapshotProvider
	Executor         ActionExecutor   // satisfied by *ChainExecutor
	Recorder         TickRecorder     // optional: nil disables the ledger
	Logger           *slog.Logger
	ParallelVaults   int           // concurrent vault actions per tick; <1 means 1
	TickTimeout      time.Duration // 0 disables
	ActionTimeout    time.Duration // 0 disables
	FailureThreshold int           // watch-mode suppression; 0 disables
	FailureCooldown  time.Duration
}

// RunOpts holds per-tick options for RunOnce.
type RunOpts struct {
	DryRun bool
}

// WatchOpts holds options for RunWatch. Intervals is consulted before every
// wait, so a config reload takes effect from the next tick. Slots is
// optional; when set, an observed epoch rollover wakes the loop early.
type WatchOpts struct {
	DryRun    bool
	Intervals func() (poll, followup time.Duration)
	Slots     SlotSource
}

// Engine orchestrates ticks: snapshot → plan → execute → record.
type Engine struct {
	provider      SnapshotProvider
	executor      ActionExecutor
	recorder      TickRecorder
	planner       *Planner
	failures      *failureTracker
	parallel      int
	tickTimeout   time.Duration
	actionTimeout time.Duration
	logger        *slog.Logger
	afterFunc     func(d time.Duration) <-chan time.Time // injectable for testing
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg *EngineConfig) *Engine {
	parallel := cfg.ParallelVaults
	if parallel < 1 {
		parallel = defaultParallelVaults
	}

	return &Engine{
		provider:      cfg.Provider,
		executor:      cfg.Executor,
		recorder:      cfg.Recorder,
		planner:       NewPlanner(cfg.Logger),
		failures:      newFailureTracker(cfg.FailureThreshold, cfg.FailureCooldown, cfg.Logger),
		parallel:      parallel,
		tickTimeout:   cfg.TickTimeout,
		actionTimeout: cfg.ActionTimeout,
		logger:        cfg.Logger,
		afterFunc:     time.After,
	}
}

// RunOnce executes a single tick:
//  1. Read a snapshot (abort the tick on any read failure)
//  2. Plan one action per vault
//  3. Return early if dry-run
//  4. Execute actions with bounded parallelism, isolating failures
//  5. Record the report in the ledger
//
// A failed action does not make RunOnce return an error; it is counted in
// the report. Only a snapshot failure aborts the tick.
func (e *Engine) RunOnce(ctx context.Context, opts RunOpts) (*TickReport, error) {
	start := time.Now()

	e.logger.Info("tick starting", slog.Bool("dry_run", opts.DryRun))

	tickCtx, cancel := withOptionalTimeout(ctx, e.tickTimeout)
	defer cancel()

	// Step 1: Snapshot.
	snap, err := e.provider.Snapshot(tickCtx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSnapshotFetch, err)
		failed := &TickReport{
			CycleID:   uuid.New().String(),
			StartedAt: start,
			Duration:  time.Since(start),
			DryRun:    opts.DryRun,
		}
		e.record(ctx, failed, err)

		return nil, err
	}

	for _, de := range snap.DecodeErrors {
		e.logger.Warn("skipping undecodable account",
			slog.String("account", de.Account.String()),
			slog.String("kind", de.Kind),
			slog.String("error", de.Err.Error()),
		)
	}

	// Step 2: Plan.
	plan := e.planner.Plan(snap)

	report := &TickReport{
		CycleID:     plan.CycleID,
		StartedAt:   start,
		DryRun:      opts.DryRun,
		Slot:        plan.Slot,
		Epoch:       plan.Epoch,
		EpochLength: plan.EpochLength,
		Decisions:   plan.Decisions,
		States:      plan.States(),
		Planned:     len(plan.Actions),
	}

	// Step 3: Dry run.
	if opts.DryRun {
		report.Outcomes = make([]ActionOutcome, len(plan.Actions))
		for i := range plan.Actions {
			report.Outcomes[i] = ActionOutcome{Action: plan.Actions[i], Status: StatusPlanned}
		}

		report.Duration = time.Since(start)
		e.logger.Info("dry-run complete: no transactions sent",
			slog.String("cycle_id", report.CycleID),
			slog.Int("planned", report.Planned),
			slog.Duration("duration", report.Duration),
		)
		e.record(ctx, report, nil)

		return report, nil
	}

	// Step 4: Execute.
	e.executePlan(tickCtx, plan, report)

	report.Duration = time.Since(start)

	e.logger.Info("tick complete",
		slog.String("cycle_id", report.CycleID),
		slog.Uint64("epoch", report.Epoch),
		slog.Int("planned", report.Planned),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("already_done", report.AlreadyDone),
		slog.Int("suppressed", report.Suppressed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)

	// Step 5: Record.
	e.record(ctx, report, nil)

	return report, nil
}

// executePlan runs every action, at most e.parallel at a time. Each action
// writes only its own slot in outcomes, so no locking is needed.
func (e *Engine) executePlan(ctx context.Context, plan *Plan, report *TickReport) {
	outcomes := make([]ActionOutcome, len(plan.Actions))

	g := new(errgroup.Group)
	g.SetLimit(e.parallel)

	for i := range plan.Actions {
		a := plan.Actions[i]

		if e.failures.shouldSkip(a.Vault.String()) {
			e.logger.Warn("skipping suppressed vault",
				slog.String("vault", a.Vault.String()),
				slog.String("kind", a.Kind.String()),
			)

			outcomes[i] = ActionOutcome{Action: a, Status: StatusSuppressed}

			continue
		}

		g.Go(func() error {
			outcomes[i] = e.executeAction(ctx, a)
			return nil
		})
	}

	_ = g.Wait()

	report.Outcomes = outcomes

	for i := range outcomes {
		switch outcomes[i].Status {
		case StatusSucceeded:
			report.Attempted++
			report.Succeeded++
		case StatusAlreadyDone:
			report.Attempted++
			report.AlreadyDone++
		case StatusFailed:
			report.Attempted++
			report.Failed++
			report.Errors = append(report.Errors, outcomes[i].Err)
		case StatusSuppressed:
			report.Suppressed++
		case StatusPlanned:
		}
	}
}

func (e *Engine) executeAction(ctx context.Context, a Action) ActionOutcome {
	start := time.Now()

	actx, cancel := withOptionalTimeout(ctx, e.actionTimeout)
	defer cancel()

	res, err := e.executor.Execute(actx, &a)
	if res == nil {
		res = &ActionResult{}
	}

	out := ActionOutcome{
		Action:     a,
		Signatures: res.Signatures,
		Duration:   time.Since(start),
	}

	vault := a.Vault.String()

	if err != nil {
		out.Status = StatusFailed
		out.Err = &ActionError{Kind: a.Kind, Vault: a.Vault, Epoch: a.Epoch, Err: err}

		e.failures.recordFailure(vault, err.Error())
		e.logger.Warn("action failed",
			slog.String("vault", vault),
			slog.String("kind", a.Kind.String()),
			slog.Uint64("epoch", a.Epoch),
			slog.Int("transactions_landed", len(res.Signatures)),
			slog.String("error", err.Error()),
		)

		return out
	}

	e.failures.recordSuccess(vault)

	if res.Outcome == OutcomeAlreadyDone {
		out.Status = StatusAlreadyDone
		e.logger.Info("action already applied on chain",
			slog.String("vault", vault),
			slog.String("kind", a.Kind.String()),
			slog.Uint64("epoch", a.Epoch),
		)

		return out
	}

	out.Status = StatusSucceeded
	e.logger.Info("action applied",
		slog.String("vault", vault),
		slog.String("kind", a.Kind.String()),
		slog.Uint64("epoch", a.Epoch),
		slog.Int("transactions", len(res.Signatures)),
		slog.Duration("duration", out.Duration),
	)

	return out
}

// record writes the report to the ledger. The write outlives a canceled
// ctx so the final tick before shutdown is still recorded. Ledger failures
// are logged, never fatal.
func (e *Engine) record(ctx context.Context, report *TickReport, tickErr error) {
	if e.recorder == nil {
		return
	}

	if err := e.recorder.RecordTick(context.WithoutCancel(ctx), report, tickErr); err != nil {
		e.logger.Warn("recording tick in ledger failed",
			slog.String("cycle_id", report.CycleID),
			slog.String("error", err.Error()),
		)
	}
}

// RunWatch runs ticks until ctx is canceled. After a tick that changed
// chain state (or failed), the next tick follows after the followup delay;
// otherwise after the poll interval. With a slot source, a slot that lands
// in a later epoch than the last tick saw wakes the loop immediately.
// Returns nil on clean shutdown.
func (e *Engine) RunWatch(ctx context.Context, opts WatchOpts) error {
	poll, followup := opts.Intervals()

	e.logger.Info("watch mode starting",
		slog.Bool("dry_run", opts.DryRun),
		slog.Duration("poll_interval", poll),
		slog.Duration("followup_delay", followup),
		slog.Bool("slot_subscribe", opts.Slots != nil),
		slog.Int("parallel_vaults", e.parallel),
	)

	var slots <-chan uint64

	if opts.Slots != nil {
		ch := make(chan uint64, slotBufferSize)
		slots = ch

		go func() {
			if err := opts.Slots.Run(ctx, ch); err != nil {
				e.logger.Warn("slot subscription stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var lastEpoch, epochLength uint64

	for {
		report, err := e.RunOnce(ctx, RunOpts{DryRun: opts.DryRun})

		if ctx.Err() != nil {
			e.logger.Info("watch mode stopped")
			return nil
		}

		poll, followup = opts.Intervals()
		wait := poll
		wake := slots

		switch {
		case err != nil:
			e.logger.Error("tick failed", slog.String("error", err.Error()))

			// The epoch is unknown after a failed read; rely on the timer.
			wait = followup
			wake = nil
		case report.MadeProgress():
			wait = followup
		}

		if report != nil {
			lastEpoch, epochLength = report.Epoch, report.EpochLength
		}

		if !e.waitForNextTick(ctx, wait, wake, lastEpoch, epochLength) {
			e.logger.Info("watch mode stopped")
			return nil
		}
	}
}

// waitForNextTick blocks until d elapses or a slot in a later epoch than
// epoch arrives. Returns false if ctx is canceled first.
func (e *Engine) waitForNextTick(
	ctx context.Context, d time.Duration, slots <-chan uint64, epoch, epochLength uint64,
) bool {
	timer := e.afterFunc(d)

	for {
		// A ready timer must not win over shutdown.
		if ctx.Err() != nil {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case slot, ok := <-slots:
			if !ok {
				slots = nil
				continue
			}

			if epochLength > 0 && CurrentEpoch(slot, epochLength) > epoch {
				e.logger.Info("epoch rollover observed",
					slog.Uint64("slot", slot),
					slog.Uint64("previous_epoch", epoch),
					slog.Uint64("epoch", CurrentEpoch(slot, epochLength)),
				)

				return true
			}
		}
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}
