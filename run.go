package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/chrono-crank/internal/config"
	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/rpc"
)

// errTickFailed is returned by "run --once" when at least one action failed,
// so scripts and timers see a non-zero exit status.
var errTickFailed = errors.New("one or more actions failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the crank loop",
		Long: `Run the crank until interrupted. Each tick reads chain state, plans one
action per vault, and submits the transactions.

After a tick that changed chain state the next tick follows after
followup_delay; otherwise the loop sleeps for poll_interval or until a new
epoch begins. Send SIGHUP (or run 'chrono-crank reload') to reload the config
file without restarting.

Use --once to run a single tick and exit, for example from a systemd timer.
Use --dry-run to plan without sending transactions.`,
		RunE: runRun,
	}

	cmd.Flags().Bool("once", false, "run a single tick and exit")
	cmd.Flags().Bool("dry-run", false, "plan actions without sending transactions")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	resolved := cc.Cfg
	logger := cc.Logger

	once, err := cmd.Flags().GetBool("once")
	if err != nil {
		return err
	}

	ctx, reloads := crankSignals(cmd.Context(), logger)

	session, err := newCrankSession(ctx, resolved, sessionOpts{Signer: !resolved.DryRun, Ledger: true}, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	// One loop per ledger, whether it runs once or keeps watching.
	lock, err := acquireRunLock(runLockPath(resolved), sessionHolder(resolved, session))
	if err != nil {
		return err
	}
	defer lock.Release()

	if once {
		return runOnce(ctx, cc, session)
	}

	return runWatch(ctx, cmd, cc, session, reloads)
}

// sessionHolder describes this process for the run lock.
func sessionHolder(resolved *config.Resolved, session *crankSession) lockHolder {
	h := lockHolder{
		PID:       os.Getpid(),
		Program:   resolved.VaultProgramID.String(),
		DryRun:    resolved.DryRun,
		StartedAt: time.Now().UTC(),
	}

	if !session.Signer.IsZero() {
		h.Signer = session.Signer.String()
	}

	return h
}

func runOnce(ctx context.Context, cc *CLIContext, session *crankSession) error {
	report, err := session.Engine.RunOnce(ctx, crank.RunOpts{DryRun: cc.Cfg.DryRun})
	if err != nil {
		return err
	}

	if err := printTickReport(os.Stdout, report, cc.Flags.JSON); err != nil {
		return err
	}

	if report.Failed > 0 {
		return errTickFailed
	}

	return nil
}

func runWatch(
	ctx context.Context, cmd *cobra.Command, cc *CLIContext, session *crankSession, reloads <-chan struct{},
) error {
	resolved := cc.Cfg
	logger := cc.Logger

	holder := config.NewHolder(resolved, resolved.ConfigPath)
	r := newReloader(holder, func() (*config.Resolved, error) { return loadConfig(cmd) }, cc.Level, logger)

	go r.listen(ctx, reloads)

	if _, statErr := os.Stat(holder.Path()); statErr == nil {
		go func() {
			if watchErr := config.Watch(ctx, holder.Path(), logger, func() { r.reload("file change") }); watchErr != nil {
				logger.Warn("config file watch stopped", slog.String("error", watchErr.Error()))
			}
		}()
	}

	opts := crank.WatchOpts{
		DryRun: resolved.DryRun,
		Intervals: func() (time.Duration, time.Duration) {
			current := holder.Config()
			return current.PollInterval, current.FollowupDelay
		},
	}

	if resolved.SlotSubscribe {
		wsURL, wsErr := slotWebsocketURL(resolved)
		if wsErr != nil {
			logger.Warn("slot subscription disabled", slog.String("error", wsErr.Error()))
		} else {
			opts.Slots = rpc.NewSlotSubscriber(wsURL, resolved.RPCToken, logger)
		}
	}

	if resolved.DryRun {
		cc.Statusf("chrono-crank running in dry-run mode (Ctrl-C to stop)\n")
	} else {
		cc.Statusf("chrono-crank running as %s (Ctrl-C to stop)\n", session.Signer)
	}

	if err := session.Engine.RunWatch(ctx, opts); err != nil {
		return fmt.Errorf("crank loop: %w", err)
	}

	return nil
}
