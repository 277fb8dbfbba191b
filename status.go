package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/chrono-crank/internal/crank"
)

const defaultStatusLimit = 20

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent ticks from the ledger",
		Long: `Display the most recent ticks recorded in the local ledger: when they ran,
the epoch they saw, and how many actions succeeded or failed.

Use --cycle to list the individual actions of one tick, including their
transaction signatures.`,
		RunE: runStatus,
	}

	cmd.Flags().Int("limit", defaultStatusLimit, "number of ticks to show")
	cmd.Flags().String("cycle", "", "show the actions of one tick by cycle ID")

	return cmd
}

// tickRowJSON is one row of "status --json".
type tickRowJSON struct {
	CycleID     string    `json:"cycle_id"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Slot        uint64    `json:"slot"`
	Epoch       uint64    `json:"epoch"`
	DryRun      bool      `json:"dry_run"`
	Planned     int       `json:"planned"`
	Attempted   int       `json:"attempted"`
	Succeeded   int       `json:"succeeded"`
	AlreadyDone int       `json:"already_done"`
	Suppressed  int       `json:"suppressed"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

// actionRowJSON is one row of "status --cycle --json".
type actionRowJSON struct {
	Vault      string   `json:"vault"`
	Kind       string   `json:"kind"`
	Epoch      uint64   `json:"epoch"`
	Status     string   `json:"status"`
	Signatures []string `json:"signatures,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	if limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", limit)
	}

	cycle, err := cmd.Flags().GetString("cycle")
	if err != nil {
		return err
	}

	// Do not create an empty ledger just to report that it is empty.
	if _, statErr := os.Stat(cc.Cfg.StateDBPath); errors.Is(statErr, os.ErrNotExist) {
		fmt.Fprintf(os.Stdout, "No ticks recorded yet (no ledger at %s).\n", cc.Cfg.StateDBPath)
		return nil
	}

	ledger, err := crank.OpenLedger(cmd.Context(), cc.Cfg.StateDBPath, cc.Cfg.LedgerRetention, cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if cycle != "" {
		return showTickActions(cmd.Context(), os.Stdout, ledger, cycle, cc.Flags.JSON)
	}

	ticks, err := ledger.RecentTicks(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if !cc.Flags.JSON {
		printLoopState(os.Stdout, runLockPath(cc.Cfg))
	}

	return printTicks(os.Stdout, ticks, cc.Flags.JSON)
}

// printLoopState reports which loop, if any, holds the ledger's run lock.
func printLoopState(w io.Writer, lockPath string) {
	holder, err := liveRunLock(lockPath)
	if err != nil {
		fmt.Fprint(w, "Crank loop: not running\n\n")
		return
	}

	fmt.Fprintf(w, "Crank loop: %s, program %s, since %s\n\n",
		holder.String(), holder.Program, formatTime(holder.StartedAt))
}

func printTicks(w io.Writer, ticks []crank.TickRow, asJSON bool) error {
	if asJSON {
		out := make([]tickRowJSON, 0, len(ticks))
		for i := range ticks {
			t := &ticks[i]
			out = append(out, tickRowJSON{
				CycleID:     t.CycleID,
				StartedAt:   t.StartedAt,
				DurationMS:  t.Duration.Milliseconds(),
				Slot:        t.Slot,
				Epoch:       t.Epoch,
				DryRun:      t.DryRun,
				Planned:     t.Planned,
				Attempted:   t.Attempted,
				Succeeded:   t.Succeeded,
				AlreadyDone: t.AlreadyDone,
				Suppressed:  t.Suppressed,
				Failed:      t.Failed,
				Error:       t.ErrorMsg,
			})
		}

		return printJSON(w, out)
	}

	if len(ticks) == 0 {
		fmt.Fprintln(w, "No ticks recorded yet.")
		return nil
	}

	rows := make([][]string, 0, len(ticks))

	for i := range ticks {
		t := &ticks[i]

		result := fmt.Sprintf("%d ok, %d done, %d failed", t.Succeeded, t.AlreadyDone, t.Failed)

		switch {
		case t.ErrorMsg != "":
			result = "error: " + t.ErrorMsg
		case t.DryRun:
			result = fmt.Sprintf("dry run, %d planned", t.Planned)
		case t.Planned == 0:
			result = "nothing to do"
		}

		rows = append(rows, []string{
			t.CycleID,
			formatTime(t.StartedAt),
			formatCount(t.Epoch),
			formatCount(t.Slot),
			formatDuration(t.Duration),
			result,
		})
	}

	printTable(w, []string{"CYCLE", "STARTED", "EPOCH", "SLOT", "DURATION", "RESULT"}, rows)

	return nil
}

func showTickActions(ctx context.Context, w io.Writer, ledger *crank.Ledger, cycle string, asJSON bool) error {
	actions, err := ledger.ActionsForTick(ctx, cycle)
	if err != nil {
		return err
	}

	if asJSON {
		out := make([]actionRowJSON, 0, len(actions))
		for i := range actions {
			a := &actions[i]
			out = append(out, actionRowJSON{
				Vault:      a.Vault,
				Kind:       a.Kind,
				Epoch:      a.Epoch,
				Status:     string(a.Status),
				Signatures: a.Signatures,
				Error:      a.ErrorMsg,
				DurationMS: a.Duration.Milliseconds(),
			})
		}

		return printJSON(w, out)
	}

	if len(actions) == 0 {
		fmt.Fprintf(w, "No actions recorded for cycle %s.\n", cycle)
		return nil
	}

	rows := make([][]string, 0, len(actions))

	for i := range actions {
		a := &actions[i]

		sigs := make([]string, len(a.Signatures))
		for j, s := range a.Signatures {
			sigs[j] = shortKey(s)
		}

		rows = append(rows, []string{
			a.Vault,
			a.Kind,
			string(a.Status),
			formatDuration(a.Duration),
			strings.Join(sigs, " "),
			a.ErrorMsg,
		})
	}

	printTable(w, []string{"VAULT", "ACTION", "STATUS", "DURATION", "SIGNATURES", "ERROR"}, rows)

	return nil
}
