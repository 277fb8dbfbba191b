package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// tickJSON is the --json shape of a tick report.
type tickJSON struct {
	CycleID     string         `json:"cycle_id"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMS  int64          `json:"duration_ms"`
	DryRun      bool           `json:"dry_run"`
	Slot        uint64         `json:"slot"`
	Epoch       uint64         `json:"epoch"`
	EpochLength uint64         `json:"epoch_length"`
	Planned     int            `json:"planned"`
	Attempted   int            `json:"attempted"`
	Succeeded   int            `json:"succeeded"`
	AlreadyDone int            `json:"already_done"`
	Suppressed  int            `json:"suppressed"`
	Failed      int            `json:"failed"`
	States      map[string]int `json:"states"`
	Decisions   []decisionJSON `json:"decisions"`
	Actions     []actionJSON   `json:"actions"`
}

type decisionJSON struct {
	Vault   string `json:"vault"`
	State   string `json:"state"`
	Action  string `json:"action"`
	Warning string `json:"warning,omitempty"`
}

type actionJSON struct {
	Vault       string   `json:"vault"`
	Kind        string   `json:"kind"`
	Epoch       uint64   `json:"epoch"`
	Delegations int      `json:"delegations,omitempty"`
	Status      string   `json:"status"`
	Signatures  []string `json:"signatures,omitempty"`
	Error       string   `json:"error,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

func newTickJSON(r *crank.TickReport) tickJSON {
	out := tickJSON{
		CycleID:     r.CycleID,
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
		DryRun:      r.DryRun,
		Slot:        r.Slot,
		Epoch:       r.Epoch,
		EpochLength: r.EpochLength,
		Planned:     r.Planned,
		Attempted:   r.Attempted,
		Succeeded:   r.Succeeded,
		AlreadyDone: r.AlreadyDone,
		Suppressed:  r.Suppressed,
		Failed:      r.Failed,
		States:      make(map[string]int, len(r.States)),
		Decisions:   make([]decisionJSON, 0, len(r.Decisions)),
		Actions:     make([]actionJSON, 0, len(r.Outcomes)),
	}

	for state, n := range r.States {
		out.States[state.String()] = n
	}

	for _, d := range r.Decisions {
		out.Decisions = append(out.Decisions, decisionJSON{
			Vault:   d.Vault.String(),
			State:   d.State.String(),
			Action:  d.Kind.String(),
			Warning: d.Warning,
		})
	}

	for i := range r.Outcomes {
		o := &r.Outcomes[i]

		a := actionJSON{
			Vault:       o.Action.Vault.String(),
			Kind:        o.Action.Kind.String(),
			Epoch:       o.Action.Epoch,
			Delegations: len(o.Action.Remaining()),
			Status:      string(o.Status),
			Signatures:  signatureStrings(o.Signatures),
			DurationMS:  o.Duration.Milliseconds(),
		}

		if o.Err != nil {
			a.Error = o.Err.Error()
		}

		out.Actions = append(out.Actions, a)
	}

	return out
}

func signatureStrings(sigs []solana.Signature) []string {
	if len(sigs) == 0 {
		return nil
	}

	out := make([]string, len(sigs))
	for i := range sigs {
		out[i] = sigs[i].String()
	}

	return out
}

// printTickReport writes one tick as a per-vault table followed by totals,
// or as JSON.
func printTickReport(w io.Writer, r *crank.TickReport, asJSON bool) error {
	if asJSON {
		return printJSON(w, newTickJSON(r))
	}

	mode := ""
	if r.DryRun {
		mode = "  (dry run)"
	}

	fmt.Fprintf(w, "Epoch %s at slot %s%s\n\n", formatCount(r.Epoch), formatCount(r.Slot), mode)

	if len(r.Decisions) == 0 {
		fmt.Fprintln(w, "No vaults found.")
		return nil
	}

	outcomes := make(map[solana.Pubkey]*crank.ActionOutcome, len(r.Outcomes))
	for i := range r.Outcomes {
		outcomes[r.Outcomes[i].Action.Vault] = &r.Outcomes[i]
	}

	rows := make([][]string, 0, len(r.Decisions))

	for _, d := range r.Decisions {
		status, txs, note := "-", "", d.Warning

		if o, ok := outcomes[d.Vault]; ok {
			status = string(o.Status)
			txs = fmt.Sprint(len(o.Signatures))

			if o.Err != nil {
				note = o.Err.Error()
			}
		}

		rows = append(rows, []string{d.Vault.String(), d.State.String(), d.Kind.String(), status, txs, note})
	}

	printTable(w, []string{"VAULT", "STATE", "ACTION", "STATUS", "TXS", "NOTE"}, rows)

	fmt.Fprintf(w, "\n%s\n", formatStates(r.States))
	fmt.Fprintf(w, "planned %d, succeeded %d, already done %d, suppressed %d, failed %d in %s\n",
		r.Planned, r.Succeeded, r.AlreadyDone, r.Suppressed, r.Failed, formatDuration(r.Duration))

	return nil
}

// formatStates renders per-state vault counts in lifecycle order, e.g.
// "vaults: 3 up_to_date, 1 cranking".
func formatStates(states map[crank.TrackerState]int) string {
	order := []crank.TrackerState{
		crank.StateUntracked, crank.StateCranking, crank.StateFullyAdvanced,
		crank.StateStale, crank.StateInvalid, crank.StateUpToDate,
	}

	var parts []string

	for _, s := range order {
		if n := states[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}

	if len(parts) == 0 {
		return "vaults: none"
	}

	return "vaults: " + strings.Join(parts, ", ")
}
