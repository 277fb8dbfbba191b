package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/solana"
)

func newTrackersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trackers",
		Short: "List open vault update state trackers",
		Long: `List every vault update state tracker on chain with its epoch, progress,
and lifecycle state. Trackers from earlier epochs are shown as stale.`,
		RunE: runTrackers,
	}
}

// trackerJSON is one row of "trackers --json".
type trackerJSON struct {
	Address          string `json:"address"`
	Vault            string `json:"vault"`
	NcnEpoch         uint64 `json:"ncn_epoch"`
	LastUpdatedIndex uint64 `json:"last_updated_index"`
	OperatorCount    uint64 `json:"operator_count"`
	State            string `json:"state"`
}

type trackersJSON struct {
	Slot     uint64        `json:"slot"`
	Epoch    uint64        `json:"epoch"`
	Trackers []trackerJSON `json:"trackers"`
}

func runTrackers(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client := newRPCClient(cc.Cfg, cc.Logger)
	provider := newSnapshotProvider(client, cc.Cfg, cc.Logger)

	snap, err := provider.Snapshot(cmd.Context())
	if err != nil {
		return err
	}

	return printTrackers(os.Stdout, snap, cc.Flags.JSON)
}

// trackerRows lists current and stale trackers, oldest epoch first, then by
// vault.
func trackerRows(snap *crank.Snapshot) []trackerJSON {
	trackers := slices.Clone(snap.StaleTrackers)
	for _, t := range snap.Trackers {
		trackers = append(trackers, t)
	}

	slices.SortFunc(trackers, func(a, b crank.Tracker) int {
		if c := cmp.Compare(a.NcnEpoch, b.NcnEpoch); c != 0 {
			return c
		}

		return solana.Compare(a.Vault, b.Vault)
	})

	rows := make([]trackerJSON, 0, len(trackers))

	for i := range trackers {
		t := &trackers[i]
		row := trackerJSON{
			Address:          t.Address.String(),
			Vault:            t.Vault.String(),
			NcnEpoch:         t.NcnEpoch,
			LastUpdatedIndex: t.LastUpdatedIndex,
			State:            crank.StateInvalid.String(),
		}

		if v, ok := snap.Vaults[t.Vault]; ok {
			row.OperatorCount = v.OperatorCount
			row.State = crank.ClassifyTracker(&v, t, snap.CurrentEpoch, snap.EpochLength).String()
		}

		rows = append(rows, row)
	}

	return rows
}

func printTrackers(w io.Writer, snap *crank.Snapshot, asJSON bool) error {
	rows := trackerRows(snap)

	if asJSON {
		return printJSON(w, trackersJSON{Slot: snap.Slot, Epoch: snap.CurrentEpoch, Trackers: rows})
	}

	fmt.Fprintf(w, "Epoch %s at slot %s\n\n", formatCount(snap.CurrentEpoch), formatCount(snap.Slot))

	if len(rows) == 0 {
		fmt.Fprintln(w, "No open trackers.")
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{
			r.Address,
			r.Vault,
			formatCount(r.NcnEpoch),
			fmt.Sprintf("%d/%d", r.LastUpdatedIndex, r.OperatorCount),
			r.State,
		})
	}

	printTable(w, []string{"TRACKER", "VAULT", "EPOCH", "PROGRESS", "STATE"}, table)

	return nil
}
