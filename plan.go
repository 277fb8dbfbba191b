package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/chrono-crank/internal/crank"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the actions the next tick would take",
		Long: `Read the current chain state and print, for every vault, its tracker state
and the action the crank would take. Nothing is sent and no keypair is
needed. Nothing is recorded in the ledger.`,
		RunE: runPlan,
	}
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	session, err := newCrankSession(cmd.Context(), cc.Cfg, sessionOpts{}, cc.Logger)
	if err != nil {
		return err
	}
	defer session.Close()

	report, err := session.Engine.RunOnce(cmd.Context(), crank.RunOpts{DryRun: true})
	if err != nil {
		return err
	}

	return printTickReport(os.Stdout, report, cc.Flags.JSON)
}
