package main

import (
	"context"
	"log/slog"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/chrono-crank/internal/config"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running crank loop to reload its config",
		Long: `Send SIGHUP to the 'chrono-crank run' process that holds the run lock on
the state DB. The loop re-reads the config file; poll_interval,
followup_delay, and log_level take effect from the next tick. Other changes
are logged and need a restart.`,
		RunE: runReload,
	}
}

func runReload(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	path := runLockPath(cc.Cfg)

	holder, err := signalRunLock(path, syscall.SIGHUP)
	if err != nil {
		return err
	}

	cc.Statusf("Reload requested for crank %s\n", holder.String())

	if holder.Program != cc.Cfg.VaultProgramID.String() {
		cc.Statusf("Note: the running crank uses vault program %s; a program change needs a restart\n",
			holder.Program)
	}

	return nil
}

// reloader re-resolves the config on request and publishes it through the
// Holder. A config that fails to load is logged and the previous one kept.
type reloader struct {
	mu      sync.Mutex
	holder  *config.Holder
	resolve func() (*config.Resolved, error)
	level   *slog.LevelVar // nil when logging is not reloadable
	logger  *slog.Logger
}

func newReloader(
	holder *config.Holder, resolve func() (*config.Resolved, error), level *slog.LevelVar, logger *slog.Logger,
) *reloader {
	return &reloader{holder: holder, resolve: resolve, level: level, logger: logger}
}

// listen reloads once per request until ctx is canceled.
func (r *reloader) listen(ctx context.Context, requests <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
			r.reload("SIGHUP")
		}
	}
}

// reload resolves the config again and swaps it in. Returns false if the
// new config was rejected.
func (r *reloader) reload(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.resolve()
	if err != nil {
		r.logger.Error("config reload failed, keeping previous config",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

		return false
	}

	for _, field := range restartRequired(r.holder.Config(), next) {
		r.logger.Warn("config change needs a restart to take effect", slog.String("field", field))
	}

	r.holder.Update(next)

	if r.level != nil {
		r.level.Set(effectiveLogLevel(next))
	}

	r.logger.Info("config reloaded",
		slog.String("reason", reason),
		slog.Duration("poll_interval", next.PollInterval),
		slog.Duration("followup_delay", next.FollowupDelay),
		slog.String("log_level", next.Logging.LogLevel),
	)

	return true
}

// restartRequired lists changed settings that the running loop does not
// pick up. Only poll_interval, followup_delay, and log_level are live.
func restartRequired(prev, next *config.Resolved) []string {
	var fields []string

	check := func(field string, changed bool) {
		if changed {
			fields = append(fields, field)
		}
	}

	check("rpc.url", prev.RPCURL != next.RPCURL)
	check("rpc.ws_url", prev.WSURL != next.WSURL)
	check("rpc.token", prev.RPCToken != next.RPCToken)
	check("rpc.timeout", prev.RPCTimeout != next.RPCTimeout)
	check("rpc.commitment", prev.Commitment != next.Commitment)
	check("program.vault_program_id", prev.VaultProgramID != next.VaultProgramID)
	check("program.restaking_program_id", prev.RestakingProgramID != next.RestakingProgramID)
	check("program.config_address", prev.ConfigAddress != next.ConfigAddress)
	check("crank.keypair", prev.KeypairPath != next.KeypairPath)
	check("crank.tick_timeout", prev.TickTimeout != next.TickTimeout)
	check("crank.action_timeout", prev.ActionTimeout != next.ActionTimeout)
	check("crank.confirm_timeout", prev.ConfirmTimeout != next.ConfirmTimeout)
	check("crank.parallel_vaults", prev.ParallelVaults != next.ParallelVaults)
	check("crank.failure_threshold", prev.FailureThreshold != next.FailureThreshold)
	check("crank.failure_cooldown", prev.FailureCooldown != next.FailureCooldown)
	check("crank.slot_subscribe", prev.SlotSubscribe != next.SlotSubscribe)
	check("crank.dry_run", prev.DryRun != next.DryRun)
	check("crank.state_db", prev.StateDBPath != next.StateDBPath)
	check("crank.ledger_retention", prev.LedgerRetention != next.LedgerRetention)
	check("logging.log_file", prev.Logging.LogFile != next.Logging.LogFile)
	check("logging.log_format", prev.Logging.LogFormat != next.Logging.LogFormat)

	return fields
}
