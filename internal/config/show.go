package config

import (
	"fmt"
	"io"
)

// redacted replaces secrets in rendered output.
const redacted = "(set)"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	renderRPCSection(ew, r)
	renderProgramSection(ew, r)
	renderCrankSection(ew, r)
	renderLoggingSection(ew, &r.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderRPCSection(ew *errWriter, r *Resolved) {
	ew.printf("[rpc]\n")
	ew.printf("  url        = %q\n", r.RPCURL)

	if r.WSURL != "" {
		ew.printf("  ws_url     = %q\n", r.WSURL)
	}

	if r.RPCToken != "" {
		ew.printf("  token      = %q\n", redacted)
	}

	ew.printf("  timeout    = %q\n", r.RPCTimeout)
	ew.printf("  commitment = %q\n", r.Commitment)
	ew.printf("\n")
}

func renderProgramSection(ew *errWriter, r *Resolved) {
	ew.printf("[program]\n")
	ew.printf("  vault_program_id     = %q\n", r.VaultProgramID)
	ew.printf("  restaking_program_id = %q\n", r.RestakingProgramID)
	ew.printf("  config_address       = %q\n", r.ConfigAddress)
	ew.printf("\n")
}

func renderCrankSection(ew *errWriter, r *Resolved) {
	ew.printf("[crank]\n")
	ew.printf("  keypair           = %q\n", r.KeypairPath)
	ew.printf("  poll_interval     = %q\n", r.PollInterval)
	ew.printf("  followup_delay    = %q\n", r.FollowupDelay)
	ew.printf("  tick_timeout      = %q\n", r.TickTimeout)
	ew.printf("  action_timeout    = %q\n", r.ActionTimeout)
	ew.printf("  confirm_timeout   = %q\n", r.ConfirmTimeout)
	ew.printf("  parallel_vaults   = %d\n", r.ParallelVaults)
	ew.printf("  failure_threshold = %d\n", r.FailureThreshold)
	ew.printf("  failure_cooldown  = %q\n", r.FailureCooldown)
	ew.printf("  slot_subscribe    = %t\n", r.SlotSubscribe)
	ew.printf("  dry_run           = %t\n", r.DryRun)
	ew.printf("  state_db          = %q\n", r.StateDBPath)
	ew.printf("  ledger_retention  = %d\n", r.LedgerRetention)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
}
