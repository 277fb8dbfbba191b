package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// Validation range constants.
const (
	minRPCTimeout       = 1 * time.Second
	minPollInterval     = 10 * time.Second
	minFollowupDelay    = 1 * time.Second
	minTickTimeout      = 10 * time.Second
	minActionTimeout    = 5 * time.Second
	minConfirmTimeout   = 5 * time.Second
	minParallelVaults   = 1
	maxParallelVaults   = 32
	minLedgerRetention  = 1
	minFailureThreshold = 0
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRPC(&cfg.RPC)...)
	errs = append(errs, validateProgram(&cfg.Program)...)
	errs = append(errs, validateCrank(&cfg.Crank)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateRPC(r *RPCConfig) []error {
	var errs []error

	errs = append(errs, validateURL("rpc.url", r.URL, "http", "https")...)

	if r.WSURL != "" {
		errs = append(errs, validateURL("rpc.ws_url", r.WSURL, "ws", "wss")...)
	}

	errs = append(errs, validateDurationMin("rpc.timeout", r.Timeout, minRPCTimeout)...)

	if !validCommitments[r.Commitment] {
		errs = append(errs, fmt.Errorf("rpc.commitment: must be one of processed, confirmed, finalized; got %q",
			r.Commitment))
	}

	return errs
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

func validateURL(field, raw string, schemes ...string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)}
	}

	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be an absolute %v URL, got %q", field, schemes, raw)}
}

func validateProgram(p *ProgramConfig) []error {
	var errs []error

	errs = append(errs, validatePubkey("program.vault_program_id", p.VaultProgramID, true)...)
	errs = append(errs, validatePubkey("program.restaking_program_id", p.RestakingProgramID, true)...)
	errs = append(errs, validatePubkey("program.config_address", p.ConfigAddress, false)...)

	return errs
}

func validatePubkey(field, value string, required bool) []error {
	if value == "" {
		if required {
			return []error{fmt.Errorf("%s: must not be empty", field)}
		}

		return nil
	}

	if _, err := solana.ParsePubkey(value); err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	return nil
}

func validateCrank(c *CrankConfig) []error {
	var errs []error

	if c.Keypair == "" {
		errs = append(errs, errors.New("crank.keypair: must not be empty"))
	}

	errs = append(errs, validateDurationMin("crank.poll_interval", c.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationMin("crank.followup_delay", c.FollowupDelay, minFollowupDelay)...)
	errs = append(errs, validateDurationMin("crank.tick_timeout", c.TickTimeout, minTickTimeout)...)
	errs = append(errs, validateDurationMin("crank.action_timeout", c.ActionTimeout, minActionTimeout)...)
	errs = append(errs, validateDurationMin("crank.confirm_timeout", c.ConfirmTimeout, minConfirmTimeout)...)
	errs = append(errs, validateDurationNonNeg("crank.failure_cooldown", c.FailureCooldown)...)

	if c.ParallelVaults < minParallelVaults || c.ParallelVaults > maxParallelVaults {
		errs = append(errs, fmt.Errorf("crank.parallel_vaults: must be between %d and %d, got %d",
			minParallelVaults, maxParallelVaults, c.ParallelVaults))
	}

	if c.FailureThreshold < minFailureThreshold {
		errs = append(errs, fmt.Errorf("crank.failure_threshold: must be >= %d, got %d",
			minFailureThreshold, c.FailureThreshold))
	}

	if c.LedgerRetention < minLedgerRetention {
		errs = append(errs, fmt.Errorf("crank.ledger_retention: must be >= %d, got %d",
			minLedgerRetention, c.LedgerRetention))
	}

	errs = append(errs, validateCrossTimeouts(c)...)

	return errs
}

// validateCrossTimeouts checks that one action fits inside one tick. Unparseable
// values are already reported by the per-field checks.
func validateCrossTimeouts(c *CrankConfig) []error {
	tick, err1 := time.ParseDuration(c.TickTimeout)
	action, err2 := time.ParseDuration(c.ActionTimeout)

	if err1 != nil || err2 != nil {
		return nil
	}

	if action > tick {
		return []error{fmt.Errorf("crank.action_timeout: %s exceeds crank.tick_timeout %s", action, tick)}
	}

	return nil
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
