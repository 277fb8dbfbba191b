package config

import "github.com/tonimelisma/chrono-crank/internal/vault"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultRPCURL           = "https://api.devnet.solana.com"
	defaultRPCTimeout       = "30s"
	defaultCommitment       = "confirmed"
	defaultKeypair          = "~/.config/solana/id.json"
	defaultPollInterval     = "1h"
	defaultFollowupDelay    = "30s"
	defaultTickTimeout      = "10m"
	defaultActionTimeout    = "90s"
	defaultConfirmTimeout   = "60s"
	defaultParallelVaults   = 1
	defaultFailureThreshold = 3
	defaultFailureCooldown  = "6h"
	defaultLedgerRetention  = 1000
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		RPC:     defaultRPCConfig(),
		Program: defaultProgramConfig(),
		Crank:   defaultCrankConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultRPCConfig() RPCConfig {
	return RPCConfig{
		URL:        defaultRPCURL,
		Timeout:    defaultRPCTimeout,
		Commitment: defaultCommitment,
	}
}

func defaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		VaultProgramID:     vault.DefaultProgramID.String(),
		RestakingProgramID: vault.DefaultRestakingProgramID.String(),
	}
}

func defaultCrankConfig() CrankConfig {
	return CrankConfig{
		Keypair:          defaultKeypair,
		PollInterval:     defaultPollInterval,
		FollowupDelay:    defaultFollowupDelay,
		TickTimeout:      defaultTickTimeout,
		ActionTimeout:    defaultActionTimeout,
		ConfirmTimeout:   defaultConfirmTimeout,
		ParallelVaults:   defaultParallelVaults,
		FailureThreshold: defaultFailureThreshold,
		FailureCooldown:  defaultFailureCooldown,
		SlotSubscribe:    true,
		LedgerRetention:  defaultLedgerRetention,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
