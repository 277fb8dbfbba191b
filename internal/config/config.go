// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for chrono-crank. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags) and produces a Resolved value with parsed durations and addresses.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Durations and addresses stay as strings here; Resolve parses them.
type Config struct {
	RPC     RPCConfig     `toml:"rpc"`
	Program ProgramConfig `toml:"program"`
	Crank   CrankConfig   `toml:"crank"`
	Logging LoggingConfig `toml:"logging"`
}

// RPCConfig selects the node the crank talks to.
// ws_url defaults to the url with a ws/wss scheme when empty.
type RPCConfig struct {
	URL        string `toml:"url"`
	WSURL      string `toml:"ws_url"`
	Token      string `toml:"token"`
	Timeout    string `toml:"timeout"`
	Commitment string `toml:"commitment"`
}

// ProgramConfig names the on-chain programs. config_address is derived from
// the vault program when empty.
type ProgramConfig struct {
	VaultProgramID     string `toml:"vault_program_id"`
	RestakingProgramID string `toml:"restaking_program_id"`
	ConfigAddress      string `toml:"config_address"`
}

// CrankConfig controls the tick loop: cadence, deadlines, parallelism, and
// failure suppression.
type CrankConfig struct {
	Keypair          string `toml:"keypair"`
	PollInterval     string `toml:"poll_interval"`
	FollowupDelay    string `toml:"followup_delay"`
	TickTimeout      string `toml:"tick_timeout"`
	ActionTimeout    string `toml:"action_timeout"`
	ConfirmTimeout   string `toml:"confirm_timeout"`
	ParallelVaults   int    `toml:"parallel_vaults"`
	FailureThreshold int    `toml:"failure_threshold"`
	FailureCooldown  string `toml:"failure_cooldown"`
	SlotSubscribe    bool   `toml:"slot_subscribe"`
	DryRun           bool   `toml:"dry_run"`
	StateDB          string `toml:"state_db"`
	LedgerRetention  int    `toml:"ledger_retention"`
}

// LoggingConfig controls log output: level, format, and destination.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value", since --dry-run=false differs from
// not passing --dry-run at all.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	RPCURL     string // --rpc-url flag
	Keypair    string // --keypair flag
	DryRun     *bool  // --dry-run flag
}
