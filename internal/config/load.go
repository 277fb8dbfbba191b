package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/chrono-crank/internal/solana"
	"github.com/tonimelisma/chrono-crank/internal/vault"
)

// stateDBFileName is the ledger database name inside the data directory.
const stateDBFileName = "state.db"

// Resolved is the effective configuration after the override chain, with
// every duration, address, and path parsed and expanded.
type Resolved struct {
	ConfigPath string

	RPCURL     string
	WSURL      string
	RPCToken   string
	RPCTimeout time.Duration
	Commitment string

	VaultProgramID     solana.Pubkey
	RestakingProgramID solana.Pubkey
	ConfigAddress      solana.Pubkey

	KeypairPath      string
	PollInterval     time.Duration
	FollowupDelay    time.Duration
	TickTimeout      time.Duration
	ActionTimeout    time.Duration
	ConfirmTimeout   time.Duration
	ParallelVaults   int
	FailureThreshold int
	FailureCooldown  time.Duration
	SlotSubscribe    bool
	DryRun           bool
	StateDBPath      string
	LedgerRetention  int

	Logging LoggingConfig
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ConfigPath picks the config file path: CLI > env > platform default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully resolved and validated configuration ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := ConfigPath(env, cli)

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	return ResolveConfig(cfg, cfgPath, env, cli)
}

// ResolveConfig applies env and CLI overrides to an already loaded Config.
// Reloads use it directly with the freshly parsed file.
func ResolveConfig(cfg *Config, cfgPath string, env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	merged := *cfg

	if env.RPCURL != "" {
		merged.RPC.URL = env.RPCURL
	}

	if env.Keypair != "" {
		merged.Crank.Keypair = env.Keypair
	}

	if env.RPCToken != "" {
		merged.RPC.Token = env.RPCToken
	}

	if cli.RPCURL != "" {
		merged.RPC.URL = cli.RPCURL
	}

	if cli.Keypair != "" {
		merged.Crank.Keypair = cli.Keypair
	}

	if cli.DryRun != nil {
		merged.Crank.DryRun = *cli.DryRun
	}

	// Overrides can introduce invalid values the file never had.
	if err := Validate(&merged); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	r, err := toResolved(&merged)
	if err != nil {
		return nil, err
	}

	r.ConfigPath = cfgPath

	return r, nil
}

// toResolved parses a validated Config. Errors here indicate a value that
// slipped past Validate.
func toResolved(cfg *Config) (*Resolved, error) {
	var errs []error

	dur := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}

		return d
	}

	key := func(field, s string) solana.Pubkey {
		if s == "" {
			return solana.Pubkey{}
		}

		p, err := solana.ParsePubkey(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}

		return p
	}

	r := &Resolved{
		RPCURL:             cfg.RPC.URL,
		WSURL:              cfg.RPC.WSURL,
		RPCToken:           cfg.RPC.Token,
		RPCTimeout:         dur("rpc.timeout", cfg.RPC.Timeout),
		Commitment:         cfg.RPC.Commitment,
		VaultProgramID:     key("program.vault_program_id", cfg.Program.VaultProgramID),
		RestakingProgramID: key("program.restaking_program_id", cfg.Program.RestakingProgramID),
		ConfigAddress:      key("program.config_address", cfg.Program.ConfigAddress),
		KeypairPath:        solana.ExpandHome(cfg.Crank.Keypair),
		PollInterval:       dur("crank.poll_interval", cfg.Crank.PollInterval),
		FollowupDelay:      dur("crank.followup_delay", cfg.Crank.FollowupDelay),
		TickTimeout:        dur("crank.tick_timeout", cfg.Crank.TickTimeout),
		ActionTimeout:      dur("crank.action_timeout", cfg.Crank.ActionTimeout),
		ConfirmTimeout:     dur("crank.confirm_timeout", cfg.Crank.ConfirmTimeout),
		ParallelVaults:     cfg.Crank.ParallelVaults,
		FailureThreshold:   cfg.Crank.FailureThreshold,
		FailureCooldown:    dur("crank.failure_cooldown", cfg.Crank.FailureCooldown),
		SlotSubscribe:      cfg.Crank.SlotSubscribe,
		DryRun:             cfg.Crank.DryRun,
		StateDBPath:        solana.ExpandHome(cfg.Crank.StateDB),
		LedgerRetention:    cfg.Crank.LedgerRetention,
		Logging:            cfg.Logging,
	}

	if r.StateDBPath == "" {
		r.StateDBPath = filepath.Join(DefaultDataDir(), stateDBFileName)
	}

	if r.ConfigAddress.IsZero() && len(errs) == 0 {
		addr, err := vault.ConfigAddress(r.VaultProgramID)
		if err != nil {
			errs = append(errs, fmt.Errorf("program.config_address: %w", err))
		}

		r.ConfigAddress = addr
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return r, nil
}
