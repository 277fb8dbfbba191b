package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/chrono-crank/internal/vault"
)

// testLogger returns a debug-level logger so config debug output appears in
// test output for CI visibility.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[rpc]
url = "https://rpc.example.com"
ws_url = "wss://rpc.example.com"
token = "abc"
timeout = "15s"
commitment = "finalized"

[program]
vault_program_id = "Vau1t6sLNxnzB7ZDsef8TLbPLfyZMYXH8WTNqUdm9g8"
restaking_program_id = "RestkWeAVL8fRGgzhfeoqFhsqKRchg6aa1XrcH96z4Q"
config_address = "UwuSgAq4zByffCGCrWH87DsjfsewYjuqHfJEpzw1Jq3"

[crank]
keypair = "/keys/payer.json"
poll_interval = "30m"
followup_delay = "10s"
tick_timeout = "5m"
action_timeout = "60s"
confirm_timeout = "45s"
parallel_vaults = 4
failure_threshold = 5
failure_cooldown = "1h"
slot_subscribe = false
dry_run = true
state_db = "/var/lib/chrono-crank/state.db"
ledger_retention = 50

[logging]
log_level = "debug"
log_file = "/var/log/chrono-crank.log"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.com", cfg.RPC.URL)
	assert.Equal(t, "wss://rpc.example.com", cfg.RPC.WSURL)
	assert.Equal(t, "abc", cfg.RPC.Token)
	assert.Equal(t, "finalized", cfg.RPC.Commitment)
	assert.Equal(t, "UwuSgAq4zByffCGCrWH87DsjfsewYjuqHfJEpzw1Jq3", cfg.Program.ConfigAddress)
	assert.Equal(t, "/keys/payer.json", cfg.Crank.Keypair)
	assert.Equal(t, "30m", cfg.Crank.PollInterval)
	assert.Equal(t, 4, cfg.Crank.ParallelVaults)
	assert.Equal(t, 5, cfg.Crank.FailureThreshold)
	assert.False(t, cfg.Crank.SlotSubscribe)
	assert.True(t, cfg.Crank.DryRun)
	assert.Equal(t, 50, cfg.Crank.LedgerRetention)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[crank]\nparallel_vaults = 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Crank.ParallelVaults)
	assert.Equal(t, defaultPollInterval, cfg.Crank.PollInterval)
	assert.Equal(t, defaultRPCURL, cfg.RPC.URL)
	assert.True(t, cfg.Crank.SlotSubscribe)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[crank\nkeypair = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeTestConfig(t, "[crank]\nparallel_vaults = 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigPath_Precedence(t *testing.T) {
	assert.Equal(t, DefaultConfigPath(), ConfigPath(EnvOverrides{}, CLIOverrides{}))
	assert.Equal(t, "/env.toml", ConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, "/cli.toml", ConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")})
	require.NoError(t, err)

	assert.Equal(t, defaultRPCURL, r.RPCURL)
	assert.Equal(t, time.Hour, r.PollInterval)
	assert.Equal(t, 30*time.Second, r.FollowupDelay)
	assert.Equal(t, 10*time.Minute, r.TickTimeout)
	assert.Equal(t, 90*time.Second, r.ActionTimeout)
	assert.Equal(t, 1, r.ParallelVaults)
	assert.Equal(t, vault.DefaultProgramID, r.VaultProgramID)
	assert.Equal(t, "UwuSgAq4zByffCGCrWH87DsjfsewYjuqHfJEpzw1Jq3", r.ConfigAddress.String())
	assert.NotContains(t, r.KeypairPath, "~")

	if filepath.Separator == '/' && DefaultDataDir() == "/data/"+appName {
		assert.Equal(t, "/data/chrono-crank/state.db", r.StateDBPath)
	}
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, `
[rpc]
url = "https://file.example.com"

[crank]
keypair = "/file/key.json"
dry_run = false
`)

	// Env beats file.
	r, err := Resolve(EnvOverrides{
		ConfigPath: path,
		RPCURL:     "https://env.example.com",
		Keypair:    "/env/key.json",
		RPCToken:   "env-token",
	}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", r.RPCURL)
	assert.Equal(t, "/env/key.json", r.KeypairPath)
	assert.Equal(t, "env-token", r.RPCToken)
	assert.Equal(t, path, r.ConfigPath)
	assert.False(t, r.DryRun)

	// CLI beats env.
	dryRun := true
	r, err = Resolve(EnvOverrides{
		ConfigPath: path,
		RPCURL:     "https://env.example.com",
		Keypair:    "/env/key.json",
	}, CLIOverrides{
		RPCURL:  "https://cli.example.com",
		Keypair: "/cli/key.json",
		DryRun:  &dryRun,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cli.example.com", r.RPCURL)
	assert.Equal(t, "/cli/key.json", r.KeypairPath)
	assert.True(t, r.DryRun)
}

func TestResolve_InvalidOverride(t *testing.T) {
	_, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "none.toml"),
		RPCURL:     "not a url",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc.url")
}

func TestResolveConfig_ExplicitConfigAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Program.ConfigAddress = "So11111111111111111111111111111111111111112"

	r, err := ResolveConfig(cfg, "x", EnvOverrides{}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "So11111111111111111111111111111111111111112", r.ConfigAddress.String())
}

func TestResolveConfig_DoesNotMutateInput(t *testing.T) {
	cfg := DefaultConfig()

	_, err := ResolveConfig(cfg, "x", EnvOverrides{RPCURL: "https://env.example.com"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, defaultRPCURL, cfg.RPC.URL)
}
