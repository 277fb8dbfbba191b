package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the permission mode for written config files.
// Owner read/write only, since the file may hold an RPC token.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the target already exists.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the config file written by "config init". Every option
// is present as a commented-out default so users can discover them without
// reading docs.
const configTemplate = `# chrono-crank configuration
# Uncomment and modify to override defaults.

[rpc]
# JSON-RPC endpoint of the cluster to crank.
# url = "` + defaultRPCURL + `"

# Pubsub endpoint; derived from url when empty.
# ws_url = ""

# Bearer token for hosted RPC providers. Prefer CHRONO_CRANK_RPC_TOKEN.
# token = ""

# Per-request timeout.
# timeout = "` + defaultRPCTimeout + `"

# processed, confirmed or finalized
# commitment = "` + defaultCommitment + `"

[program]
# vault_program_id = "Vau1t6sLNxnzB7ZDsef8TLbPLfyZMYXH8WTNqUdm9g8"
# restaking_program_id = "RestkWeAVL8fRGgzhfeoqFhsqKRchg6aa1XrcH96z4Q"

# Derived from vault_program_id when empty.
# config_address = ""

[crank]
# Fee payer keypair (Solana CLI JSON format).
# keypair = "` + defaultKeypair + `"

# Time between ticks when nothing is pending.
# poll_interval = "` + defaultPollInterval + `"

# Time between ticks while trackers still need work.
# followup_delay = "` + defaultFollowupDelay + `"

# tick_timeout = "` + defaultTickTimeout + `"
# action_timeout = "` + defaultActionTimeout + `"
# confirm_timeout = "` + defaultConfirmTimeout + `"

# Vaults processed concurrently within a tick.
# parallel_vaults = 1

# Skip a vault after this many consecutive failed ticks (0 disables).
# failure_threshold = 3
# failure_cooldown = "` + defaultFailureCooldown + `"

# Wake on epoch rollover via slotSubscribe.
# slot_subscribe = true

# Plan and log actions without sending transactions.
# dry_run = false

# Tick ledger database; defaults to the data directory.
# state_db = ""
# ledger_retention = 1000

[logging]
# debug, info, warn, error
# log_level = "` + defaultLogLevel + `"

# auto (text on a terminal, JSON otherwise), text, json
# log_format = "` + defaultLogFormat + `"

# Append logs to this file instead of stderr.
# log_file = ""
`

// WriteDefault creates a config file at path from the commented template.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path, so a crash never leaves a
// partial config behind. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
