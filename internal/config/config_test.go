package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// RPC defaults
	assert.Equal(t, "https://api.devnet.solana.com", cfg.RPC.URL)
	assert.Empty(t, cfg.RPC.WSURL)
	assert.Empty(t, cfg.RPC.Token)
	assert.Equal(t, "30s", cfg.RPC.Timeout)
	assert.Equal(t, "confirmed", cfg.RPC.Commitment)

	// Program defaults
	assert.Equal(t, "Vau1t6sLNxnzB7ZDsef8TLbPLfyZMYXH8WTNqUdm9g8", cfg.Program.VaultProgramID)
	assert.Equal(t, "RestkWeAVL8fRGgzhfeoqFhsqKRchg6aa1XrcH96z4Q", cfg.Program.RestakingProgramID)
	assert.Empty(t, cfg.Program.ConfigAddress)

	// Crank defaults
	assert.Equal(t, "~/.config/solana/id.json", cfg.Crank.Keypair)
	assert.Equal(t, "1h", cfg.Crank.PollInterval)
	assert.Equal(t, "30s", cfg.Crank.FollowupDelay)
	assert.Equal(t, "10m", cfg.Crank.TickTimeout)
	assert.Equal(t, "90s", cfg.Crank.ActionTimeout)
	assert.Equal(t, 1, cfg.Crank.ParallelVaults)
	assert.Equal(t, 3, cfg.Crank.FailureThreshold)
	assert.True(t, cfg.Crank.SlotSubscribe)
	assert.False(t, cfg.Crank.DryRun)
	assert.Empty(t, cfg.Crank.StateDB)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Empty(t, cfg.Logging.LogFile)
}

func TestDefaultConfig_IndependentCopies(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()

	a.Crank.ParallelVaults = 9
	assert.Equal(t, 1, b.Crank.ParallelVaults)
}
