package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvRPCURL, "https://rpc.example.com")
	t.Setenv(EnvKeypair, "/keys/payer.json")
	t.Setenv(EnvRPCToken, "tok")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "https://rpc.example.com", overrides.RPCURL)
	assert.Equal(t, "/keys/payer.json", overrides.Keypair)
	assert.Equal(t, "tok", overrides.RPCToken)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvRPCURL, "")
	t.Setenv(EnvKeypair, "")
	t.Setenv(EnvRPCToken, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "CHRONO_CRANK_CONFIG", EnvConfig)
	assert.Equal(t, "CHRONO_CRANK_RPC_URL", EnvRPCURL)
	assert.Equal(t, "CHRONO_CRANK_KEYPAIR", EnvKeypair)
	assert.Equal(t, "CHRONO_CRANK_RPC_TOKEN", EnvRPCToken)
}
