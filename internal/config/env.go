package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "CHRONO_CRANK_CONFIG"
	EnvRPCURL   = "CHRONO_CRANK_RPC_URL"
	EnvKeypair  = "CHRONO_CRANK_KEYPAIR"
	EnvRPCToken = "CHRONO_CRANK_RPC_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CHRONO_CRANK_CONFIG: override config file path
	RPCURL     string // CHRONO_CRANK_RPC_URL: RPC endpoint
	Keypair    string // CHRONO_CRANK_KEYPAIR: fee payer keypair file
	RPCToken   string // CHRONO_CRANK_RPC_TOKEN: bearer token, kept out of config files
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		RPCURL:     os.Getenv(EnvRPCURL),
		Keypair:    os.Getenv(EnvKeypair),
		RPCToken:   os.Getenv(EnvRPCToken),
	}
}
