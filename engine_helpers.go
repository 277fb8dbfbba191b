package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/chrono-crank/internal/config"
	"github.com/tonimelisma/chrono-crank/internal/crank"
	"github.com/tonimelisma/chrono-crank/internal/rpc"
	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// newRPCClient creates a JSON-RPC client for the resolved endpoint.
func newRPCClient(resolved *config.Resolved, logger *slog.Logger) *rpc.Client {
	return rpc.NewClient(
		resolved.RPCURL,
		rpc.NewHTTPClient(resolved.RPCToken, resolved.RPCTimeout),
		rpc.Commitment(resolved.Commitment),
		logger,
	)
}

// newSnapshotProvider reads vault program state through client.
func newSnapshotProvider(client *rpc.Client, resolved *config.Resolved, logger *slog.Logger) *crank.ChainSnapshotProvider {
	return crank.NewChainSnapshotProvider(client, resolved.VaultProgramID, resolved.ConfigAddress, logger)
}

// crankSession bundles everything one run of the engine owns. Close releases
// the ledger.
type crankSession struct {
	Client   *rpc.Client
	Provider *crank.ChainSnapshotProvider
	Engine   *crank.Engine
	Ledger   *crank.Ledger
	Signer   solana.Pubkey
}

// Close releases the ledger, if one was opened.
func (s *crankSession) Close() error {
	if s.Ledger == nil {
		return nil
	}

	return s.Ledger.Close()
}

// sessionOpts selects the optional parts of a crankSession.
type sessionOpts struct {
	Signer bool // load the keypair and build an executor
	Ledger bool // open the state DB and record ticks
}

// newCrankSession builds an Engine from the resolved config. Planning-only
// commands pass zero sessionOpts, so they work without a keypair or a
// writable data directory.
func newCrankSession(
	ctx context.Context, resolved *config.Resolved, opts sessionOpts, logger *slog.Logger,
) (*crankSession, error) {
	client := newRPCClient(resolved, logger)
	provider := newSnapshotProvider(client, resolved, logger)

	s := &crankSession{Client: client, Provider: provider}

	ecfg := &crank.EngineConfig{
		Provider:         provider,
		Logger:           logger,
		ParallelVaults:   resolved.ParallelVaults,
		TickTimeout:      resolved.TickTimeout,
		ActionTimeout:    resolved.ActionTimeout,
		FailureThreshold: resolved.FailureThreshold,
		FailureCooldown:  resolved.FailureCooldown,
	}

	if opts.Signer {
		kp, err := solana.LoadKeypair(resolved.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("loading fee payer keypair: %w", err)
		}

		s.Signer = kp.PublicKey()

		ecfg.Executor = crank.NewChainExecutor(&crank.ExecutorConfig{
			Client:         client,
			Signer:         kp,
			ProgramID:      resolved.VaultProgramID,
			ConfigAddress:  resolved.ConfigAddress,
			ConfirmTimeout: resolved.ConfirmTimeout,
			Logger:         logger,
		})
	}

	if opts.Ledger {
		ledger, err := crank.OpenLedger(ctx, resolved.StateDBPath, resolved.LedgerRetention, logger)
		if err != nil {
			return nil, err
		}

		s.Ledger = ledger
		ecfg.Recorder = ledger
	}

	s.Engine = crank.NewEngine(ecfg)

	return s, nil
}

// slotWebsocketURL returns the configured ws_url or derives one from the
// HTTP endpoint.
func slotWebsocketURL(resolved *config.Resolved) (string, error) {
	if resolved.WSURL != "" {
		return resolved.WSURL, nil
	}

	return rpc.WebsocketURL(resolved.RPCURL)
}
