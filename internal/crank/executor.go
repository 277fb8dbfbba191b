package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/chrono-crank/internal/rpc"
	"github.com/tonimelisma/chrono-crank/internal/solana"
	"github.com/tonimelisma/chrono-crank/internal/vault"
)

// ChainClient is everything the crank needs from an RPC node. Satisfied by
// *rpc.Client.
type ChainClient interface {
	ChainReader
	GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) error
}

// ExecutorConfig holds the options for NewChainExecutor.
type ExecutorConfig struct {
	Client         ChainClient
	Signer         solana.Signer // fee payer and rent recipient
	ProgramID      solana.Pubkey
	ConfigAddress  solana.Pubkey
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// ChainExecutor turns actions into signed transactions, one instruction per
// transaction, and waits for each to confirm before sending the next.
//
// Every action re-reads the tracker first, so an action another cranker has
// already applied reports OutcomeAlreadyDone instead of failing.
type ChainExecutor struct {
	client         ChainClient
	signer         solana.Signer
	programID      solana.Pubkey
	configAddr     solana.Pubkey
	confirmTimeout time.Duration
	logger         *slog.Logger
}

const defaultConfirmTimeout = 60 * time.Second

// NewChainExecutor creates an executor from cfg.
func NewChainExecutor(cfg *ExecutorConfig) *ChainExecutor {
	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = defaultConfirmTimeout
	}

	return &ChainExecutor{
		client:         cfg.Client,
		signer:         cfg.Signer,
		programID:      cfg.ProgramID,
		configAddr:     cfg.ConfigAddress,
		confirmTimeout: confirm,
		logger:         cfg.Logger,
	}
}

// Execute dispatches on the action kind.
func (x *ChainExecutor) Execute(ctx context.Context, a *Action) (*ActionResult, error) {
	switch a.Kind {
	case ActionInitialize:
		return x.initialize(ctx, a)
	case ActionCrank:
		return x.crank(ctx, a)
	case ActionClose:
		return x.closeTracker(ctx, a)
	case ActionNone:
		return &ActionResult{Outcome: OutcomeAlreadyDone}, nil
	default:
		return nil, fmt.Errorf("crank: unknown action kind %s", a.Kind)
	}
}

func (x *ChainExecutor) initialize(ctx context.Context, a *Action) (*ActionResult, error) {
	tracker, err := vault.TrackerAddress(x.programID, a.Vault, a.Epoch)
	if err != nil {
		return nil, err
	}

	existing, err := x.readTracker(ctx, tracker)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return &ActionResult{Outcome: OutcomeAlreadyDone}, nil
	}

	ix := vault.NewInitializeInstruction(vault.InitializeParams{
		ProgramID: x.programID,
		Config:    x.configAddr,
		Vault:     a.Vault,
		Tracker:   tracker,
		Payer:     x.signer.PublicKey(),
	})

	sig, err := x.sendAndConfirm(ctx, ix)
	if err != nil {
		return nil, err
	}

	return &ActionResult{Outcome: OutcomeApplied, Signatures: []solana.Signature{sig}}, nil
}

// crank applies the remaining delegations in order, one transaction each.
// It resumes from the tracker's live progress when that is ahead of the
// snapshot. On failure it returns the signatures that did land.
func (x *ChainExecutor) crank(ctx context.Context, a *Action) (*ActionResult, error) {
	live, err := x.readTracker(ctx, a.Tracker)
	if err != nil {
		return nil, err
	}

	if live == nil {
		return &ActionResult{Outcome: OutcomeAlreadyDone}, nil
	}

	step := *a
	if live.LastUpdatedIndex > step.StartAt {
		x.logger.Debug("tracker advanced since snapshot",
			slog.String("vault", a.Vault.String()),
			slog.Uint64("snapshot_index", a.StartAt),
			slog.Uint64("live_index", live.LastUpdatedIndex),
		)

		step.StartAt = live.LastUpdatedIndex
	}

	remaining := step.Remaining()
	if len(remaining) == 0 {
		return &ActionResult{Outcome: OutcomeAlreadyDone}, nil
	}

	result := &ActionResult{Outcome: OutcomeApplied}

	for i, d := range remaining {
		ix := vault.NewCrankInstruction(vault.CrankParams{
			ProgramID:  x.programID,
			Config:     x.configAddr,
			Vault:      a.Vault,
			Operator:   d.Operator,
			Delegation: d.Address,
			Tracker:    a.Tracker,
		})

		sig, err := x.sendAndConfirm(ctx, ix)
		if err != nil {
			return result, fmt.Errorf("crank step %d/%d (operator index %d): %w",
				step.StartAt+uint64(i)+1, len(step.Delegations), d.Index, err)
		}

		result.Signatures = append(result.Signatures, sig)

		x.logger.Debug("crank step confirmed",
			slog.String("vault", a.Vault.String()),
			slog.Uint64("operator_index", d.Index),
			slog.String("signature", sig.String()),
		)
	}

	return result, nil
}

func (x *ChainExecutor) closeTracker(ctx context.Context, a *Action) (*ActionResult, error) {
	live, err := x.readTracker(ctx, a.Tracker)
	if err != nil {
		return nil, err
	}

	if live == nil {
		return &ActionResult{Outcome: OutcomeAlreadyDone}, nil
	}

	ix := vault.NewCloseInstruction(vault.CloseParams{
		ProgramID: x.programID,
		Config:    x.configAddr,
		Vault:     a.Vault,
		Tracker:   a.Tracker,
		Payer:     x.signer.PublicKey(),
		NcnEpoch:  a.Epoch,
	})

	sig, err := x.sendAndConfirm(ctx, ix)
	if err != nil {
		return nil, err
	}

	return &ActionResult{Outcome: OutcomeApplied, Signatures: []solana.Signature{sig}}, nil
}

// readTracker returns the decoded tracker at addr, or nil if the account
// does not exist.
func (x *ChainExecutor) readTracker(ctx context.Context, addr solana.Pubkey) (*vault.UpdateStateTracker, error) {
	info, err := x.client.GetAccountInfo(ctx, addr)
	if errors.Is(err, rpc.ErrAccountNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading tracker %s: %w", addr, err)
	}

	t, err := vault.DecodeUpdateStateTracker(info.Data)
	if err != nil {
		return nil, &DecodeError{Account: addr, Kind: "tracker", Err: err}
	}

	return t, nil
}

func (x *ChainExecutor) sendAndConfirm(ctx context.Context, ix solana.Instruction) (solana.Signature, error) {
	blockhash, _, err := x.client.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetching blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(x.signer.PublicKey(), []solana.Instruction{ix}, blockhash)
	if err != nil {
		return solana.Signature{}, err
	}

	if err := solana.SignTransaction(tx, x.signer); err != nil {
		return solana.Signature{}, err
	}

	sig, err := x.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}

	if err := x.client.ConfirmTransaction(ctx, sig, x.confirmTimeout); err != nil {
		return sig, fmt.Errorf("transaction %s: %w", sig, err)
	}

	return sig, nil
}
