package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/chrono-crank/internal/rpc"
	"github.com/tonimelisma/chrono-crank/internal/solana"
	"github.com/tonimelisma/chrono-crank/internal/vault"
)

// ErrZeroEpochLength indicates a program config with epoch_length 0, which
// makes epochs undefined.
var ErrZeroEpochLength = errors.New("crank: program config has zero epoch length")

// ChainReader is the read side of the RPC client. Satisfied by *rpc.Client.
type ChainReader interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetAccountInfo(ctx context.Context, addr solana.Pubkey) (*rpc.AccountInfo, error)
	GetProgramAccounts(ctx context.Context, program solana.Pubkey, filters ...rpc.Filter) ([]rpc.KeyedAccount, error)
}

// ChainSnapshotProvider assembles a Snapshot from RPC reads: the current
// slot, the program config (for epoch_length) and every vault, delegation
// and tracker account owned by the vault program.
type ChainSnapshotProvider struct {
	client     ChainReader
	programID  solana.Pubkey
	configAddr solana.Pubkey
	logger     *slog.Logger
}

// NewChainSnapshotProvider creates a provider reading accounts of programID.
func NewChainSnapshotProvider(
	client ChainReader, programID, configAddr solana.Pubkey, logger *slog.Logger,
) *ChainSnapshotProvider {
	return &ChainSnapshotProvider{
		client:     client,
		programID:  programID,
		configAddr: configAddr,
		logger:     logger,
	}
}

// Snapshot performs the reads concurrently. Any read failure fails the whole
// snapshot; an account that fails to decode is skipped and reported in
// Snapshot.DecodeErrors.
func (p *ChainSnapshotProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	var (
		slot        uint64
		configInfo  *rpc.AccountInfo
		vaults      []rpc.KeyedAccount
		delegations []rpc.KeyedAccount
		trackers    []rpc.KeyedAccount
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		slot, err = p.client.GetSlot(gctx)

		return err
	})
	g.Go(func() error {
		var err error
		configInfo, err = p.client.GetAccountInfo(gctx, p.configAddr)
		if err != nil {
			return fmt.Errorf("reading program config %s: %w", p.configAddr, err)
		}

		return nil
	})
	g.Go(func() error {
		var err error
		vaults, err = p.accountsOf(gctx, vault.DiscriminatorVault)

		return err
	})
	g.Go(func() error {
		var err error
		delegations, err = p.accountsOf(gctx, vault.DiscriminatorVaultOperatorDelegation)

		return err
	})
	g.Go(func() error {
		var err error
		trackers, err = p.accountsOf(gctx, vault.DiscriminatorVaultUpdateStateTracker)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	cfg, err := vault.DecodeConfig(configInfo.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding program config %s: %w", p.configAddr, err)
	}

	if cfg.EpochLength == 0 {
		return nil, ErrZeroEpochLength
	}

	snap := &Snapshot{
		Slot:         slot,
		EpochLength:  cfg.EpochLength,
		CurrentEpoch: CurrentEpoch(slot, cfg.EpochLength),
		Vaults:       make(map[solana.Pubkey]Vault, len(vaults)),
		Trackers:     make(map[solana.Pubkey]Tracker),
	}

	p.addVaults(snap, vaults)
	p.addDelegations(snap, delegations)
	p.addTrackers(snap, trackers)

	p.logger.Debug("snapshot read",
		slog.Uint64("slot", snap.Slot),
		slog.Uint64("epoch", snap.CurrentEpoch),
		slog.Uint64("epoch_length", snap.EpochLength),
		slog.Int("vaults", len(snap.Vaults)),
		slog.Int("delegations", len(snap.Delegations)),
		slog.Int("trackers", len(snap.Trackers)),
		slog.Int("stale_trackers", len(snap.StaleTrackers)),
		slog.Int("decode_errors", len(snap.DecodeErrors)),
	)

	return snap, nil
}

// accountsOf lists program accounts whose first byte is d.
func (p *ChainSnapshotProvider) accountsOf(ctx context.Context, d vault.Discriminator) ([]rpc.KeyedAccount, error) {
	accounts, err := p.client.GetProgramAccounts(ctx, p.programID, rpc.MemcmpFilter(0, []byte{byte(d)}))
	if err != nil {
		return nil, fmt.Errorf("listing %s accounts: %w", d, err)
	}

	return accounts, nil
}

func (p *ChainSnapshotProvider) addVaults(snap *Snapshot, accounts []rpc.KeyedAccount) {
	for i := range accounts {
		ka := &accounts[i]

		v, err := vault.DecodeVault(ka.Account.Data)
		if err != nil {
			snap.DecodeErrors = append(snap.DecodeErrors, &DecodeError{Account: ka.Pubkey, Kind: "vault", Err: err})
			continue
		}

		snap.Vaults[ka.Pubkey] = Vault{
			Address:                 ka.Pubkey,
			OperatorCount:           v.OperatorCount,
			LastFullStateUpdateSlot: v.LastFullStateUpdateSlot,
		}
	}
}

func (p *ChainSnapshotProvider) addDelegations(snap *Snapshot, accounts []rpc.KeyedAccount) {
	for i := range accounts {
		ka := &accounts[i]

		d, err := vault.DecodeOperatorDelegation(ka.Account.Data)
		if err != nil {
			snap.DecodeErrors = append(snap.DecodeErrors,
				&DecodeError{Account: ka.Pubkey, Kind: "delegation", Err: err})

			continue
		}

		snap.Delegations = append(snap.Delegations, OperatorDelegation{
			Address:  ka.Pubkey,
			Vault:    d.Vault,
			Operator: d.Operator,
			Index:    d.Index,
		})
	}
}

// addTrackers splits trackers into current-epoch (at most one per vault)
// and stale. A tracker from a future epoch means the slot read lagged the
// account reads; it is skipped and picked up next tick.
func (p *ChainSnapshotProvider) addTrackers(snap *Snapshot, accounts []rpc.KeyedAccount) {
	for i := range accounts {
		ka := &accounts[i]

		t, err := vault.DecodeUpdateStateTracker(ka.Account.Data)
		if err != nil {
			snap.DecodeErrors = append(snap.DecodeErrors, &DecodeError{Account: ka.Pubkey, Kind: "tracker", Err: err})
			continue
		}

		tr := Tracker{
			Address:          ka.Pubkey,
			Vault:            t.Vault,
			NcnEpoch:         t.NcnEpoch,
			LastUpdatedIndex: t.LastUpdatedIndex,
		}

		switch {
		case tr.NcnEpoch < snap.CurrentEpoch:
			snap.StaleTrackers = append(snap.StaleTrackers, tr)
		case tr.NcnEpoch > snap.CurrentEpoch:
			p.logger.Warn("skipping tracker from a future epoch",
				slog.String("tracker", tr.Address.String()),
				slog.Uint64("ncn_epoch", tr.NcnEpoch),
				slog.Uint64("current_epoch", snap.CurrentEpoch),
			)
		default:
			if prev, dup := snap.Trackers[tr.Vault]; dup {
				p.logger.Warn("duplicate current-epoch tracker",
					slog.String("vault", tr.Vault.String()),
					slog.String("kept", prev.Address.String()),
					slog.String("ignored", tr.Address.String()),
				)

				continue
			}

			snap.Trackers[tr.Vault] = tr
		}
	}
}
