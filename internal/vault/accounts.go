// Package vault decodes the vault program accounts the crank reads and
// builds the three update-state-tracker instructions it sends.
//
// Accounts are fixed-layout little-endian structs behind an 8-byte prefix
// whose first byte is the account discriminator.
package vault

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// Discriminator identifies an account type by the first byte of its data.
type Discriminator uint8

// Account discriminators used by the vault program.
const (
	DiscriminatorConfig                  Discriminator = 1
	DiscriminatorVault                   Discriminator = 2
	DiscriminatorVaultOperatorDelegation Discriminator = 4
	DiscriminatorVaultUpdateStateTracker Discriminator = 8
)

func (d Discriminator) String() string {
	switch d {
	case DiscriminatorConfig:
		return "Config"
	case DiscriminatorVault:
		return "Vault"
	case DiscriminatorVaultOperatorDelegation:
		return "VaultOperatorDelegation"
	case DiscriminatorVaultUpdateStateTracker:
		return "VaultUpdateStateTracker"
	default:
		return fmt.Sprintf("Discriminator(%d)", uint8(d))
	}
}

const prefixLen = 8

// Decode errors.
var (
	ErrShortAccount       = errors.New("vault: account data too short")
	ErrWrongDiscriminator = errors.New("vault: unexpected account discriminator")
)

// Account sizes, including the 8-byte prefix.
const (
	configLen     = 80
	vaultLen      = 584
	delegationLen = 113
	trackerLen    = 81
)

// On-chain layouts. Only the fields the crank reads are named; the rest is
// carried as reserved bytes so offsets line up.
type configLayout struct {
	Prefix           [prefixLen]byte
	Admin            solana.Pubkey
	RestakingProgram solana.Pubkey
	EpochLength      uint64
}

type vaultLayout struct {
	Prefix                  [prefixLen]byte
	Base                    solana.Pubkey
	VrtMint                 solana.Pubkey
	SupportedMint           solana.Pubkey
	Reserved0               [80]byte
	Admin                   solana.Pubkey
	Reserved1               [320]byte
	VaultIndex              uint64
	NcnCount                uint64
	OperatorCount           uint64
	Reserved2               [16]byte
	LastFullStateUpdateSlot uint64
}

type delegationLayout struct {
	Prefix         [prefixLen]byte
	Vault          solana.Pubkey
	Operator       solana.Pubkey
	Reserved0      [24]byte
	LastUpdateSlot uint64
	Index          uint64
	Bump           uint8
}

type trackerLayout struct {
	Prefix                     [prefixLen]byte
	Vault                      solana.Pubkey
	NcnEpoch                   uint64
	LastUpdatedIndex           uint64
	Reserved0                  [24]byte
	WithdrawalAllocationMethod uint8
}

// Config is the program-wide configuration account.
type Config struct {
	Admin            solana.Pubkey
	RestakingProgram solana.Pubkey
	EpochLength      uint64
}

// Vault is the subset of vault state the crank needs.
type Vault struct {
	Base                    solana.Pubkey
	VrtMint                 solana.Pubkey
	SupportedMint           solana.Pubkey
	Admin                   solana.Pubkey
	VaultIndex              uint64
	NcnCount                uint64
	OperatorCount           uint64
	LastFullStateUpdateSlot uint64
}

// OperatorDelegation is one operator's allocation within one vault.
type OperatorDelegation struct {
	Vault          solana.Pubkey
	Operator       solana.Pubkey
	LastUpdateSlot uint64
	Index          uint64
	Bump           uint8
}

// UpdateStateTracker accumulates per-operator updates for one vault and epoch.
type UpdateStateTracker struct {
	Vault                      solana.Pubkey
	NcnEpoch                   uint64
	LastUpdatedIndex           uint64
	WithdrawalAllocationMethod WithdrawalAllocationMethod
}

// DiscriminatorOf returns the discriminator byte of raw account data.
func DiscriminatorOf(data []byte) (Discriminator, error) {
	if len(data) < prefixLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortAccount, len(data))
	}

	return Discriminator(data[0]), nil
}

func checkAccount(data []byte, want Discriminator, minLen int) error {
	if len(data) < minLen {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortAccount, want, minLen, len(data))
	}

	if got := Discriminator(data[0]); got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrWrongDiscriminator, want, got)
	}

	return nil
}

// decodeAccount checks the discriminator and size, then decodes the layout
// into v.
func decodeAccount(data []byte, want Discriminator, size int, v any) error {
	if err := checkAccount(data, want, size); err != nil {
		return err
	}

	if err := bin.NewBinDecoder(data[:size]).Decode(v); err != nil {
		return fmt.Errorf("vault: decoding %s: %w", want, err)
	}

	return nil
}

// DecodeConfig parses a Config account.
func DecodeConfig(data []byte) (*Config, error) {
	var l configLayout
	if err := decodeAccount(data, DiscriminatorConfig, configLen, &l); err != nil {
		return nil, err
	}

	return &Config{
		Admin:            l.Admin,
		RestakingProgram: l.RestakingProgram,
		EpochLength:      l.EpochLength,
	}, nil
}

// DecodeVault parses a Vault account.
func DecodeVault(data []byte) (*Vault, error) {
	var l vaultLayout
	if err := decodeAccount(data, DiscriminatorVault, vaultLen, &l); err != nil {
		return nil, err
	}

	return &Vault{
		Base:                    l.Base,
		VrtMint:                 l.VrtMint,
		SupportedMint:           l.SupportedMint,
		Admin:                   l.Admin,
		VaultIndex:              l.VaultIndex,
		NcnCount:                l.NcnCount,
		OperatorCount:           l.OperatorCount,
		LastFullStateUpdateSlot: l.LastFullStateUpdateSlot,
	}, nil
}

// DecodeOperatorDelegation parses a VaultOperatorDelegation account.
func DecodeOperatorDelegation(data []byte) (*OperatorDelegation, error) {
	var l delegationLayout
	if err := decodeAccount(data, DiscriminatorVaultOperatorDelegation, delegationLen, &l); err != nil {
		return nil, err
	}

	return &OperatorDelegation{
		Vault:          l.Vault,
		Operator:       l.Operator,
		LastUpdateSlot: l.LastUpdateSlot,
		Index:          l.Index,
		Bump:           l.Bump,
	}, nil
}

// DecodeUpdateStateTracker parses a VaultUpdateStateTracker account.
func DecodeUpdateStateTracker(data []byte) (*UpdateStateTracker, error) {
	var l trackerLayout
	if err := decodeAccount(data, DiscriminatorVaultUpdateStateTracker, trackerLen, &l); err != nil {
		return nil, err
	}

	return &UpdateStateTracker{
		Vault:                      l.Vault,
		NcnEpoch:                   l.NcnEpoch,
		LastUpdatedIndex:           l.LastUpdatedIndex,
		WithdrawalAllocationMethod: WithdrawalAllocationMethod(l.WithdrawalAllocationMethod),
	}, nil
}

// Encode renders c in the on-chain layout. Used to build fixtures.
func (c *Config) Encode() []byte {
	return mustMarshal(&configLayout{
		Prefix:           prefix(DiscriminatorConfig),
		Admin:            c.Admin,
		RestakingProgram: c.RestakingProgram,
		EpochLength:      c.EpochLength,
	})
}

// Encode renders v in the on-chain layout. Used to build fixtures.
func (v *Vault) Encode() []byte {
	return mustMarshal(&vaultLayout{
		Prefix:                  prefix(DiscriminatorVault),
		Base:                    v.Base,
		VrtMint:                 v.VrtMint,
		SupportedMint:           v.SupportedMint,
		Admin:                   v.Admin,
		VaultIndex:              v.VaultIndex,
		NcnCount:                v.NcnCount,
		OperatorCount:           v.OperatorCount,
		LastFullStateUpdateSlot: v.LastFullStateUpdateSlot,
	})
}

// Encode renders d in the on-chain layout. Used to build fixtures.
func (d *OperatorDelegation) Encode() []byte {
	return mustMarshal(&delegationLayout{
		Prefix:         prefix(DiscriminatorVaultOperatorDelegation),
		Vault:          d.Vault,
		Operator:       d.Operator,
		LastUpdateSlot: d.LastUpdateSlot,
		Index:          d.Index,
		Bump:           d.Bump,
	})
}

// Encode renders t in the on-chain layout. Used to build fixtures.
func (t *UpdateStateTracker) Encode() []byte {
	return mustMarshal(&trackerLayout{
		Prefix:                     prefix(DiscriminatorVaultUpdateStateTracker),
		Vault:                      t.Vault,
		NcnEpoch:                   t.NcnEpoch,
		LastUpdatedIndex:           t.LastUpdatedIndex,
		WithdrawalAllocationMethod: uint8(t.WithdrawalAllocationMethod),
	})
}

func prefix(d Discriminator) [prefixLen]byte {
	var p [prefixLen]byte
	p[0] = byte(d)

	return p
}

// mustMarshal encodes a fixed-size layout. Layouts hold only fixed-size
// fields, so encoding cannot fail.
func mustMarshal(layout any) []byte {
	out, err := bin.MarshalBin(layout)
	if err != nil {
		panic(fmt.Sprintf("vault: encoding %T: %v", layout, err))
	}

	return out
}
