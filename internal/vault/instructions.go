package vault

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// Instruction tags of the update-state-tracker family.
const (
	TagInitializeUpdateStateTracker uint8 = 26
	TagCrankUpdateStateTracker      uint8 = 27
	TagCloseUpdateStateTracker      uint8 = 28
)

// WithdrawalAllocationMethod selects how a tracker distributes withdrawals.
type WithdrawalAllocationMethod uint8

// Greedy is the only allocation method the program supports.
const Greedy WithdrawalAllocationMethod = 0

// Instruction is one vault program instruction: a tag byte followed by the
// borsh-encoded arguments. It satisfies solana.Instruction.
type Instruction struct {
	Program      solana.Pubkey
	Tag          uint8
	Args         any // nil when the instruction takes no arguments
	AccountMetas solanago.AccountMetaSlice
}

var _ solana.Instruction = (*Instruction)(nil)

// ProgramID implements solana.Instruction.
func (ix *Instruction) ProgramID() solana.Pubkey { return ix.Program }

// Accounts implements solana.Instruction.
func (ix *Instruction) Accounts() []*solana.AccountMeta { return ix.AccountMetas }

// Data implements solana.Instruction.
func (ix *Instruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteUint8(ix.Tag); err != nil {
		return nil, fmt.Errorf("vault: encoding instruction tag: %w", err)
	}

	if ix.Args != nil {
		if err := enc.Encode(ix.Args); err != nil {
			return nil, fmt.Errorf("vault: encoding instruction %d args: %w", ix.Tag, err)
		}
	}

	return buf.Bytes(), nil
}

type initializeArgs struct {
	WithdrawalAllocationMethod WithdrawalAllocationMethod
}

type closeArgs struct {
	NcnEpoch uint64
}

// InitializeParams are the accounts for InitializeUpdateStateTracker.
type InitializeParams struct {
	ProgramID solana.Pubkey
	Config    solana.Pubkey
	Vault     solana.Pubkey
	Tracker   solana.Pubkey
	Payer     solana.Pubkey
}

// NewInitializeInstruction builds the instruction that opens a tracker for
// the current epoch.
func NewInitializeInstruction(p InitializeParams) *Instruction {
	return &Instruction{
		Program: p.ProgramID,
		Tag:     TagInitializeUpdateStateTracker,
		Args:    &initializeArgs{WithdrawalAllocationMethod: Greedy},
		AccountMetas: solanago.AccountMetaSlice{
			solanago.Meta(p.Config),
			solanago.Meta(p.Vault).WRITE(),
			solanago.Meta(p.Tracker).WRITE(),
			solanago.Meta(p.Payer).WRITE().SIGNER(),
			solanago.Meta(solana.SystemProgramID),
		},
	}
}

// CrankParams are the accounts for CrankUpdateStateTracker.
type CrankParams struct {
	ProgramID  solana.Pubkey
	Config     solana.Pubkey
	Vault      solana.Pubkey
	Operator   solana.Pubkey
	Delegation solana.Pubkey
	Tracker    solana.Pubkey
}

// NewCrankInstruction builds the instruction that folds one operator
// delegation into the tracker.
func NewCrankInstruction(p CrankParams) *Instruction {
	return &Instruction{
		Program: p.ProgramID,
		Tag:     TagCrankUpdateStateTracker,
		AccountMetas: solanago.AccountMetaSlice{
			solanago.Meta(p.Config),
			solanago.Meta(p.Vault).WRITE(),
			solanago.Meta(p.Operator),
			solanago.Meta(p.Delegation).WRITE(),
			solanago.Meta(p.Tracker).WRITE(),
		},
	}
}

// CloseParams are the accounts for CloseUpdateStateTracker.
type CloseParams struct {
	ProgramID solana.Pubkey
	Config    solana.Pubkey
	Vault     solana.Pubkey
	Tracker   solana.Pubkey
	Payer     solana.Pubkey
	NcnEpoch  uint64
}

// NewCloseInstruction builds the instruction that finalizes a tracker and
// reclaims its rent to the payer.
func NewCloseInstruction(p CloseParams) *Instruction {
	return &Instruction{
		Program: p.ProgramID,
		Tag:     TagCloseUpdateStateTracker,
		Args:    &closeArgs{NcnEpoch: p.NcnEpoch},
		AccountMetas: solanago.AccountMetaSlice{
			solanago.Meta(p.Config),
			solanago.Meta(p.Vault).WRITE(),
			solanago.Meta(p.Tracker).WRITE(),
			solanago.Meta(p.Payer).WRITE().SIGNER(),
		},
	}
}
