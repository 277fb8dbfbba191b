package vault

import (
	"encoding/binary"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// Well-known program addresses on mainnet.
var (
	DefaultProgramID          = solana.MustPubkey("Vau1t6sLNxnzB7ZDsef8TLbPLfyZMYXH8WTNqUdm9g8")
	DefaultRestakingProgramID = solana.MustPubkey("RestkWeAVL8fRGgzhfeoqFhsqKRchg6aa1XrcH96z4Q")
)

const (
	seedConfig     = "config"
	seedTracker    = "vault_update_state_tracker"
	seedDelegation = "vault_operator_delegation"
)

// ConfigAddress derives the program config PDA.
func ConfigAddress(programID solana.Pubkey) (solana.Pubkey, error) {
	addr, _, err := solanago.FindProgramAddress([][]byte{[]byte(seedConfig)}, programID)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("vault: deriving config address: %w", err)
	}

	return addr, nil
}

// TrackerAddress derives the update state tracker PDA for vault at epoch.
func TrackerAddress(programID, vault solana.Pubkey, epoch uint64) (solana.Pubkey, error) {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], epoch)

	addr, _, err := solanago.FindProgramAddress([][]byte{[]byte(seedTracker), vault[:], le[:]}, programID)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("vault: deriving tracker address for %s epoch %d: %w", vault, epoch, err)
	}

	return addr, nil
}

// DelegationAddress derives the vault operator delegation PDA.
func DelegationAddress(programID, vault, operator solana.Pubkey) (solana.Pubkey, error) {
	addr, _, err := solanago.FindProgramAddress([][]byte{[]byte(seedDelegation), vault[:], operator[:]}, programID)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("vault: deriving delegation address for %s/%s: %w", vault, operator, err)
	}

	return addr, nil
}
