// Package solana adapts github.com/gagliardetto/solana-go to what chrono-crank
// needs: parsed addresses with stable errors, keypair files behind a Signer,
// and signed legacy transactions.
package solana

import (
	"bytes"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Wire types shared with solana-go.
type (
	Pubkey      = solanago.PublicKey
	Hash        = solanago.Hash
	Signature   = solanago.Signature
	AccountMeta = solanago.AccountMeta
	Instruction = solanago.Instruction
	Transaction = solanago.Transaction
)

// SystemProgramID is the address of the native system program.
var SystemProgramID = solanago.SystemProgramID

// ErrInvalidPubkey indicates a string that does not decode to 32 bytes.
var ErrInvalidPubkey = errors.New("solana: invalid public key")

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	p, err := solanago.PublicKeyFromBase58(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("%w %q: %w", ErrInvalidPubkey, s, err)
	}

	return p, nil
}

// MustPubkey is ParsePubkey for compile-time constants. Panics on bad input.
func MustPubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}

	return p
}

// Compare orders keys by their raw bytes, for use with slices.SortFunc.
func Compare(a, b Pubkey) int {
	return bytes.Compare(a[:], b[:])
}

// ParseHash decodes a base58 blockhash.
func ParseHash(s string) (Hash, error) {
	h, err := solanago.HashFromBase58(s)
	if err != nil {
		return Hash{}, fmt.Errorf("solana: invalid hash %q: %w", s, err)
	}

	return h, nil
}

// ParseSignature decodes a base58 transaction signature.
func ParseSignature(s string) (Signature, error) {
	sig, err := solanago.SignatureFromBase58(s)
	if err != nil {
		return Signature{}, fmt.Errorf("solana: invalid signature %q: %w", s, err)
	}

	return sig, nil
}
