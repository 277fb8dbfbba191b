package solana

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Transaction errors.
var (
	ErrMissingSigner = errors.New("solana: no signer provided for required signature")
	ErrUnsigned      = errors.New("solana: transaction is missing signatures")
)

// NewTransaction compiles instructions into a legacy transaction with payer
// as fee payer. The result must be signed before serialization.
func NewTransaction(payer Pubkey, instructions []Instruction, blockhash Hash) (*Transaction, error) {
	tx, err := solanago.NewTransaction(instructions, blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("solana: compiling transaction: %w", err)
	}

	return tx, nil
}

// SignTransaction fills every required signature slot from signers. Every
// required signer must be supplied; extra signers are ignored.
func SignTransaction(tx *Transaction, signers ...Signer) error {
	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("solana: encoding message: %w", err)
	}

	byKey := make(map[Pubkey]Signer, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}

	required := tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures]
	sigs := make([]Signature, len(required))

	for i, key := range required {
		s, ok := byKey[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}

		sig, err := s.Sign(payload)
		if err != nil {
			return fmt.Errorf("solana: signing with %s: %w", key, err)
		}

		sigs[i] = sig
	}

	tx.Signatures = sigs

	return nil
}

// SerializeTransaction encodes a fully signed transaction in the wire format.
func SerializeTransaction(tx *Transaction) ([]byte, error) {
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("%w: have %d of %d", ErrUnsigned, len(tx.Signatures), tx.Message.Header.NumRequiredSignatures)
	}

	for i, sig := range tx.Signatures {
		if sig.IsZero() {
			return nil, fmt.Errorf("%w: slot %d", ErrUnsigned, i)
		}
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("solana: encoding transaction: %w", err)
	}

	return raw, nil
}

// TransactionID returns the first signature, which identifies the transaction.
func TransactionID(tx *Transaction) Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}

	return tx.Signatures[0]
}
