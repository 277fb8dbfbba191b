package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-tron/base58"

	"github.com/tonimelisma/chrono-crank/internal/solana"
)

// Commitment is the degree of finality a read or confirmation waits for.
type Commitment string

// Commitment levels, weakest first.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reached reports whether an observed commitment satisfies c.
func (c Commitment) Reached(observed Commitment) bool {
	return observed.rank() >= c.rank() && observed.rank() > 0
}

const (
	encodingBase64 = "base64"

	// confirmPollInterval is how often ConfirmTransaction re-checks status.
	confirmPollInterval = 2 * time.Second
)

// AccountInfo is a decoded account as returned by the node.
type AccountInfo struct {
	Owner      solana.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Pubkey  solana.Pubkey
	Account AccountInfo
}

// wireAccount is the JSON shape of an account with base64 data.
type wireAccount struct {
	Owner      solana.Pubkey `json:"owner"`
	Lamports   uint64        `json:"lamports"`
	Data       []string      `json:"data"`
	Executable bool          `json:"executable"`
}

func (w *wireAccount) decode() (AccountInfo, error) {
	if len(w.Data) != 2 || w.Data[1] != encodingBase64 {
		return AccountInfo{}, fmt.Errorf("rpc: unexpected account data encoding %v", w.Data)
	}

	data, err := base64.StdEncoding.DecodeString(w.Data[0])
	if err != nil {
		return AccountInfo{}, fmt.Errorf("rpc: decoding account data: %w", err)
	}

	return AccountInfo{
		Owner:      w.Owner,
		Lamports:   w.Lamports,
		Data:       data,
		Executable: w.Executable,
	}, nil
}

type contextSlot struct {
	Slot uint64 `json:"slot"`
}

// Filter narrows getProgramAccounts results.
type Filter struct {
	Memcmp   *Memcmp `json:"memcmp,omitempty"`
	DataSize uint64  `json:"dataSize,omitempty"`
}

// Memcmp matches accounts whose data at Offset equals Bytes (base58).
type Memcmp struct {
	Offset uint64 `json:"offset"`
	Bytes  string `json:"bytes"`
}

// MemcmpFilter builds a memcmp filter for raw bytes at offset.
func MemcmpFilter(offset uint64, b []byte) Filter {
	return Filter{Memcmp: &Memcmp{Offset: offset, Bytes: base58.Encode(b)}}
}

// GetSlot returns the node's current slot at the client's commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.Call(ctx, "getSlot", &slot, map[string]any{"commitment": c.commitment}); err != nil {
		return 0, err
	}

	return slot, nil
}

// GetAccountInfo fetches one account. A missing account returns
// ErrAccountNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, addr solana.Pubkey) (*AccountInfo, error) {
	var result struct {
		Context contextSlot  `json:"context"`
		Value   *wireAccount `json:"value"`
	}

	cfg := map[string]any{"encoding": encodingBase64, "commitment": c.commitment}
	if err := c.Call(ctx, "getAccountInfo", &result, addr.String(), cfg); err != nil {
		return nil, err
	}

	if result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}

	info, err := result.Value.decode()
	if err != nil {
		return nil, fmt.Errorf("rpc: account %s: %w", addr, err)
	}

	return &info, nil
}

// GetProgramAccounts returns every account owned by program that matches
// all filters.
func (c *Client) GetProgramAccounts(ctx context.Context, program solana.Pubkey, filters ...Filter) ([]KeyedAccount, error) {
	cfg := map[string]any{"encoding": encodingBase64, "commitment": c.commitment}
	if len(filters) > 0 {
		cfg["filters"] = filters
	}

	var result []struct {
		Pubkey  solana.Pubkey `json:"pubkey"`
		Account wireAccount   `json:"account"`
	}

	if err := c.Call(ctx, "getProgramAccounts", &result, program.String(), cfg); err != nil {
		return nil, err
	}

	accounts := make([]KeyedAccount, 0, len(result))

	for i := range result {
		info, err := result[i].Account.decode()
		if err != nil {
			return nil, fmt.Errorf("rpc: program account %s: %w", result[i].Pubkey, err)
		}

		accounts = append(accounts, KeyedAccount{Pubkey: result[i].Pubkey, Account: info})
	}

	return accounts, nil
}

// GetLatestBlockhash returns a recent blockhash and the last block height at
// which transactions referencing it are valid.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	var result struct {
		Context contextSlot `json:"context"`
		Value   struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}

	if err := c.Call(ctx, "getLatestBlockhash", &result, map[string]any{"commitment": c.commitment}); err != nil {
		return solana.Hash{}, 0, err
	}

	hash, err := solana.ParseHash(result.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("rpc: getLatestBlockhash: %w", err)
	}

	return hash, result.Value.LastValidBlockHeight, nil
}

// SendTransaction submits a signed transaction and returns its signature.
// Preflight simulation runs at the client's commitment.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := solana.SerializeTransaction(tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("rpc: sendTransaction: %w", err)
	}

	cfg := map[string]any{
		"encoding":            encodingBase64,
		"preflightCommitment": c.commitment,
	}

	var sigStr string
	if err := c.Call(ctx, "sendTransaction", &sigStr, base64.StdEncoding.EncodeToString(raw), cfg); err != nil {
		return solana.Signature{}, err
	}

	sig, err := solana.ParseSignature(sigStr)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("rpc: sendTransaction: %w", err)
	}

	return sig, nil
}

// SignatureStatus is the node's view of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus Commitment      `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// GetSignatureStatuses returns one status per signature, nil where the node
// has no record of it.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*SignatureStatus, error) {
	strs := make([]string, len(sigs))
	for i := range sigs {
		strs[i] = sigs[i].String()
	}

	var result struct {
		Context contextSlot        `json:"context"`
		Value   []*SignatureStatus `json:"value"`
	}

	if err := c.Call(ctx, "getSignatureStatuses", &result, strs); err != nil {
		return nil, err
	}

	if len(result.Value) != len(sigs) {
		return nil, fmt.Errorf("rpc: getSignatureStatuses: asked for %d, got %d", len(sigs), len(result.Value))
	}

	return result.Value, nil
}

// ConfirmTransaction polls until sig reaches the client's commitment, the
// transaction fails, or timeout elapses.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		statuses, err := c.GetSignatureStatuses(ctx, sig)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("rpc: confirming %s: %w", sig, err)
		}

		if err == nil && statuses[0] != nil {
			st := statuses[0]
			if st.Failed() {
				return fmt.Errorf("%w: %s: %s", ErrTransactionFailed, sig, string(st.Err))
			}

			if c.commitment.Reached(st.ConfirmationStatus) {
				c.logger.Debug("transaction confirmed",
					slog.String("signature", sig.String()),
					slog.Uint64("slot", st.Slot),
					slog.String("status", string(st.ConfirmationStatus)),
				)

				return nil
			}
		}

		if sleepErr := c.sleepFunc(ctx, confirmPollInterval); sleepErr != nil {
			if errors.Is(sleepErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s", ErrConfirmTimeout, sig, timeout)
			}

			return fmt.Errorf("rpc: confirming %s: %w", sig, sleepErr)
		}
	}
}
