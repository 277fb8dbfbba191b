package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
)

// KeypairFilePerms restricts keypair files to owner-only read/write.
const KeypairFilePerms = 0o600

// keypairDirPerms is used when creating the parent directory on write.
const keypairDirPerms = 0o700

// ErrKeypairMismatch indicates a keypair file whose public half does not
// match the key derived from its secret half.
var ErrKeypairMismatch = errors.New("solana: keypair public key does not match secret")

// Signer signs transaction messages. The engine never sees key material,
// only this capability.
type Signer interface {
	PublicKey() Pubkey
	Sign(message []byte) (Signature, error)
}

// Keypair is an ed25519 key in the Solana CLI layout: 32-byte seed followed
// by the 32-byte public key.
type Keypair struct {
	key solanago.PrivateKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("solana: generating keypair: %w", err)
	}

	return &Keypair{key: key}, nil
}

// KeypairFromBytes validates a 64-byte secret key, including that its public
// half is the one derived from its seed.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	key := solanago.PrivateKey(append([]byte(nil), b...))
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("solana: %w", err)
	}

	derived := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !derived.Equal(ed25519.PrivateKey(b)) {
		return nil, ErrKeypairMismatch
	}

	return &Keypair{key: key}, nil
}

// LoadKeypair reads a keypair file written by solana-keygen: a JSON array of
// 64 integers. A leading "~/" is expanded to the home directory.
func LoadKeypair(path string) (*Keypair, error) {
	path = ExpandHome(path)

	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("solana: keypair %s: %w", path, err)
	}

	kp, err := KeypairFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("solana: keypair %s: %w", path, err)
	}

	return kp, nil
}

// WriteKeypair writes kp in the solana-keygen format atomically
// (temp file + rename) with 0600 permissions.
func WriteKeypair(path string, kp *Keypair) error {
	ints := make([]int, len(kp.key))
	for i, b := range kp.key {
		ints[i] = int(b)
	}

	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("solana: encoding keypair: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, keypairDirPerms); err != nil {
		return fmt.Errorf("solana: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".keypair-*.tmp")
	if err != nil {
		return fmt.Errorf("solana: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, KeypairFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("solana: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("solana: writing keypair: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("solana: syncing keypair: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("solana: closing keypair: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("solana: renaming keypair: %w", err)
	}

	success = true

	return nil
}

// PublicKey returns the address controlled by this keypair.
func (k *Keypair) PublicKey() Pubkey {
	return k.key.PublicKey()
}

// Sign signs message with the secret key.
func (k *Keypair) Sign(message []byte) (Signature, error) {
	return k.key.Sign(message)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
