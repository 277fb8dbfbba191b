package solana

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePubkey_RoundTrip(t *testing.T) {
	t.Parallel()

	const addr = "Vau1t6sLNxnzB7ZDsef8TLbPLfyZMYXH8WTNqUdm9g8"

	p, err := ParsePubkey(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, p.String())
	assert.False(t, p.IsZero())
}

func TestParsePubkey_SystemProgram(t *testing.T) {
	t.Parallel()

	p, err := ParsePubkey("11111111111111111111111111111111")
	require.NoError(t, err)
	assert.True(t, p.IsZero())
	assert.Equal(t, SystemProgramID, p)
}

func TestParsePubkey_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad alphabet", "0OIl"},
		{"too short", "abc"},
		{"too long", "Vau1t6sLNxnzB7ZDsef8TLbPLfyZMYXH8WTNqUdm9g8Vau1t6sLNxnzB7ZDsef8TLbPL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParsePubkey(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPubkey)
		})
	}
}

func TestPubkey_TextMarshaling(t *testing.T) {
	t.Parallel()

	want := MustPubkey("RestkWeAVL8fRGgzhfeoqFhsqKRchg6aa1XrcH96z4Q")

	text, err := want.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RestkWeAVL8fRGgzhfeoqFhsqKRchg6aa1XrcH96z4Q", string(text))

	var got Pubkey
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, want, got)
}

func TestCompare_SortsBytewise(t *testing.T) {
	t.Parallel()

	keys := []Pubkey{{3}, {1}, {2, 9}, {2}}
	slices.SortFunc(keys, Compare)

	assert.Equal(t, []Pubkey{{1}, {2}, {2, 9}, {3}}, keys)
	assert.Zero(t, Compare(Pubkey{5}, Pubkey{5}))
}

func TestParseHashAndSignature(t *testing.T) {
	t.Parallel()

	h, err := ParseHash("UwuSgAq4zByffCGCrWH87DsjfsewYjuqHfJEpzw1Jq3")
	require.NoError(t, err)
	assert.Equal(t, "UwuSgAq4zByffCGCrWH87DsjfsewYjuqHfJEpzw1Jq3", h.String())

	_, err = ParseHash("abc")
	require.Error(t, err)

	var sig Signature
	sig[0] = 7
	parsed, err := ParseSignature(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
	assert.False(t, parsed.IsZero())

	_, err = ParseSignature(h.String())
	require.Error(t, err)
}
