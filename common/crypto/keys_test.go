package crypto

import (
	"crypto/ed25519"
	"strings"
	"testing"

	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	s, err := Seal(key, []byte("index payload"))
	require.NoError(t, err)
	require.Len(t, s.IV, IVSize)
	require.Len(t, s.Tag, TagSize)

	parsed, err := ParseSealed(s.String())
	require.NoError(t, err)

	plaintext, err := Open(key, parsed)
	require.NoError(t, err)
	require.Equal(t, "index payload", string(plaintext))
}

func TestSealFreshIV(t *testing.T) {
	key := DeriveKey([]byte("seed"), ":hd-key-data")

	a, err := Seal(key, []byte("same"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same"))
	require.NoError(t, err)

	require.NotEqual(t, a.String(), b.String())
}

func TestOpenWrongKey(t *testing.T) {
	s, err := Seal(DeriveKey([]byte("a"), "x"), []byte("payload"))
	require.NoError(t, err)

	_, err = Open(DeriveKey([]byte("b"), "x"), s)
	require.True(t, errors.Is(err, prt.ErrDecryptionFailed))
}

func TestParseSealedMalformed(t *testing.T) {
	cases := []string{
		"",
		"aa:bb",
		"aa:bb:cc:dd",
		strings.Repeat("0", 32) + ":zz:00",
		"00:" + strings.Repeat("0", 32) + ":00",
	}
	for _, c := range cases {
		_, err := ParseSealed(c)
		require.True(t, errors.Is(err, prt.ErrMalformedBlob), "input %q", c)
	}
}

func TestAccountIDRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	addr, err := EncodeAccountID(pub)
	require.NoError(t, err)
	require.Len(t, addr, 56)
	require.Equal(t, byte('G'), addr[0])

	decoded, err := DecodeAccountID(addr)
	require.NoError(t, err)
	require.Equal(t, pub, decoded)

	_, err = DecodeAccountID("G" + strings.Repeat("A", 55))
	require.True(t, errors.Is(err, prt.ErrInvalidPublicKey))
}

func TestEncodeSeed(t *testing.T) {
	raw := make([]byte, ed25519.SeedSize)
	secret, err := EncodeSeed(raw)
	require.NoError(t, err)
	require.Equal(t, byte('S'), secret[0])

	_, err = EncodeSeed(raw[:31])
	require.Error(t, err)
}
