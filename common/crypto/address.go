package crypto

import (
	"crypto/ed25519"

	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/stellar/go/strkey"
)

// EncodeAccountID renders an Ed25519 public key as a G... address
func EncodeAccountID(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errors.Wrapf(prt.ErrInvalidPublicKey, "length %d", len(pub))
	}
	return strkey.Encode(strkey.VersionByteAccountID, pub)
}

// EncodeSeed renders a raw 32-byte Ed25519 seed as an S... secret
func EncodeSeed(raw []byte) (string, error) {
	if len(raw) != ed25519.SeedSize {
		return "", errors.Errorf("invalid seed length: %d", len(raw))
	}
	return strkey.Encode(strkey.VersionByteSeed, raw)
}

// DecodeAccountID checks version byte and checksum and returns the raw key
func DecodeAccountID(address string) (ed25519.PublicKey, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, address)
	if err != nil {
		return nil, errors.Wrap(prt.ErrInvalidPublicKey, err.Error())
	}
	return ed25519.PublicKey(raw), nil
}
