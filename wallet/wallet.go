package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/abcfe/hdpay/common/crypto"
	"github.com/pkg/errors"
	"github.com/stellar/go/exp/crypto/derivation"
)

// DeriveKeypair derives the account at m/44'/148'/merchantIndex'/paymentIndex'
// from a 64-byte derivation seed. Identical inputs always give identical keys,
// which is what lets secret keys be dropped after use and rebuilt for sweeps.
func DeriveKeypair(seed []byte, merchantIndex, paymentIndex uint32) (*Keypair, error) {
	if len(seed) != DerivationSeedSize {
		return nil, fmt.Errorf("derivation seed must be %d bytes, got %d", DerivationSeedSize, len(seed))
	}

	leaf, err := DeriveForPath(seed, merchantIndex, paymentIndex)
	if err != nil {
		return nil, err
	}
	return KeypairFromKey(leaf)
}

// DeriveAddress derives only what may be shown and stored in plaintext
func DeriveAddress(seed []byte, merchantIndex, paymentIndex uint32) (*DerivedAddress, error) {
	kp, err := DeriveKeypair(seed, merchantIndex, paymentIndex)
	if err != nil {
		return nil, err
	}

	return &DerivedAddress{
		PublicKey:      kp.PublicKey,
		MerchantIndex:  merchantIndex,
		PaymentIndex:   paymentIndex,
		DerivationPath: FormatPath(merchantIndex, paymentIndex),
	}, nil
}

// KeypairFromKey treats the node's private key as the raw ed25519 seed
func KeypairFromKey(k *derivation.Key) (*Keypair, error) {
	raw := k.RawSeed()
	priv := ed25519.NewKeyFromSeed(raw[:])
	pub := priv.Public().(ed25519.PublicKey)

	address, err := crypto.EncodeAccountID(pub)
	if err != nil {
		return nil, errors.Wrap(err, "encode account id")
	}
	secret, err := crypto.EncodeSeed(raw[:])
	if err != nil {
		return nil, errors.Wrap(err, "encode secret seed")
	}

	return &Keypair{
		PublicKey: address,
		SecretKey: secret,
		Private:   priv,
	}, nil
}
