package core

import (
	"context"

	"github.com/abcfe/hdpay/common/crypto"
	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/abcfe/hdpay/secret"
	"github.com/pkg/errors"
)

const indexPlaintextSize = 8

// IndexCodec seals a (merchantIndex, paymentIndex) pair for storage. It uses
// the provider's own encryption when offered, otherwise AES-256-GCM under a
// key derived from the master seed. Every call uses a fresh IV, so equal
// pairs never produce equal blobs.
type IndexCodec struct {
	provider secret.Provider
	enc      secret.Encrypter // nil if the provider cannot encrypt
}

func NewIndexCodec(provider secret.Provider) *IndexCodec {
	c := &IndexCodec{provider: provider}
	if enc, ok := provider.(secret.Encrypter); ok {
		c.enc = enc
	}
	return c
}

func (c *IndexCodec) localKey(ctx context.Context) ([]byte, error) {
	seed, err := c.provider.MasterSeed(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.DeriveKey([]byte(seed), secret.DirectKeySuffix), nil
}

// Encode returns the opaque blob for (m, p)
func (c *IndexCodec) Encode(ctx context.Context, merchantIndex, paymentIndex uint32) (string, error) {
	if !prt.ValidIndex(merchantIndex) || !prt.ValidIndex(paymentIndex) {
		return "", errors.Wrapf(prt.ErrIndexOutOfRange, "indices %d/%d", merchantIndex, paymentIndex)
	}

	plaintext := append(utils.Uint32ToBytes(merchantIndex), utils.Uint32ToBytes(paymentIndex)...)

	if c.enc != nil {
		return c.enc.Encrypt(ctx, plaintext)
	}

	key, err := c.localKey(ctx)
	if err != nil {
		return "", err
	}
	defer utils.Zero(key)

	sealed, err := crypto.Seal(key, plaintext)
	if err != nil {
		return "", err
	}
	return sealed.String(), nil
}

// Decode verifies and opens a blob from Encode. A failed tag check is
// ErrDecryptionFailed, a blob of the wrong shape ErrMalformedBlob.
func (c *IndexCodec) Decode(ctx context.Context, blob string) (uint32, uint32, error) {
	var (
		plaintext []byte
		err       error
	)

	if c.enc != nil {
		plaintext, err = c.enc.Decrypt(ctx, blob)
	} else {
		plaintext, err = c.openLocal(ctx, blob)
	}
	if err != nil {
		return 0, 0, err
	}

	if len(plaintext) != indexPlaintextSize {
		return 0, 0, errors.Wrapf(prt.ErrMalformedBlob, "plaintext length %d", len(plaintext))
	}
	m, _ := utils.BytesToUint32(plaintext[:4])
	p, _ := utils.BytesToUint32(plaintext[4:])
	if !prt.ValidIndex(m) || !prt.ValidIndex(p) {
		return 0, 0, errors.Wrapf(prt.ErrMalformedBlob, "indices %d/%d out of range", m, p)
	}
	return m, p, nil
}

func (c *IndexCodec) openLocal(ctx context.Context, blob string) ([]byte, error) {
	sealed, err := crypto.ParseSealed(blob)
	if err != nil {
		return nil, err
	}

	key, err := c.localKey(ctx)
	if err != nil {
		return nil, err
	}
	defer utils.Zero(key)

	return crypto.Open(key, sealed)
}
