package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
)

const (
	KeySize = 32 // AES-256
	IVSize  = 16
	TagSize = 16

	FieldSeparator = ":"
)

// Sealed is an AES-256-GCM ciphertext with its IV and authentication tag kept
// as separate fields.
type Sealed struct {
	IV         []byte
	Tag        []byte
	CipherText []byte
}

// NewKey returns a fresh random symmetric key
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey computes SHA-256(secret || suffix)
func DeriveKey(secret []byte, suffix string) []byte {
	sum := utils.Sha256(secret, []byte(suffix))
	return sum[:]
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// Seal encrypts plaintext under key with a fresh random IV
func Seal(key, plaintext []byte) (*Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	out := gcm.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		IV:         iv,
		Tag:        out[split:],
		CipherText: out[:split],
	}, nil
}

// Open verifies and decrypts s. A tag mismatch is ErrDecryptionFailed.
func Open(key []byte, s *Sealed) ([]byte, error) {
	if len(s.IV) != IVSize || len(s.Tag) != TagSize {
		return nil, prt.ErrMalformedBlob
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(s.CipherText)+TagSize)
	buf = append(buf, s.CipherText...)
	buf = append(buf, s.Tag...)

	plaintext, err := gcm.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, prt.ErrDecryptionFailed
	}
	return plaintext, nil
}

// Fields returns hex(iv), hex(tag), hex(ciphertext) in wire order
func (s *Sealed) Fields() []string {
	return []string{
		hex.EncodeToString(s.IV),
		hex.EncodeToString(s.Tag),
		hex.EncodeToString(s.CipherText),
	}
}

// String is the iv:tag:ciphertext form
func (s *Sealed) String() string {
	return strings.Join(s.Fields(), FieldSeparator)
}

// ParseSealedFields is the inverse of Fields
func ParseSealedFields(fields []string) (*Sealed, error) {
	if len(fields) != 3 {
		return nil, errors.Wrapf(prt.ErrMalformedBlob, "expected 3 fields, got %d", len(fields))
	}

	decoded := make([][]byte, len(fields))
	for i, f := range fields {
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, errors.Wrapf(prt.ErrMalformedBlob, "field %d is not hex", i)
		}
		decoded[i] = b
	}

	s := &Sealed{IV: decoded[0], Tag: decoded[1], CipherText: decoded[2]}
	if len(s.IV) != IVSize || len(s.Tag) != TagSize {
		return nil, errors.Wrap(prt.ErrMalformedBlob, "bad iv or tag length")
	}
	return s, nil
}

// ParseSealed is the inverse of String
func ParseSealed(str string) (*Sealed, error) {
	return ParseSealedFields(strings.Split(str, FieldSeparator))
}
