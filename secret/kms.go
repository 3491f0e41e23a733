package secret

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/abcfe/hdpay/common/crypto"
	"github.com/abcfe/hdpay/common/logger"
	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
)

// KeyService is what a managed key service (HSM or cloud KMS) must offer for
// envelope encryption. The managed key never leaves the service.
type KeyService interface {
	// GenerateDataKey returns a one-time key and the same key wrapped under
	// the managed key.
	GenerateDataKey(ctx context.Context) (plaintext, wrapped []byte, err error)
	DecryptDataKey(ctx context.Context, wrapped []byte) ([]byte, error)
	RotateKey(ctx context.Context) error
	Ping(ctx context.Context) error
}

// KMSProvider protects the seed with envelope encryption:
//
//	base64(wrapped data key):hex(iv):hex(tag):hex(ciphertext)
type KMSProvider struct {
	keys  KeyService
	vault SeedVault
	cache *seedCache
}

func NewKMSProvider(keys KeyService, vault SeedVault, ttl time.Duration) *KMSProvider {
	return &KMSProvider{
		keys:  keys,
		vault: vault,
		cache: newSeedCache(ttl),
	}
}

func (p *KMSProvider) Name() string { return "kms" }

func (p *KMSProvider) MasterSeed(ctx context.Context) (string, error) {
	return p.cache.load(ctx, p.fetchSeed)
}

func (p *KMSProvider) fetchSeed(ctx context.Context) (string, error) {
	wrapped, err := p.vault.Load(ctx)
	if errors.Is(err, prt.ErrNotFound) {
		return "", errors.Wrap(prt.ErrSecretUnavailable, "no wrapped seed stored")
	}
	if err != nil {
		return "", err
	}

	seed, err := p.Decrypt(ctx, wrapped)
	if err != nil {
		return "", errors.Wrap(err, "unwrap master seed")
	}
	defer utils.Zero(seed)

	return string(seed), nil
}

// StoreMasterSeed wraps seed, saves it in the vault and returns the wrapped
// form for the operator.
func (p *KMSProvider) StoreMasterSeed(ctx context.Context, seed string) (string, error) {
	if seed == "" {
		return "", errors.New("empty seed")
	}

	wrapped, err := p.Encrypt(ctx, []byte(seed))
	if err != nil {
		return "", err
	}
	if err := p.vault.Store(ctx, wrapped); err != nil {
		return "", err
	}

	logger.Info("master seed wrapped and stored")
	return wrapped, nil
}

// RotateEncryptionKey rotates the managed key and re-wraps the stored seed.
// The cached plaintext stays valid until its TTL runs out.
func (p *KMSProvider) RotateEncryptionKey(ctx context.Context) error {
	wrapped, err := p.vault.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load wrapped seed")
	}
	seed, err := p.Decrypt(ctx, wrapped)
	if err != nil {
		return errors.Wrap(err, "unwrap master seed")
	}
	defer utils.Zero(seed)

	if err := p.keys.RotateKey(ctx); err != nil {
		return errors.Wrap(prt.ErrSecretUnavailable, err.Error())
	}

	rewrapped, err := p.Encrypt(ctx, seed)
	if err != nil {
		return err
	}
	if err := p.vault.Store(ctx, rewrapped); err != nil {
		return err
	}

	logger.Info("master seed re-wrapped under rotated key")
	return nil
}

func (p *KMSProvider) HealthCheck(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("kms health check panicked: ", r)
			ok = false
		}
	}()
	return p.keys.Ping(ctx) == nil
}

// Encrypt seals plaintext under a fresh data key
func (p *KMSProvider) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	dataKey, wrappedKey, err := p.keys.GenerateDataKey(ctx)
	if err != nil {
		return "", errors.Wrap(prt.ErrSecretUnavailable, err.Error())
	}
	defer utils.Zero(dataKey)

	sealed, err := crypto.Seal(dataKey, plaintext)
	if err != nil {
		return "", err
	}

	fields := append([]string{base64.StdEncoding.EncodeToString(wrappedKey)}, sealed.Fields()...)
	return strings.Join(fields, crypto.FieldSeparator), nil
}

func (p *KMSProvider) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	fields := strings.Split(ciphertext, crypto.FieldSeparator)
	if len(fields) != 4 {
		return nil, errors.Wrapf(prt.ErrMalformedBlob, "expected 4 fields, got %d", len(fields))
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(fields[0])
	if err != nil {
		return nil, errors.Wrap(prt.ErrMalformedBlob, "data key is not base64")
	}
	sealed, err := crypto.ParseSealedFields(fields[1:])
	if err != nil {
		return nil, err
	}

	dataKey, err := p.keys.DecryptDataKey(ctx, wrappedKey)
	if err != nil {
		if errors.Is(err, prt.ErrDecryptionFailed) || errors.Is(err, prt.ErrMalformedBlob) {
			return nil, err
		}
		return nil, errors.Wrap(prt.ErrSecretUnavailable, err.Error())
	}
	defer utils.Zero(dataKey)

	return crypto.Open(dataKey, sealed)
}
