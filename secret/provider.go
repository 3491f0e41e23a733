// Package secret supplies and guards the master seed.
//
// Every backend implements Provider. Backends able to encrypt arbitrary
// payloads with their own key material also implement Encrypter, and backends
// with a rotatable wrapping key implement Rotator. Callers upgrade a Provider
// once, at construction time:
//
//	if enc, ok := p.(secret.Encrypter); ok { ... }
package secret

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/abcfe/hdpay/config"
	prt "github.com/abcfe/hdpay/protocol"
)

// DefaultCacheTTL bounds how long a fetched seed is reused
const DefaultCacheTTL = 5 * time.Minute

// Provider supplies the master seed
type Provider interface {
	// MasterSeed returns the plaintext seed, ErrSecretUnavailable if none is
	// configured or the backend cannot be reached.
	MasterSeed(ctx context.Context) (string, error)

	// StoreMasterSeed is a one-time setup step. It returns the protected form
	// the operator should keep, empty when the backend keeps it itself.
	StoreMasterSeed(ctx context.Context, seed string) (string, error)

	// HealthCheck is a cheap reachability check
	HealthCheck(ctx context.Context) bool

	Name() string
}

// Encrypter is authenticated encryption with the provider's own key material,
// independent of the master seed.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

// Rotator re-wraps the stored seed under a new key
type Rotator interface {
	RotateEncryptionKey(ctx context.Context) error
}

// NewProviderFromConfig builds the provider named by cfg.Provider
func NewProviderFromConfig(cfg *config.Secret) (Provider, error) {
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	switch cfg.Provider {
	case config.ProviderDirect:
		if cfg.Seed == "" {
			return nil, fmt.Errorf("%w: direct provider needs Secret.Seed", prt.ErrSecretUnavailable)
		}
		return NewDirectProvider(cfg.Seed), nil

	case config.ProviderKeyring:
		return NewKeyringProvider(cfg.KeyringService, cfg.KeyringUser, ttl), nil

	case config.ProviderKMS:
		passphrase := os.Getenv(cfg.KeyStorePassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("%w: keystore passphrase env %q is empty", prt.ErrSecretUnavailable, cfg.KeyStorePassphraseEnv)
		}
		keys, err := NewLocalKeyService(cfg.KeyStorePath, []byte(passphrase))
		if err != nil {
			return nil, err
		}

		var vault SeedVault
		if cfg.WrappedSeed != "" {
			vault = NewStaticVault(cfg.WrappedSeed)
		} else {
			vault = NewKeyringVault(cfg.KeyringService, cfg.KeyringUser+"-wrapped")
		}
		return NewKMSProvider(keys, vault, ttl), nil

	default:
		return nil, fmt.Errorf("unknown secret provider %q", cfg.Provider)
	}
}
