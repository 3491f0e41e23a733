package secret

import (
	"context"
	"time"

	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
)

// KeyringProvider keeps the plaintext seed in the OS keyring, which encrypts it
// at rest. It has no Encrypter capability.
type KeyringProvider struct {
	vault *KeyringVault
	cache *seedCache
}

func NewKeyringProvider(service, user string, ttl time.Duration) *KeyringProvider {
	return &KeyringProvider{
		vault: NewKeyringVault(service, user),
		cache: newSeedCache(ttl),
	}
}

func (p *KeyringProvider) Name() string { return "keyring" }

func (p *KeyringProvider) MasterSeed(ctx context.Context) (string, error) {
	return p.cache.load(ctx, func(ctx context.Context) (string, error) {
		seed, err := p.vault.Load(ctx)
		if errors.Is(err, prt.ErrNotFound) {
			return "", errors.Wrap(prt.ErrSecretUnavailable, "no seed in keyring")
		}
		return seed, err
	})
}

func (p *KeyringProvider) StoreMasterSeed(ctx context.Context, seed string) (string, error) {
	if seed == "" {
		return "", errors.New("empty seed")
	}
	return "", p.vault.Store(ctx, seed)
}

func (p *KeyringProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.vault.Load(ctx)
	return err == nil
}
