package secret

import (
	"context"
	"sync"

	"github.com/abcfe/hdpay/common/crypto"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
)

// DirectKeySuffix separates the direct provider's symmetric key from the seed
const DirectKeySuffix = ":hd-key-data"

// DirectProvider holds the seed literally. Tests and local development only.
type DirectProvider struct {
	mu   sync.RWMutex
	seed string
}

func NewDirectProvider(seed string) *DirectProvider {
	return &DirectProvider{seed: seed}
}

func (p *DirectProvider) Name() string { return "direct" }

func (p *DirectProvider) MasterSeed(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.seed == "" {
		return "", errors.Wrap(prt.ErrSecretUnavailable, "no seed configured")
	}
	return p.seed, nil
}

// StoreMasterSeed replaces the in-memory seed, nothing is persisted
func (p *DirectProvider) StoreMasterSeed(ctx context.Context, seed string) (string, error) {
	if seed == "" {
		return "", errors.New("empty seed")
	}

	p.mu.Lock()
	p.seed = seed
	p.mu.Unlock()
	return "", nil
}

func (p *DirectProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.MasterSeed(ctx)
	return err == nil
}

func (p *DirectProvider) key(ctx context.Context) ([]byte, error) {
	seed, err := p.MasterSeed(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.DeriveKey([]byte(seed), DirectKeySuffix), nil
}

// Encrypt returns hex(iv):hex(tag):hex(ciphertext)
func (p *DirectProvider) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	key, err := p.key(ctx)
	if err != nil {
		return "", err
	}

	sealed, err := crypto.Seal(key, plaintext)
	if err != nil {
		return "", err
	}
	return sealed.String(), nil
}

func (p *DirectProvider) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	sealed, err := crypto.ParseSealed(ciphertext)
	if err != nil {
		return nil, err
	}

	key, err := p.key(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.Open(key, sealed)
}
