package secret

import (
	"context"
	"sync"

	"github.com/abcfe/hdpay/common/logger"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

// SeedVault keeps a seed (wrapped or not) between process restarts
type SeedVault interface {
	// Load returns ErrNotFound when nothing was stored
	Load(ctx context.Context) (string, error)
	Store(ctx context.Context, value string) error
}

// StaticVault serves a value supplied by the operator, usually from config
type StaticVault struct {
	mu    sync.RWMutex
	value string
}

func NewStaticVault(value string) *StaticVault {
	return &StaticVault{value: value}
}

func (v *StaticVault) Load(ctx context.Context) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.value == "" {
		return "", prt.ErrNotFound
	}
	return v.value, nil
}

// Store only keeps the value in memory; the operator must persist it
func (v *StaticVault) Store(ctx context.Context, value string) error {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()

	logger.Warn("static vault updated in memory only, persist the new wrapped seed in Secret.WrappedSeed")
	return nil
}

// KeyringVault stores the value in the OS keyring
type KeyringVault struct {
	service string
	user    string
}

func NewKeyringVault(service, user string) *KeyringVault {
	return &KeyringVault{service: service, user: user}
}

func (v *KeyringVault) Load(ctx context.Context) (string, error) {
	value, err := keyring.Get(v.service, v.user)
	if err == keyring.ErrNotFound {
		return "", prt.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(prt.ErrSecretUnavailable, "keyring %s/%s: %v", v.service, v.user, err)
	}
	return value, nil
}

func (v *KeyringVault) Store(ctx context.Context, value string) error {
	if err := keyring.Set(v.service, v.user, value); err != nil {
		return errors.Wrapf(prt.ErrSecretUnavailable, "keyring %s/%s: %v", v.service, v.user, err)
	}
	return nil
}
