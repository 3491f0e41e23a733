package secret

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abcfe/hdpay/common/crypto"
	"github.com/abcfe/hdpay/config"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const testSeed = "test-master-seed-for-hd-wallet-derivation-unit-tests-1"

// flipHex changes one hex digit of the given field
func flipHex(t *testing.T, blob string, field int) string {
	t.Helper()

	parts := strings.Split(blob, crypto.FieldSeparator)
	require.Less(t, field, len(parts))

	b := []byte(parts[field])
	require.NotEmpty(t, b)
	if b[0] == '0' {
		b[0] = '8'
	} else {
		b[0] = '0'
	}
	parts[field] = string(b)
	return strings.Join(parts, crypto.FieldSeparator)
}

// countingKeys wraps a KeyService and counts unwrap calls
type countingKeys struct {
	KeyService
	decrypts atomic.Int32
	pingErr  error
	panics   bool
}

func (c *countingKeys) DecryptDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	c.decrypts.Add(1)
	return c.KeyService.DecryptDataKey(ctx, wrapped)
}

func (c *countingKeys) Ping(ctx context.Context) error {
	if c.panics {
		panic("key service gone")
	}
	if c.pingErr != nil {
		return c.pingErr
	}
	return c.KeyService.Ping(ctx)
}

func newMemKeys(t *testing.T) *LocalKeyService {
	t.Helper()
	keys, err := NewLocalKeyService("", []byte("test-passphrase"))
	require.NoError(t, err)
	return keys
}

func TestDirectProvider(t *testing.T) {
	ctx := context.Background()
	p := NewDirectProvider(testSeed)

	seed, err := p.MasterSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, testSeed, seed)
	require.True(t, p.HealthCheck(ctx))
	require.Equal(t, "direct", p.Name())

	blob, err := p.Encrypt(ctx, []byte("payload"))
	require.NoError(t, err)
	require.Len(t, strings.Split(blob, ":"), 3)

	out, err := p.Decrypt(ctx, blob)
	require.NoError(t, err)
	require.Equal(t, "payload", string(out))

	_, err = p.Decrypt(ctx, flipHex(t, blob, 2))
	require.True(t, errors.Is(err, prt.ErrDecryptionFailed))

	_, err = p.Decrypt(ctx, "nothex:00:00")
	require.True(t, errors.Is(err, prt.ErrMalformedBlob))
}

func TestDirectProviderEmpty(t *testing.T) {
	ctx := context.Background()
	p := NewDirectProvider("")

	_, err := p.MasterSeed(ctx)
	require.True(t, errors.Is(err, prt.ErrSecretUnavailable))
	require.False(t, p.HealthCheck(ctx))

	_, err = p.StoreMasterSeed(ctx, testSeed)
	require.NoError(t, err)
	require.True(t, p.HealthCheck(ctx))
}

func TestKMSProviderStoreAndFetch(t *testing.T) {
	ctx := context.Background()
	vault := NewStaticVault("")
	p := NewKMSProvider(newMemKeys(t), vault, time.Minute)

	_, err := p.MasterSeed(ctx)
	require.True(t, errors.Is(err, prt.ErrSecretUnavailable))

	wrapped, err := p.StoreMasterSeed(ctx, testSeed)
	require.NoError(t, err)
	require.Len(t, strings.Split(wrapped, ":"), 4)
	require.NotContains(t, wrapped, testSeed)

	stored, err := vault.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, wrapped, stored)

	seed, err := p.MasterSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, testSeed, seed)
	require.True(t, p.HealthCheck(ctx))
}

func TestKMSProviderEncryptFreshDataKey(t *testing.T) {
	ctx := context.Background()
	p := NewKMSProvider(newMemKeys(t), NewStaticVault(""), time.Minute)

	a, err := p.Encrypt(ctx, []byte("same"))
	require.NoError(t, err)
	b, err := p.Encrypt(ctx, []byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	for _, blob := range []string{a, b} {
		out, err := p.Decrypt(ctx, blob)
		require.NoError(t, err)
		require.Equal(t, "same", string(out))
	}
}

func TestKMSProviderTamper(t *testing.T) {
	ctx := context.Background()
	p := NewKMSProvider(newMemKeys(t), NewStaticVault(""), time.Minute)

	blob, err := p.Encrypt(ctx, []byte("indices"))
	require.NoError(t, err)

	for field := 1; field <= 3; field++ {
		_, err := p.Decrypt(ctx, flipHex(t, blob, field))
		require.Truef(t, errors.Is(err, prt.ErrDecryptionFailed), "field %d: %v", field, err)
	}

	// a different data key under the same service
	other, err := p.Encrypt(ctx, []byte("indices"))
	require.NoError(t, err)
	swapped := strings.SplitN(other, ":", 2)[0] + ":" + strings.SplitN(blob, ":", 2)[1]
	_, err = p.Decrypt(ctx, swapped)
	require.True(t, errors.Is(err, prt.ErrDecryptionFailed))

	_, err = p.Decrypt(ctx, "a:b:c")
	require.True(t, errors.Is(err, prt.ErrMalformedBlob))

	_, err = p.Decrypt(ctx, "!!!:"+strings.SplitN(blob, ":", 2)[1])
	require.True(t, errors.Is(err, prt.ErrMalformedBlob))
}

func TestKMSProviderRotate(t *testing.T) {
	ctx := context.Background()
	keys := newMemKeys(t)
	vault := NewStaticVault("")
	p := NewKMSProvider(keys, vault, time.Minute)

	before, err := p.StoreMasterSeed(ctx, testSeed)
	require.NoError(t, err)
	oldBlob, err := p.Encrypt(ctx, []byte("old"))
	require.NoError(t, err)

	require.NoError(t, p.RotateEncryptionKey(ctx))
	require.Equal(t, uint32(2), keys.CurrentVersion())

	after, err := vault.Load(ctx)
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	// fresh provider, nothing cached
	fresh := NewKMSProvider(keys, vault, time.Minute)
	seed, err := fresh.MasterSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, testSeed, seed)

	// blobs sealed before rotation still open
	out, err := fresh.Decrypt(ctx, oldBlob)
	require.NoError(t, err)
	require.Equal(t, "old", string(out))
}

func TestKMSProviderRotateWithoutSeed(t *testing.T) {
	p := NewKMSProvider(newMemKeys(t), NewStaticVault(""), time.Minute)
	require.Error(t, p.RotateEncryptionKey(context.Background()))
}

func TestKMSProviderHealthCheck(t *testing.T) {
	ctx := context.Background()
	keys := &countingKeys{KeyService: newMemKeys(t)}
	p := NewKMSProvider(keys, NewStaticVault(""), time.Minute)
	require.True(t, p.HealthCheck(ctx))

	keys.pingErr = errors.New("unreachable")
	require.False(t, p.HealthCheck(ctx))

	keys.pingErr = nil
	keys.panics = true
	require.False(t, p.HealthCheck(ctx))
}

func TestSeedCacheTTL(t *testing.T) {
	ctx := context.Background()
	keys := &countingKeys{KeyService: newMemKeys(t)}
	vault := NewStaticVault("")

	setup := NewKMSProvider(keys, vault, time.Minute)
	_, err := setup.StoreMasterSeed(ctx, testSeed)
	require.NoError(t, err)

	p := NewKMSProvider(keys, vault, 50*time.Millisecond)
	keys.decrypts.Store(0)

	for i := 0; i < 5; i++ {
		seed, err := p.MasterSeed(ctx)
		require.NoError(t, err)
		require.Equal(t, testSeed, seed)
	}
	require.Equal(t, int32(1), keys.decrypts.Load())

	time.Sleep(120 * time.Millisecond)

	_, err = p.MasterSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), keys.decrypts.Load())
}

func TestKeyringProvider(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	p := NewKeyringProvider("hdpay-test", "seed", time.Minute)
	require.False(t, p.HealthCheck(ctx))

	_, err := p.MasterSeed(ctx)
	require.True(t, errors.Is(err, prt.ErrSecretUnavailable))

	out, err := p.StoreMasterSeed(ctx, testSeed)
	require.NoError(t, err)
	require.Empty(t, out)

	seed, err := p.MasterSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, testSeed, seed)
	require.True(t, p.HealthCheck(ctx))

	var _ Provider = p
	_, isEncrypter := interface{}(p).(Encrypter)
	require.False(t, isEncrypter)
}

func TestKeyringVaultError(t *testing.T) {
	keyring.MockInitWithError(errors.New("locked"))
	defer keyring.MockInit()

	_, err := NewKeyringVault("hdpay-test", "seed").Load(context.Background())
	require.True(t, errors.Is(err, prt.ErrSecretUnavailable))
}

func TestNewProviderFromConfig(t *testing.T) {
	keyring.MockInit()

	p, err := NewProviderFromConfig(&config.Secret{Provider: config.ProviderDirect, Seed: testSeed})
	require.NoError(t, err)
	require.Equal(t, "direct", p.Name())
	_, ok := p.(Encrypter)
	require.True(t, ok)

	_, err = NewProviderFromConfig(&config.Secret{Provider: config.ProviderDirect})
	require.True(t, errors.Is(err, prt.ErrSecretUnavailable))

	p, err = NewProviderFromConfig(&config.Secret{Provider: config.ProviderKeyring, KeyringService: "svc", KeyringUser: "u"})
	require.NoError(t, err)
	require.Equal(t, "keyring", p.Name())

	t.Setenv("HDPAY_TEST_PASSPHRASE", "passphrase")
	p, err = NewProviderFromConfig(&config.Secret{
		Provider:              config.ProviderKMS,
		KeyringService:        "svc",
		KeyringUser:           "u",
		KeyStorePassphraseEnv: "HDPAY_TEST_PASSPHRASE",
	})
	require.NoError(t, err)
	require.Equal(t, "kms", p.Name())
	_, ok = p.(Rotator)
	require.True(t, ok)

	_, err = NewProviderFromConfig(&config.Secret{Provider: config.ProviderKMS, KeyStorePassphraseEnv: "HDPAY_UNSET_PASSPHRASE"})
	require.True(t, errors.Is(err, prt.ErrSecretUnavailable))

	_, err = NewProviderFromConfig(&config.Secret{Provider: "vault"})
	require.Error(t, err)
}
