package secret

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/abcfe/hdpay/common/crypto"
	"github.com/abcfe/hdpay/common/logger"
	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// keystore file types
type CipherParams struct {
	IV string `json:"iv"` // Initialization vector
}

type KDFParams struct {
	DkLen int    `json:"dklen"` // Derived key length
	N     int    `json:"n"`     // CPU/Memory cost
	P     int    `json:"p"`     // Parallelization parameter
	R     int    `json:"r"`     // Block size
	Salt  string `json:"salt"`  // Salt
}

type Crypto struct {
	Cipher       string       `json:"cipher"`     // "aes-256-gcm"
	CipherText   string       `json:"ciphertext"` // Encrypted key-encryption key
	CipherParams CipherParams `json:"cipherparams"`
	KDF          string       `json:"kdf"` // "scrypt"
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"` // GCM authentication tag
}

// KeyVersion is one generation of the key-encryption key
type KeyVersion struct {
	Version   uint32 `json:"version"`
	CreatedAt int64  `json:"createdAt"`
	Crypto    Crypto `json:"crypto"`
}

type KeyStoreFile struct {
	Current  uint32       `json:"current"`
	Versions []KeyVersion `json:"versions"`
}

const (
	keystoreCipher = "aes-256-gcm"
	keystoreKDF    = "scrypt"

	scryptN     = 1 << 15
	scryptR     = 8
	scryptP     = 1
	scryptDkLen = crypto.KeySize

	versionSize = 4
	wrappedSize = versionSize + crypto.IVSize + crypto.TagSize + crypto.KeySize
)

// LocalKeyService is a software KeyService. Its key-encryption keys are kept
// in a passphrase-protected keystore file; old versions are retained so data
// keys wrapped before a rotation still open.
type LocalKeyService struct {
	mu         sync.RWMutex
	path       string // empty keeps the keystore in memory
	passphrase []byte
	current    uint32
	keks       map[uint32][]byte
	file       KeyStoreFile
}

// NewLocalKeyService opens the keystore at path, creating it on first use
func NewLocalKeyService(path string, passphrase []byte) (*LocalKeyService, error) {
	if len(passphrase) == 0 {
		return nil, errors.Wrap(prt.ErrSecretUnavailable, "empty keystore passphrase")
	}

	s := &LocalKeyService{
		path:       path,
		passphrase: append([]byte(nil), passphrase...),
		keks:       make(map[uint32][]byte),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := s.load(data); err != nil {
				return nil, err
			}
			logger.Info("keystore loaded: ", path, " current version ", s.current)
			return s, nil
		}
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(prt.ErrSecretUnavailable, err.Error())
		}
	}

	if err := s.addVersion(1); err != nil {
		return nil, err
	}
	logger.Info("keystore created: ", path)
	return s, nil
}

func (s *LocalKeyService) load(data []byte) error {
	var file KeyStoreFile
	if err := utils.DeserializeData(data, &file); err != nil {
		return errors.Wrap(prt.ErrSecretUnavailable, "keystore is not valid json")
	}

	for _, v := range file.Versions {
		kek, err := s.openVersion(v.Crypto)
		if err != nil {
			return errors.Wrapf(err, "keystore version %d", v.Version)
		}
		s.keks[v.Version] = kek
	}
	if _, ok := s.keks[file.Current]; !ok {
		return errors.Wrapf(prt.ErrSecretUnavailable, "keystore current version %d missing", file.Current)
	}

	s.current = file.Current
	s.file = file
	return nil
}

func (s *LocalKeyService) passphraseKey(params KDFParams) ([]byte, error) {
	salt, err := hex.DecodeString(params.Salt)
	if err != nil {
		return nil, errors.Wrap(prt.ErrMalformedBlob, "keystore salt")
	}
	return scrypt.Key(s.passphrase, salt, params.N, params.R, params.P, params.DkLen)
}

func (s *LocalKeyService) openVersion(c Crypto) ([]byte, error) {
	if c.Cipher != keystoreCipher || c.KDF != keystoreKDF {
		return nil, errors.Errorf("unsupported keystore cipher %s/%s", c.Cipher, c.KDF)
	}

	key, err := s.passphraseKey(c.KDFParams)
	if err != nil {
		return nil, err
	}
	defer utils.Zero(key)

	sealed, err := crypto.ParseSealedFields([]string{c.CipherParams.IV, c.MAC, c.CipherText})
	if err != nil {
		return nil, err
	}

	kek, err := crypto.Open(key, sealed)
	if err != nil {
		// wrong passphrase or a damaged file
		return nil, err
	}
	return kek, nil
}

// newVersion seals a fresh key-encryption key under the passphrase. Nothing is
// committed; callers persist the result before adopting it.
func (s *LocalKeyService) newVersion(version uint32) (KeyVersion, []byte, error) {
	kek, err := crypto.NewKey()
	if err != nil {
		return KeyVersion{}, nil, err
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return KeyVersion{}, nil, err
	}
	params := KDFParams{DkLen: scryptDkLen, N: scryptN, P: scryptP, R: scryptR, Salt: hex.EncodeToString(salt)}

	key, err := s.passphraseKey(params)
	if err != nil {
		return KeyVersion{}, nil, err
	}
	defer utils.Zero(key)

	sealed, err := crypto.Seal(key, kek)
	if err != nil {
		return KeyVersion{}, nil, err
	}
	fields := sealed.Fields()

	return KeyVersion{
		Version:   version,
		CreatedAt: time.Now().Unix(),
		Crypto: Crypto{
			Cipher:       keystoreCipher,
			CipherText:   fields[2],
			CipherParams: CipherParams{IV: fields[0]},
			KDF:          keystoreKDF,
			KDFParams:    params,
			MAC:          fields[1],
		},
	}, kek, nil
}

// addVersion writes the keystore with a new current version and only then
// adopts it, so a failed write leaves the previous key current.
func (s *LocalKeyService) addVersion(version uint32) error {
	v, kek, err := s.newVersion(version)
	if err != nil {
		return err
	}

	file := KeyStoreFile{
		Current:  version,
		Versions: append(append([]KeyVersion(nil), s.file.Versions...), v),
	}
	if err := s.save(file); err != nil {
		utils.Zero(kek)
		return err
	}

	s.file = file
	s.keks[version] = kek
	s.current = version
	return nil
}

func (s *LocalKeyService) save(file KeyStoreFile) error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// CurrentVersion of the key-encryption key
func (s *LocalKeyService) CurrentVersion() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *LocalKeyService) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	s.mu.RLock()
	version, kek := s.current, s.keks[s.current]
	s.mu.RUnlock()

	dataKey, err := crypto.NewKey()
	if err != nil {
		return nil, nil, err
	}
	sealed, err := crypto.Seal(kek, dataKey)
	if err != nil {
		return nil, nil, err
	}

	wrapped := make([]byte, 0, wrappedSize)
	wrapped = append(wrapped, utils.Uint32ToBytes(version)...)
	wrapped = append(wrapped, sealed.IV...)
	wrapped = append(wrapped, sealed.Tag...)
	wrapped = append(wrapped, sealed.CipherText...)
	return dataKey, wrapped, nil
}

func (s *LocalKeyService) DecryptDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) != wrappedSize {
		return nil, errors.Wrapf(prt.ErrDecryptionFailed, "wrapped data key length %d", len(wrapped))
	}
	version, _ := utils.BytesToUint32(wrapped[:versionSize])

	s.mu.RLock()
	kek, ok := s.keks[version]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(prt.ErrDecryptionFailed, "unknown key version %d", version)
	}

	rest := wrapped[versionSize:]
	return crypto.Open(kek, &crypto.Sealed{
		IV:         rest[:crypto.IVSize],
		Tag:        rest[crypto.IVSize : crypto.IVSize+crypto.TagSize],
		CipherText: rest[crypto.IVSize+crypto.TagSize:],
	})
}

// RotateKey adds a new key-encryption key and makes it current
func (s *LocalKeyService) RotateKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.addVersion(s.current + 1); err != nil {
		return err
	}
	logger.Info("keystore rotated to version ", s.current)
	return nil
}

func (s *LocalKeyService) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.keks[s.current]; !ok {
		return prt.ErrSecretUnavailable
	}
	return nil
}
