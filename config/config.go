package config

import (
	"os"
	"path"

	"github.com/abcfe/hdpay/common/utils"
	"github.com/naoina/toml"
)

const (
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"

	ProviderDirect  = "direct"
	ProviderKMS     = "kms"
	ProviderKeyring = "keyring"

	defaultCacheTTLSec    = 300
	defaultKeyringService = "hdpay"
	defaultKeyringUser    = "master-seed"
)

type Common struct {
	Level       string // local, dev, prod
	ServiceName string
}

type LogInfo struct {
	Path       string
	MaxAgeHour int
	RotateHour int
	AlertURL   string // webhook receiving error-level messages outside debug mode
}

type DB struct {
	Backend string // leveldb, sqlite
	Path    string
}

// Secret selects and configures the master seed provider.
type Secret struct {
	Provider    string // direct, kms, keyring
	Seed        string // direct provider only, never use in production
	CacheTTLSec int

	KeyringService string
	KeyringUser    string

	// kms provider: local key service keystore and the env var holding its passphrase
	KeyStorePath          string
	KeyStorePassphraseEnv string
	// kms provider: wrapped seed kept by the operator instead of the OS keyring
	WrappedSeed string
}

type Config struct {
	Common  Common
	LogInfo LogInfo
	DB      DB
	Secret  Secret
}

func NewConfig(filepath string) (*Config, error) {
	if filepath == "" {
		workDir, _ := os.Getwd()
		rootDir := utils.FindProjectRoot(workDir)
		filepath = path.Join(rootDir, "config", "config.toml")
	}

	if file, err := os.Open(filepath); err != nil {
		return nil, err
	} else {
		defer file.Close()

		c := new(Config)
		if err := toml.NewDecoder(file).Decode(c); err != nil {
			return nil, err
		} else {
			c.sanitize()
			return c, nil
		}
	}
}

func (p *Config) sanitize() {
	p.LogInfo.Path = expandHome(p.LogInfo.Path)
	p.DB.Path = expandHome(p.DB.Path)
	p.Secret.KeyStorePath = expandHome(p.Secret.KeyStorePath)

	if p.DB.Backend == "" {
		p.DB.Backend = BackendLevelDB
	}
	if p.Secret.Provider == "" {
		p.Secret.Provider = ProviderDirect
	}
	if p.Secret.CacheTTLSec <= 0 {
		p.Secret.CacheTTLSec = defaultCacheTTLSec
	}
	if p.Secret.KeyringService == "" {
		p.Secret.KeyringService = defaultKeyringService
	}
	if p.Secret.KeyringUser == "" {
		p.Secret.KeyringUser = defaultKeyringUser
	}
}

func expandHome(p string) string {
	if len(p) > 0 && p[0] == byte('~') {
		return path.Join(utils.HomeDir(), p[1:])
	}
	return p
}
