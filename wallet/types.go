package wallet

import (
	"crypto/ed25519"
)

// DerivationSeedSize is the expanded master seed length
const DerivationSeedSize = 64

// Keypair is a derived account in Stellar text form
type Keypair struct {
	PublicKey string             `json:"publicKey"` // G...
	SecretKey string             `json:"secretKey"` // S...
	Private   ed25519.PrivateKey `json:"-"`
}

// DerivedAddress is handed to the caller creating a payment. Only PublicKey is
// stored in plaintext, the indices are stored encrypted.
type DerivedAddress struct {
	PublicKey      string `json:"publicKey"`
	MerchantIndex  uint32 `json:"merchantIndex"`
	PaymentIndex   uint32 `json:"paymentIndex"`
	DerivationPath string `json:"derivationPath"`
}
