package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/abcfe/hdpay/config"
)

// IndexStore persists the merchant/payment index allocation state. Every
// allocation is one atomic unit: it either commits completely or leaves no
// trace. Backend failures surface as ErrAllocationConflict.
type IndexStore interface {
	// GetOrCreateMerchantIndex returns the merchant's index, assigning the
	// next global index if the merchant is new.
	GetOrCreateMerchantIndex(ctx context.Context, merchantID string) (index uint32, created bool, err error)

	// NextPaymentIndex ensures the merchant mapping and returns the payment
	// counter value before the increment.
	NextPaymentIndex(ctx context.Context, merchantID string) (merchantIndex, paymentIndex uint32, err error)

	// MerchantIndex returns ErrNotFound for an unknown merchant
	MerchantIndex(ctx context.Context, merchantID string) (uint32, error)

	// SavePayment returns ErrPaymentExists if the id is taken
	SavePayment(ctx context.Context, rec *PaymentRecord) error

	// Payment returns ErrNotFound for an unknown payment
	Payment(ctx context.Context, paymentID string) (*PaymentRecord, error)

	Close() error
}

// PaymentRecord is what the system keeps per payment. The derivation indices
// are only stored encrypted.
type PaymentRecord struct {
	PaymentID        string    `json:"paymentId"`
	MerchantID       string    `json:"merchantId"`
	PublicKey        string    `json:"publicKey"`
	EncryptedIndices string    `json:"encryptedIndices"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NewStore opens the backend named by cfg.Backend
func NewStore(cfg *config.DB) (IndexStore, error) {
	switch cfg.Backend {
	case config.BackendLevelDB, "":
		return OpenLevelDB(cfg.Path)
	case config.BackendSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown db backend %q", cfg.Backend)
	}
}

var (
	_ IndexStore = (*LevelDBStore)(nil)
	_ IndexStore = (*SQLiteStore)(nil)
)
