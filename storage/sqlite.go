package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/abcfe/hdpay/common/logger"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	sqliteName = "hdpay_index.sqlite"

	merchantCounterName = "merchant"
)

type Counter struct {
	Name  string `gorm:"primaryKey"`
	Value uint64
}

type Merchant struct {
	MerchantID    string `gorm:"primaryKey"`
	MerchantIndex uint32 `gorm:"uniqueIndex"`
	NextPayment   uint64
	CreatedAt     time.Time
}

type Payment struct {
	PaymentID        string `gorm:"primaryKey"`
	MerchantID       string `gorm:"index"`
	PublicKey        string
	EncryptedIndices string
	CreatedAt        time.Time
}

// SQLiteStore keeps the allocation state in sqlite through gorm. The pool is
// capped at one connection so transactions never interleave.
type SQLiteStore struct {
	db *gorm.DB
}

func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, sqliteName)
	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Error("Failed to open db: ", err)
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Counter{}, &Merchant{}, &Payment{}); err != nil {
		return nil, err
	}
	if err := db.Where(Counter{Name: merchantCounterName}).FirstOrCreate(&Counter{}).Error; err != nil {
		return nil, err
	}

	log.Info("Successfully opened db: ", dbPath)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) merchantIndex(tx *gorm.DB, merchantID string) (uint32, bool, error) {
	var m Merchant
	res := tx.Where("merchant_id = ?", merchantID).Limit(1).Find(&m)
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 1 {
		return m.MerchantIndex, false, nil
	}

	err := tx.Model(&Counter{}).
		Where("name = ?", merchantCounterName).
		Update("value", gorm.Expr("value + 1")).Error
	if err != nil {
		return 0, false, err
	}

	var c Counter
	if err := tx.First(&c, "name = ?", merchantCounterName).Error; err != nil {
		return 0, false, err
	}

	next := c.Value - 1
	if next >= uint64(prt.HardenedOffset) {
		return 0, false, errors.Wrap(prt.ErrIndexOutOfRange, "merchant indices exhausted")
	}

	m = Merchant{MerchantID: merchantID, MerchantIndex: uint32(next)}
	if err := tx.Create(&m).Error; err != nil {
		return 0, false, err
	}
	return m.MerchantIndex, true, nil
}

func (s *SQLiteStore) GetOrCreateMerchantIndex(ctx context.Context, merchantID string) (uint32, bool, error) {
	var (
		idx     uint32
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		idx, created, err = s.merchantIndex(tx, merchantID)
		return err
	})
	if err != nil {
		return 0, false, conflict(err)
	}
	return idx, created, nil
}

func (s *SQLiteStore) NextPaymentIndex(ctx context.Context, merchantID string) (uint32, uint32, error) {
	var merchantIdx, paymentIdx uint32
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, _, err := s.merchantIndex(tx, merchantID)
		if err != nil {
			return err
		}

		err = tx.Model(&Merchant{}).
			Where("merchant_id = ?", merchantID).
			Update("next_payment", gorm.Expr("next_payment + 1")).Error
		if err != nil {
			return err
		}

		var row Merchant
		if err := tx.First(&row, "merchant_id = ?", merchantID).Error; err != nil {
			return err
		}

		next := row.NextPayment - 1
		if next >= uint64(prt.HardenedOffset) {
			return errors.Wrapf(prt.ErrIndexOutOfRange, "payment indices exhausted for merchant %d", m)
		}

		merchantIdx, paymentIdx = m, uint32(next)
		return nil
	})
	if err != nil {
		return 0, 0, conflict(err)
	}
	return merchantIdx, paymentIdx, nil
}

func (s *SQLiteStore) MerchantIndex(ctx context.Context, merchantID string) (uint32, error) {
	var m Merchant
	err := s.db.WithContext(ctx).First(&m, "merchant_id = ?", merchantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, errors.Wrapf(prt.ErrNotFound, "merchant %s", merchantID)
	}
	if err != nil {
		return 0, err
	}
	return m.MerchantIndex, nil
}

func (s *SQLiteStore) SavePayment(ctx context.Context, rec *PaymentRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Payment{}).Where("payment_id = ?", rec.PaymentID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(prt.ErrPaymentExists, "payment %s", rec.PaymentID)
		}

		return tx.Create(&Payment{
			PaymentID:        rec.PaymentID,
			MerchantID:       rec.MerchantID,
			PublicKey:        rec.PublicKey,
			EncryptedIndices: rec.EncryptedIndices,
			CreatedAt:        rec.CreatedAt,
		}).Error
	})
	if err != nil {
		return conflict(err)
	}
	return nil
}

func (s *SQLiteStore) Payment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	var p Payment
	err := s.db.WithContext(ctx).First(&p, "payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(prt.ErrNotFound, "payment %s", paymentID)
	}
	if err != nil {
		return nil, err
	}

	return &PaymentRecord{
		PaymentID:        p.PaymentID,
		MerchantID:       p.MerchantID,
		PublicKey:        p.PublicKey,
		EncryptedIndices: p.EncryptedIndices,
		CreatedAt:        p.CreatedAt,
	}, nil
}
