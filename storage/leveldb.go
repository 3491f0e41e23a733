package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	log "github.com/abcfe/hdpay/common/logger"
	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const levelDBName = "hdpay_index.db"

// LevelDBStore keeps the allocation state in goleveldb. The db file is locked
// to one process, so a store-wide mutex fully serializes read-modify-write
// allocations; each one commits as a single synced batch.
type LevelDBStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

func OpenLevelDB(dir string) (*LevelDBStore, error) {
	dbPath := filepath.Join(dir, levelDBName)

	// Create DB directory if it does not exist
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		log.Error("Failed to open db: ", err)
		return nil, err
	}

	log.Info("Successfully opened db: ", dbPath)
	return NewLevelDBStore(db), nil
}

// NewLevelDBStore wraps an already opened db, tests pass a memory-backed one
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func (s *LevelDBStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func conflict(err error) error {
	if errors.Is(err, prt.ErrIndexOutOfRange) ||
		errors.Is(err, prt.ErrPaymentExists) ||
		errors.Is(err, prt.ErrAllocationConflict) {
		return err
	}
	return errors.Wrap(prt.ErrAllocationConflict, err.Error())
}

// update runs fn under the store lock and writes its batch only if fn succeeds
func (s *LevelDBStore) update(fn func(batch *leveldb.Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	if err := fn(batch); err != nil {
		return conflict(err)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return conflict(err)
	}
	return nil
}

func (s *LevelDBStore) readCounter(key []byte) (uint64, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n, ok := utils.BytesToUint64(v)
	if !ok {
		return 0, fmt.Errorf("corrupt counter %s", key)
	}
	return n, nil
}

// merchantIndex must run under s.mu. A new mapping is added to batch together
// with the advanced global counter and a zero payment counter.
func (s *LevelDBStore) merchantIndex(batch *leveldb.Batch, merchantID string) (uint32, bool, error) {
	v, err := s.db.Get(utils.GetMerchantKey(merchantID), nil)
	if err == nil {
		idx, ok := utils.BytesToUint32(v)
		if !ok {
			return 0, false, fmt.Errorf("corrupt merchant index for %s", merchantID)
		}
		return idx, false, nil
	}
	if err != leveldb.ErrNotFound {
		return 0, false, err
	}

	next, err := s.readCounter(utils.GetMerchantCounterKey())
	if err != nil {
		return 0, false, err
	}
	if next >= uint64(prt.HardenedOffset) {
		return 0, false, errors.Wrap(prt.ErrIndexOutOfRange, "merchant indices exhausted")
	}
	idx := uint32(next)

	batch.Put(utils.GetMerchantKey(merchantID), utils.Uint32ToBytes(idx))
	batch.Put(utils.GetMerchantByIndexKey(idx), []byte(merchantID))
	batch.Put(utils.GetMerchantCounterKey(), utils.Uint64ToBytes(next+1))
	batch.Put(utils.GetPaymentCounterKey(merchantID), utils.Uint64ToBytes(0))
	return idx, true, nil
}

func (s *LevelDBStore) GetOrCreateMerchantIndex(ctx context.Context, merchantID string) (uint32, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	// most calls hit an existing merchant, skip the store lock
	if idx, err := s.MerchantIndex(ctx, merchantID); err == nil {
		return idx, false, nil
	}

	var (
		idx     uint32
		created bool
	)
	err := s.update(func(batch *leveldb.Batch) error {
		var err error
		idx, created, err = s.merchantIndex(batch, merchantID)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return idx, created, nil
}

func (s *LevelDBStore) NextPaymentIndex(ctx context.Context, merchantID string) (uint32, uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	var merchantIdx, paymentIdx uint32
	err := s.update(func(batch *leveldb.Batch) error {
		m, created, err := s.merchantIndex(batch, merchantID)
		if err != nil {
			return err
		}

		// a merchant created in this batch starts at zero
		var next uint64
		if !created {
			if next, err = s.readCounter(utils.GetPaymentCounterKey(merchantID)); err != nil {
				return err
			}
		}
		if next >= uint64(prt.HardenedOffset) {
			return errors.Wrapf(prt.ErrIndexOutOfRange, "payment indices exhausted for merchant %d", m)
		}
		batch.Put(utils.GetPaymentCounterKey(merchantID), utils.Uint64ToBytes(next+1))

		merchantIdx, paymentIdx = m, uint32(next)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return merchantIdx, paymentIdx, nil
}

func (s *LevelDBStore) MerchantIndex(ctx context.Context, merchantID string) (uint32, error) {
	v, err := s.db.Get(utils.GetMerchantKey(merchantID), nil)
	if err == leveldb.ErrNotFound {
		return 0, errors.Wrapf(prt.ErrNotFound, "merchant %s", merchantID)
	}
	if err != nil {
		return 0, err
	}

	idx, ok := utils.BytesToUint32(v)
	if !ok {
		return 0, fmt.Errorf("corrupt merchant index for %s", merchantID)
	}
	return idx, nil
}

// MerchantByIndex is the reverse lookup of MerchantIndex
func (s *LevelDBStore) MerchantByIndex(ctx context.Context, index uint32) (string, error) {
	v, err := s.db.Get(utils.GetMerchantByIndexKey(index), nil)
	if err == leveldb.ErrNotFound {
		return "", errors.Wrapf(prt.ErrNotFound, "merchant index %d", index)
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *LevelDBStore) SavePayment(ctx context.Context, rec *PaymentRecord) error {
	data, err := utils.SerializeData(rec)
	if err != nil {
		return err
	}

	return s.update(func(batch *leveldb.Batch) error {
		key := utils.GetPaymentKey(rec.PaymentID)
		exists, err := s.db.Has(key, nil)
		if err != nil {
			return err
		}
		if exists {
			return errors.Wrapf(prt.ErrPaymentExists, "payment %s", rec.PaymentID)
		}
		batch.Put(key, data)
		return nil
	})
}

func (s *LevelDBStore) Payment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	v, err := s.db.Get(utils.GetPaymentKey(paymentID), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(prt.ErrNotFound, "payment %s", paymentID)
	}
	if err != nil {
		return nil, err
	}

	rec := new(PaymentRecord)
	if err := utils.DeserializeData(v, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
