package core

import (
	"context"

	"github.com/abcfe/hdpay/common/logger"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/abcfe/hdpay/storage"
	"github.com/pkg/errors"
)

// Allocator hands out merchant and payment indices. Atomicity comes from the
// store; the per-merchant lock only keeps callers for the same merchant from
// piling up on the store transaction.
type Allocator struct {
	store storage.IndexStore
	locks *keyMutex
}

func NewAllocator(store storage.IndexStore) *Allocator {
	return &Allocator{
		store: store,
		locks: newKeyMutex(),
	}
}

// AllocateMerchantIndex returns the merchant's index, assigning one on first
// use. Concurrent first calls all observe the same single assignment.
func (a *Allocator) AllocateMerchantIndex(ctx context.Context, merchantID string) (uint32, error) {
	if merchantID == "" {
		return 0, errors.New("empty merchant id")
	}

	a.locks.Lock(merchantID)
	defer a.locks.Unlock(merchantID)

	idx, created, err := a.store.GetOrCreateMerchantIndex(ctx, merchantID)
	if err != nil {
		logger.Error("merchant index allocation failed: ", merchantID, " ", err)
		return 0, err
	}
	if !prt.ValidIndex(idx) {
		return 0, errors.Wrapf(prt.ErrIndexOutOfRange, "merchant index %d", idx)
	}

	if created {
		logger.Info("merchant index assigned: ", merchantID, " -> ", idx)
	}
	return idx, nil
}

// AllocateNextPaymentIndex returns the merchant index and the payment counter
// value before the increment. An index handed out here and never persisted by
// the caller is burned, not reused.
func (a *Allocator) AllocateNextPaymentIndex(ctx context.Context, merchantID string) (uint32, uint32, error) {
	if merchantID == "" {
		return 0, 0, errors.New("empty merchant id")
	}

	a.locks.Lock(merchantID)
	defer a.locks.Unlock(merchantID)

	m, p, err := a.store.NextPaymentIndex(ctx, merchantID)
	if err != nil {
		logger.Error("payment index allocation failed: ", merchantID, " ", err)
		return 0, 0, err
	}
	if !prt.ValidIndex(m) || !prt.ValidIndex(p) {
		return 0, 0, errors.Wrapf(prt.ErrIndexOutOfRange, "indices %d/%d", m, p)
	}

	logger.Debug("payment index allocated: merchant ", m, " payment ", p)
	return m, p, nil
}

// MerchantIndex looks up an existing mapping without creating one
func (a *Allocator) MerchantIndex(ctx context.Context, merchantID string) (uint32, error) {
	return a.store.MerchantIndex(ctx, merchantID)
}
