package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/abcfe/hdpay/storage"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) storage.IndexStore {
	t.Helper()
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := storage.NewLevelDBStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocateMerchantIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newTestStore(t))

	first, err := a.AllocateMerchantIndex(ctx, "merchant_a")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := a.AllocateMerchantIndex(ctx, "merchant_a")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	other, err := a.AllocateMerchantIndex(ctx, "merchant_b")
	require.NoError(t, err)
	require.NotEqual(t, first, other)

	_, err = a.AllocateMerchantIndex(ctx, "")
	require.Error(t, err)
}

func TestAllocateNextPaymentIndexIncreasing(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newTestStore(t))

	m, err := a.AllocateMerchantIndex(ctx, "merchant_a")
	require.NoError(t, err)

	for want := uint32(0); want < 10; want++ {
		gotM, p, err := a.AllocateNextPaymentIndex(ctx, "merchant_a")
		require.NoError(t, err)
		require.Equal(t, m, gotM)
		require.Equal(t, want, p)
	}
}

func TestAllocatorConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newTestStore(t))

	const merchants = 10
	const perMerchant = 20

	type pair struct{ m, p uint32 }
	var (
		mu    sync.Mutex
		pairs = make(map[string][]pair)
	)

	var g errgroup.Group
	for i := 0; i < merchants; i++ {
		for j := 0; j < perMerchant; j++ {
			id := fmt.Sprintf("merchant_%d", i)
			g.Go(func() error {
				m, p, err := a.AllocateNextPaymentIndex(ctx, id)
				if err != nil {
					return err
				}
				mu.Lock()
				pairs[id] = append(pairs[id], pair{m, p})
				mu.Unlock()
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	merchantIdx := make(map[uint32]string)
	for id, ps := range pairs {
		require.Len(t, ps, perMerchant)

		seen := make(map[uint32]bool)
		for _, pr := range ps {
			require.Equal(t, ps[0].m, pr.m, "merchant %s got two indices", id)
			require.False(t, seen[pr.p], "payment index %d reused for %s", pr.p, id)
			require.Less(t, pr.p, uint32(perMerchant))
			seen[pr.p] = true
		}

		owner, taken := merchantIdx[ps[0].m]
		require.False(t, taken, "merchant index %d shared by %s and %s", ps[0].m, owner, id)
		merchantIdx[ps[0].m] = id
	}

	require.Zero(t, a.locks.len())
}

func TestKeyMutexDoubleUnlock(t *testing.T) {
	m := newKeyMutex()
	m.Lock("a")
	m.Unlock("a")
	require.Panics(t, func() { m.Unlock("a") })
}
