package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/abcfe/hdpay/common/utils"
	"github.com/abcfe/hdpay/config"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"golang.org/x/sync/errgroup"
)

func newMemLevelDB(t *testing.T) *LevelDBStore {
	t.Helper()
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewLevelDBStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachBackend runs the same test against every IndexStore implementation
func forEachBackend(t *testing.T, fn func(t *testing.T, s IndexStore)) {
	t.Run("leveldb", func(t *testing.T) { fn(t, newMemLevelDB(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
}

func TestMerchantIndexAssignment(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		_, err := s.MerchantIndex(ctx, "merchant_a")
		require.True(t, errors.Is(err, prt.ErrNotFound))

		a, created, err := s.GetOrCreateMerchantIndex(ctx, "merchant_a")
		require.NoError(t, err)
		require.True(t, created)
		require.Equal(t, uint32(0), a)

		again, created, err := s.GetOrCreateMerchantIndex(ctx, "merchant_a")
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, a, again)

		b, created, err := s.GetOrCreateMerchantIndex(ctx, "merchant_b")
		require.NoError(t, err)
		require.True(t, created)
		require.Equal(t, uint32(1), b)

		got, err := s.MerchantIndex(ctx, "merchant_b")
		require.NoError(t, err)
		require.Equal(t, b, got)
	})
}

func TestPaymentIndexSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		// a new merchant gets its mapping in the same unit
		for want := uint32(0); want < 5; want++ {
			m, p, err := s.NextPaymentIndex(ctx, "merchant_a")
			require.NoError(t, err)
			require.Equal(t, uint32(0), m)
			require.Equal(t, want, p)
		}

		m, p, err := s.NextPaymentIndex(ctx, "merchant_b")
		require.NoError(t, err)
		require.Equal(t, uint32(1), m)
		require.Equal(t, uint32(0), p)
	})
}

func TestConcurrentMerchantCreation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		const n = 32

		var (
			mu      sync.Mutex
			results []uint32
			creates int
		)
		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error {
				idx, created, err := s.GetOrCreateMerchantIndex(ctx, "merchant_race")
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, idx)
				if created {
					creates++
				}
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		require.Equal(t, 1, creates)
		for _, idx := range results {
			require.Equal(t, results[0], idx)
		}
	})
}

func TestConcurrentPaymentIndices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		const n = 50

		seen := make([]bool, n)
		var mu sync.Mutex
		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error {
				_, p, err := s.NextPaymentIndex(ctx, "merchant_busy")
				if err != nil {
					return err
				}
				if p >= n {
					return fmt.Errorf("payment index %d out of expected range", p)
				}
				mu.Lock()
				defer mu.Unlock()
				if seen[p] {
					return fmt.Errorf("payment index %d handed out twice", p)
				}
				seen[p] = true
				return nil
			})
		}
		require.NoError(t, g.Wait())

		for p, ok := range seen {
			require.Truef(t, ok, "payment index %d never handed out", p)
		}
	})
}

func TestConcurrentDistinctMerchants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()
		const n = 20

		indices := make([]uint32, n)
		var g errgroup.Group
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				idx, _, err := s.GetOrCreateMerchantIndex(ctx, fmt.Sprintf("merchant_%d", i))
				indices[i] = idx
				return err
			})
		}
		require.NoError(t, g.Wait())

		seen := make(map[uint32]bool)
		for _, idx := range indices {
			require.False(t, seen[idx], "merchant index %d assigned twice", idx)
			seen[idx] = true
		}
	})
}

func TestPaymentRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		_, err := s.Payment(ctx, "pay_1")
		require.True(t, errors.Is(err, prt.ErrNotFound))

		rec := &PaymentRecord{
			PaymentID:        "pay_1",
			MerchantID:       "merchant_a",
			PublicKey:        "GDRXE2BQUC3AZNPVFSCEZ76NJ3WWL25FYFK6RGZGIEKWE4SOOHSUJUJ6",
			EncryptedIndices: "00:11:22",
			CreatedAt:        time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, s.SavePayment(ctx, rec))

		err = s.SavePayment(ctx, rec)
		require.True(t, errors.Is(err, prt.ErrPaymentExists))

		got, err := s.Payment(ctx, "pay_1")
		require.NoError(t, err)
		require.Equal(t, rec.MerchantID, got.MerchantID)
		require.Equal(t, rec.PublicKey, got.PublicKey)
		require.Equal(t, rec.EncryptedIndices, got.EncryptedIndices)
		require.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})
}

func TestIDsDoNotCollideAcrossKeyspaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s IndexStore) {
		ctx := context.Background()

		// ids that look like other prefixes
		for _, id := range []string{"x:merchant:nx", "mid:1", "pctr:", ""} {
			_, _, err := s.NextPaymentIndex(ctx, id)
			require.NoError(t, err)
		}

		m, p, err := s.NextPaymentIndex(ctx, "mid:1")
		require.NoError(t, err)
		require.Equal(t, uint32(1), m)
		require.Equal(t, uint32(1), p)
	})
}

func TestLevelDBCounterExhaustion(t *testing.T) {
	ctx := context.Background()
	s := newMemLevelDB(t)

	_, _, err := s.NextPaymentIndex(ctx, "merchant_a")
	require.NoError(t, err)

	require.NoError(t, s.db.Put(utils.GetPaymentCounterKey("merchant_a"), utils.Uint64ToBytes(uint64(prt.HardenedOffset)), nil))
	_, _, err = s.NextPaymentIndex(ctx, "merchant_a")
	require.True(t, errors.Is(err, prt.ErrIndexOutOfRange))

	// counter untouched by the failed allocation
	v, err := s.db.Get(utils.GetPaymentCounterKey("merchant_a"), nil)
	require.NoError(t, err)
	n, _ := utils.BytesToUint64(v)
	require.Equal(t, uint64(prt.HardenedOffset), n)

	require.NoError(t, s.db.Put(utils.GetMerchantCounterKey(), utils.Uint64ToBytes(uint64(prt.HardenedOffset)), nil))
	_, _, err = s.GetOrCreateMerchantIndex(ctx, "merchant_new")
	require.True(t, errors.Is(err, prt.ErrIndexOutOfRange))

	_, err = s.MerchantIndex(ctx, "merchant_new")
	require.True(t, errors.Is(err, prt.ErrNotFound))
}

func TestSQLiteCounterExhaustion(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	_, _, err := s.NextPaymentIndex(ctx, "merchant_a")
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&Merchant{}).Where("merchant_id = ?", "merchant_a").
		Update("next_payment", uint64(prt.HardenedOffset)).Error)
	_, _, err = s.NextPaymentIndex(ctx, "merchant_a")
	require.True(t, errors.Is(err, prt.ErrIndexOutOfRange))

	var row Merchant
	require.NoError(t, s.db.First(&row, "merchant_id = ?", "merchant_a").Error)
	require.Equal(t, uint64(prt.HardenedOffset), row.NextPayment)
}

func TestLevelDBReverseLookup(t *testing.T) {
	ctx := context.Background()
	s := newMemLevelDB(t)

	idx, _, err := s.GetOrCreateMerchantIndex(ctx, "merchant_a")
	require.NoError(t, err)

	id, err := s.MerchantByIndex(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, "merchant_a", id)

	_, err = s.MerchantByIndex(ctx, idx+1)
	require.True(t, errors.Is(err, prt.ErrNotFound))
}

func TestLevelDBClosed(t *testing.T) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewLevelDBStore(db)
	require.NoError(t, s.Close())

	_, _, err = s.NextPaymentIndex(context.Background(), "merchant_a")
	require.True(t, errors.Is(err, prt.ErrAllocationConflict))
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir() + "/"

	s, err := NewStore(&config.DB{Backend: config.BackendSQLite, Path: dir})
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = NewStore(&config.DB{Backend: config.BackendLevelDB, Path: dir})
	require.NoError(t, err)
	require.IsType(t, &LevelDBStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(&config.DB{Backend: "postgres"})
	require.Error(t, err)
}
