package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestReserve_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	inStock := uuid.New()
	short := uuid.New()
	ledger.AddProduct(inStock, 10, 0)
	ledger.AddProduct(short, 1, 0)

	result, err := ledger.Reserve(ctx, "chk_1", []Item{
		{ProductID: inStock, Quantity: 3},
		{ProductID: short, Quantity: 2},
	})
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, []Shortage{{ProductID: short, Requested: 2, Available: 1}}, result.Shortages)

	// Nothing was held for the line that could have been satisfied.
	level, err := ledger.Stock(ctx, inStock)
	require.NoError(t, err)
	require.Equal(t, 10, level.Available)
	require.Equal(t, 0, level.Reserved)
}

func TestReserve_UnknownProduct(t *testing.T) {
	ledger := NewMemoryLedger()
	_, err := ledger.Reserve(context.Background(), "chk_1", []Item{{ProductID: uuid.New(), Quantity: 1}})
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestNoOverselling(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	const stock = 5
	const customers = 8
	ledger.AddProduct(product, stock, 0)

	var wg sync.WaitGroup
	results := make([]ReserveResult, customers)
	for i := 0; i < customers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := ledger.Reserve(ctx, "chk_"+uuid.NewString(), []Item{{ProductID: product, Quantity: 1}})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, res := range results {
		if res.OK {
			succeeded++
		} else {
			require.Len(t, res.Shortages, 1)
			require.Equal(t, 1, res.Shortages[0].Requested)
		}
	}
	require.Equal(t, stock, succeeded)

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 0, level.Available)
	require.Equal(t, stock, level.Reserved)
}

func TestReserve_ConcurrentSameKeyHoldsOnce(t *testing.T) {
	// A double-submitted checkout carries the same deterministic key. However
	// many copies race, exactly one hold per product may exist and stock is
	// decremented once.
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 10, 0)

	const submits = 8
	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Reserve(ctx, "chk_twin", []Item{{ProductID: product, Quantity: 3}})
			require.NoError(t, err)
			require.True(t, res.OK)
		}()
	}
	wg.Wait()

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 7, level.Available)
	require.Equal(t, 3, level.Reserved)
}

func TestCommit_MovesReservedOut(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 5, 0)

	for i := 0; i < 5; i++ {
		res, err := ledger.Reserve(ctx, "chk_"+uuid.NewString(), []Item{{ProductID: product, Quantity: 1}})
		require.NoError(t, err)
		require.True(t, res.OK)
	}

	// Committing every hold leaves nothing available and nothing reserved:
	// the stock has been sold.
	for key := range ledger.reservations {
		require.NoError(t, ledger.Commit(ctx, key))
	}

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 0, level.Available)
	require.Equal(t, 0, level.Reserved)
}

func TestCancel_RestoresReservedStock(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 4, 0)

	res, err := ledger.Reserve(ctx, "chk_a", []Item{{ProductID: product, Quantity: 3}})
	require.NoError(t, err)
	require.True(t, res.OK)

	require.NoError(t, ledger.Cancel(ctx, "chk_a"))

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 4, level.Available)
	require.Equal(t, 0, level.Reserved)

	state, ok := ledger.HoldState("chk_a", product)
	require.True(t, ok)
	require.Equal(t, StateCancelled, state)
}

func TestCancel_CommittedHoldRestoresStock(t *testing.T) {
	// The payment-failure compensation cancels a hold that was already
	// committed; stock must come back to the pre-checkout level.
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 4, 0)

	res, err := ledger.Reserve(ctx, "chk_a", []Item{{ProductID: product, Quantity: 3}})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NoError(t, ledger.Commit(ctx, "chk_a"))

	require.NoError(t, ledger.Cancel(ctx, "chk_a"))

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 4, level.Available)
	require.Equal(t, 0, level.Reserved)
}

func TestRebind_MovesHoldToOrderKey(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 2, 0)

	res, err := ledger.Reserve(ctx, "chk_a", []Item{{ProductID: product, Quantity: 2}})
	require.NoError(t, err)
	require.True(t, res.OK)

	orderKey := OrderKey(uuid.New())
	require.NoError(t, ledger.Rebind(ctx, "chk_a", orderKey))
	require.NoError(t, ledger.Commit(ctx, orderKey))

	state, ok := ledger.HoldState(orderKey, product)
	require.True(t, ok)
	require.Equal(t, StateCommitted, state)

	err = ledger.Rebind(ctx, "chk_a", orderKey)
	require.ErrorIs(t, err, ErrUnknownReservation)
}

func TestReturn_RestocksCommittedOrder(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 5, 0)

	key := OrderKey(uuid.New())
	res, err := ledger.Reserve(ctx, key, []Item{{ProductID: product, Quantity: 2}})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NoError(t, ledger.Commit(ctx, key))

	require.NoError(t, ledger.Return(ctx, key, []ReturnItem{{ProductID: product, Quantity: 1, Reason: "damaged"}}))

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 4, level.Available)
}

func TestReturn_RequiresCommittedHold(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 5, 0)

	err := ledger.Return(ctx, "order_nope", []ReturnItem{{ProductID: product, Quantity: 1}})
	require.ErrorIs(t, err, ErrUnknownReservation)
}

func TestExpireBefore_ReleasesStaleHolds(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 3, 0)

	res, err := ledger.Reserve(ctx, "chk_stale", []Item{{ProductID: product, Quantity: 2}})
	require.NoError(t, err)
	require.True(t, res.OK)

	n, err := ledger.ExpireBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.Equal(t, 3, level.Available)

	// Already-cancelled holds are not expired again.
	n, err = ledger.ExpireBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestReservationConservation(t *testing.T) {
	// Under interleaved reserve/commit/cancel, held+committed quantity never
	// exceeds total stock.
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	const total = 10
	ledger.AddProduct(product, total, 0)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "chk_" + uuid.NewString()
			res, err := ledger.Reserve(ctx, key, []Item{{ProductID: product, Quantity: 2}})
			if err != nil || !res.OK {
				return
			}
			switch i % 3 {
			case 0:
				_ = ledger.Commit(ctx, key)
			case 1:
				_ = ledger.Cancel(ctx, key)
			}
			level, err := ledger.Stock(ctx, product)
			require.NoError(t, err)
			require.GreaterOrEqual(t, level.Available, 0)
			require.LessOrEqual(t, level.Reserved, total)
		}(i)
	}
	wg.Wait()

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.GreaterOrEqual(t, level.Available, 0)
	require.GreaterOrEqual(t, level.Reserved, 0)
}

func TestLowStockFlag(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	product := uuid.New()
	ledger.AddProduct(product, 3, 2)

	res, err := ledger.Reserve(ctx, "chk_a", []Item{{ProductID: product, Quantity: 1}})
	require.NoError(t, err)
	require.True(t, res.OK)

	level, err := ledger.Stock(ctx, product)
	require.NoError(t, err)
	require.True(t, level.LowStock)
}

func TestCancel_UnknownKey(t *testing.T) {
	ledger := NewMemoryLedger()
	err := ledger.Cancel(context.Background(), "chk_missing")
	require.True(t, errors.Is(err, ErrUnknownReservation))
}
