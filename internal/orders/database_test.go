package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/orderbook-mirror/internal/config"
	"github.com/ksred/orderbook-mirror/internal/database"
	"github.com/ksred/orderbook-mirror/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.NewDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func order(id, tokenA, tokenB, amountA, amountB string) *types.Order {
	return &types.Order{
		OrderID:          id,
		AmountA:          amountA,
		AmountB:          amountB,
		AmountLeftToFill: amountA,
		Fees:             "0",
		TokenA:           tokenA,
		TokenB:           tokenB,
		User:             "user-" + id,
	}
}

func TestDatabase_InsertAndExists(t *testing.T) {
	ctx := context.Background()
	store := NewDatabase(newTestDB(t))

	exists, err := store.Exists(ctx, "A")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Insert(ctx, order("A", "X", "Y", "100", "50")))

	exists, err = store.Exists(ctx, "A")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.GetByOrderID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "X", got.TokenA)
	assert.Equal(t, "100", got.AmountLeftToFill)
}

func TestDatabase_InsertDuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	store := NewDatabase(newTestDB(t))

	require.NoError(t, store.Insert(ctx, order("A", "X", "Y", "100", "50")))
	err := store.Insert(ctx, order("A", "Q", "R", "1", "2"))
	assert.ErrorIs(t, err, ErrConflict)

	// the original row is untouched
	got, err := store.GetByOrderID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "X", got.TokenA)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDatabase_ConcurrentInsertSameID(t *testing.T) {
	ctx := context.Background()
	store := NewDatabase(newTestDB(t))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Insert(ctx, order("A", "X", "Y", "100", "50"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDatabase_GetByOrderIDNotFound(t *testing.T) {
	store := NewDatabase(newTestDB(t))
	_, err := store.GetByOrderID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDatabase_FindComplementaryPairs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		orders []*types.Order
		want   []types.Match
	}{
		{
			name:   "empty store",
			orders: nil,
			want:   []types.Match{},
		},
		{
			name: "single pair oriented by id",
			orders: []*types.Order{
				order("B", "Y", "X", "50", "100"),
				order("A", "X", "Y", "100", "50"),
			},
			want: []types.Match{{OrderID: "A", OrderID2: "B"}},
		},
		{
			name: "amounts must mirror",
			orders: []*types.Order{
				order("A", "X", "Y", "100", "50"),
				order("B", "Y", "X", "50", "101"),
			},
			want: []types.Match{},
		},
		{
			name: "same direction never matches",
			orders: []*types.Order{
				order("A", "X", "Y", "100", "50"),
				order("B", "X", "Y", "100", "50"),
			},
			want: []types.Match{},
		},
		{
			name: "order whose tokens and amounts mirror itself is not a self match",
			orders: []*types.Order{
				order("A", "X", "X", "7", "7"),
			},
			want: []types.Match{},
		},
		{
			name: "every complementary combination is listed",
			orders: []*types.Order{
				order("A", "X", "Y", "100", "50"),
				order("B", "Y", "X", "50", "100"),
				order("C", "Y", "X", "50", "100"),
				order("D", "Q", "R", "1", "1"),
			},
			want: []types.Match{
				{OrderID: "A", OrderID2: "B"},
				{OrderID: "A", OrderID2: "C"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewDatabase(newTestDB(t))
			for _, o := range tt.orders {
				require.NoError(t, store.Insert(ctx, o))
			}

			got, err := store.FindComplementaryPairs(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabase_FindComplementaryPairsExcludesCancelled(t *testing.T) {
	ctx := context.Background()
	store := NewDatabase(newTestDB(t))

	a := order("A", "X", "Y", "100", "50")
	b := order("B", "Y", "X", "50", "100")
	b.IsCancelled = true
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))

	got, err := store.FindComplementaryPairs(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	changed, err := store.RefreshState(ctx, "B", false, "50")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = store.FindComplementaryPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Match{{OrderID: "A", OrderID2: "B"}}, got)
}

func TestDatabase_RefreshState(t *testing.T) {
	ctx := context.Background()
	store := NewDatabase(newTestDB(t))
	require.NoError(t, store.Insert(ctx, order("A", "X", "Y", "100", "50")))

	changed, err := store.RefreshState(ctx, "A", false, "100")
	require.NoError(t, err)
	assert.False(t, changed, "identical state is not a change")

	changed, err = store.RefreshState(ctx, "A", true, "0")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetByOrderID(ctx, "A")
	require.NoError(t, err)
	assert.True(t, got.IsCancelled)
	assert.Equal(t, "0", got.AmountLeftToFill)
	assert.Equal(t, "100", got.AmountA, "terms are immutable")

	changed, err = store.RefreshState(ctx, "missing", true, "0")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDatabase_List(t *testing.T) {
	ctx := context.Background()
	store := NewDatabase(newTestDB(t))
	for _, id := range []string{"C", "A", "B"} {
		require.NoError(t, store.Insert(ctx, order(id, "X", "Y", "1", "1")))
	}

	page, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "C", page[0].OrderID)
	assert.Equal(t, "A", page[1].OrderID)

	page, err = store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].OrderID)
}
