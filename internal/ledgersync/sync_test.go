package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/orderbook-mirror/internal/config"
	"github.com/ksred/orderbook-mirror/internal/database"
	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/internal/orders"
	"github.com/ksred/orderbook-mirror/internal/types"
)

func newTestStore(t *testing.T) *orders.Database {
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
	return orders.NewDatabase(db)
}

func ledgerOrder(id, tokenA, tokenB, amountA, amountB string) types.LedgerOrder {
	return types.LedgerOrder{
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

// threeOrders is a book of one complementary pair plus an unrelated order
func threeOrders() []types.LedgerOrder {
	return []types.LedgerOrder{
		ledgerOrder("A", "X", "Y", "100", "50"),
		ledgerOrder("B", "Y", "X", "50", "100"),
		ledgerOrder("C", "X", "Z", "10", "10"),
	}
}

func storedIDs(t *testing.T, store *orders.Database) []string {
	t.Helper()
	page, err := store.List(context.Background(), 100, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(page))
	for _, o := range page {
		ids = append(ids, o.OrderID)
	}
	return ids
}

func TestRunSync_IngestsEveryOrder(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()...)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	report, err := engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), report.LedgerCount)
	assert.Equal(t, 3, report.Ingested)
	assert.Empty(t, report.Failures)

	assert.ElementsMatch(t, []string{"A", "B", "C"}, storedIDs(t, store))

	got, err := store.GetByOrderID(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "Y", got.TokenA)
	assert.Equal(t, "100", got.AmountB)
	assert.Equal(t, "user-B", got.User)

	pairs, err := store.FindComplementaryPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Match{{OrderID: "A", OrderID2: "B"}}, pairs)
}

func TestRunSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()...)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	_, err := engine.RunSync(ctx)
	require.NoError(t, err)

	report, err := engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Ingested)
	assert.Equal(t, 3, report.AlreadyPresent)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRunSync_NewOrdersArePickedUp(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()[:1]...)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	_, err := engine.RunSync(ctx)
	require.NoError(t, err)

	book.Add(ledgerOrder("B", "Y", "X", "50", "100"))
	report, err := engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.AlreadyPresent)
	assert.ElementsMatch(t, []string{"A", "B"}, storedIDs(t, store))
}

func TestRunSync_IndexFailureDoesNotAbortPass(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()...)
	book.FailIndex(1, errors.New("rpc reset"))
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	report, err := engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ingested)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, uint64(1), report.Failures[0].Index)
	assert.Contains(t, report.Failures[0].Error, "rpc reset")

	assert.ElementsMatch(t, []string{"A", "C"}, storedIDs(t, store))

	// the next pass retries the skipped index
	book.FailIndex(1, nil)
	report, err = engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, storedIDs(t, store))
}

func TestRunSync_CountFailureAborts(t *testing.T) {
	book := ledger.NewMemoryLedger(threeOrders()...)
	book.FailCount(errors.New("connection refused"))
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	report, err := engine.RunSync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Ingested)
	assert.Empty(t, storedIDs(t, store))
}

func TestRunSync_CountBeyondBookIsPerIndexFailure(t *testing.T) {
	book := ledger.NewMemoryLedger(threeOrders()...)
	book.ReportCount(4)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	report, err := engine.RunSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Ingested)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, uint64(3), report.Failures[0].Index)
}

// slowInfo stalls OrderInfo for one order until the caller gives up
type slowInfo struct {
	*ledger.MemoryLedger
	stall string
}

func (s *slowInfo) OrderInfo(ctx context.Context, orderID string) (*types.LedgerOrder, error) {
	if orderID == s.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemoryLedger.OrderInfo(ctx, orderID)
}

func TestRunSync_CallTimeoutIsPerIndexFailure(t *testing.T) {
	client := &slowInfo{MemoryLedger: ledger.NewMemoryLedger(threeOrders()...), stall: "B"}
	store := newTestStore(t)
	engine := NewEngine(client, store, Config{CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	report, err := engine.RunSync(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "B", report.Failures[0].OrderID)
	assert.Contains(t, report.Failures[0].Error, context.DeadlineExceeded.Error())
	assert.ElementsMatch(t, []string{"A", "C"}, storedIDs(t, store))
}

func TestRunSync_CancelledContextStopsPass(t *testing.T) {
	book := ledger.NewMemoryLedger(threeOrders()...)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.RunSync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, storedIDs(t, store))
}

func TestRunSync_InvalidRecordIsSkipped(t *testing.T) {
	bad := ledgerOrder("B", "Y", "X", "-1", "100")
	book := ledger.NewMemoryLedger(ledgerOrder("A", "X", "Y", "100", "50"), bad)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	report, err := engine.RunSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "B", report.Failures[0].OrderID)
}

func TestRunSync_ConcurrentPassesDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()...)
	book.MaxLatency = 3 * time.Millisecond
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	const passes = 4
	var wg sync.WaitGroup
	errs := make([]error, passes)
	ingested := make([]int, passes)
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := engine.RunSync(ctx)
			errs[i] = err
			if report != nil {
				ingested[i] = report.Ingested
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < passes; i++ {
		require.NoError(t, errs[i])
		total += ingested[i]
	}
	assert.Equal(t, 3, total)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRunSync_MatchesReflectStoreNotLedger(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()...)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	_, err := engine.RunSync(ctx)
	require.NoError(t, err)

	book.Cancel("B")
	_, err = engine.RunSync(ctx)
	require.NoError(t, err)

	pairs, err := store.FindComplementaryPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Match{{OrderID: "A", OrderID2: "B"}}, pairs,
		"without refresh the mirror keeps the state it first ingested")
}

func TestRunSync_RefreshState(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewMemoryLedger(threeOrders()...)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second, Refresh: RefreshState})

	_, err := engine.RunSync(ctx)
	require.NoError(t, err)

	book.Cancel("B")
	report, err := engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 2, report.AlreadyPresent)

	got, err := store.GetByOrderID(ctx, "B")
	require.NoError(t, err)
	assert.True(t, got.IsCancelled)

	pairs, err := store.FindComplementaryPairs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestParseRefreshPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RefreshPolicy
		wantErr bool
	}{
		{"", RefreshNever, false},
		{"never", RefreshNever, false},
		{"state", RefreshState, false},
		{"always", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRefreshPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunSync_PaddedLedgerIDIsTrimmed(t *testing.T) {
	ctx := context.Background()
	padded := ledgerOrder(" P ", "X", "Y", "1", "2")
	book := ledger.NewMemoryLedger(padded)
	store := newTestStore(t)
	engine := NewEngine(book, store, Config{CallTimeout: time.Second})

	report, err := engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, []string{"P"}, storedIDs(t, store))

	report, err = engine.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadyPresent)
	assert.Empty(t, report.Failures)
}
