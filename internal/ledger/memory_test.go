package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/orderbook-mirror/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrders() (types.LedgerOrder, types.LedgerOrder) {
	a := types.LedgerOrder{
		OrderID: "A", TokenA: "X", TokenB: "Y", AmountA: "100", AmountB: "50",
		AmountLeftToFill: "100", Fees: "1", User: "alice",
	}
	b := types.LedgerOrder{
		OrderID: "B", TokenA: "Y", TokenB: "X", AmountA: "50", AmountB: "100",
		AmountLeftToFill: "50", Fees: "1", User: "bob",
	}
	return a, b
}

func TestMemoryLedger_Reads(t *testing.T) {
	ctx := context.Background()
	a, b := sampleOrders()
	m := NewMemoryLedger(a, b)

	n, err := m.OrderCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	id, err := m.OrderIDAt(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", id)

	_, err = m.OrderIDAt(ctx, 2)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	info, err := m.OrderInfo(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, a, *info)

	_, err = m.OrderInfo(ctx, "Z")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryLedger_FailureInjection(t *testing.T) {
	ctx := context.Background()
	a, b := sampleOrders()
	m := NewMemoryLedger(a, b)
	boom := errors.New("boom")

	m.FailCount(boom)
	_, err := m.OrderCount(ctx)
	assert.ErrorIs(t, err, boom)
	m.FailCount(nil)

	m.FailIndex(0, boom)
	_, err = m.OrderIDAt(ctx, 0)
	assert.ErrorIs(t, err, boom)
	m.FailIndex(0, nil)
	_, err = m.OrderIDAt(ctx, 0)
	assert.NoError(t, err)

	m.ReportCount(5)
	n, err := m.OrderCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestMemoryLedger_LatencyHonoursContext(t *testing.T) {
	m := NewMemoryLedger()
	m.MinLatency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.OrderCount(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLedger_SubmitMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("settles mirrored terms", func(t *testing.T) {
		a, b := sampleOrders()
		m := NewMemoryLedger(a, b)

		res, err := m.SubmitMatch(ctx, MatchRequest{
			CounterOrderIDs: []string{"B"},
			TokenA:          "X", TokenB: "Y", AmountA: "100", AmountB: "50",
		})
		require.NoError(t, err)
		assert.Equal(t, CallResult{Values: []string{"true"}}, res)

		got, _ := m.Order("B")
		assert.Equal(t, "0", got.AmountLeftToFill)
		got, _ = m.Order("A")
		assert.Equal(t, "0", got.AmountLeftToFill)
		assert.Len(t, m.Submissions(), 1)
	})

	t.Run("rejects cancelled counter order", func(t *testing.T) {
		a, b := sampleOrders()
		m := NewMemoryLedger(a, b)
		m.Cancel("B")

		_, err := m.SubmitMatch(ctx, MatchRequest{
			CounterOrderIDs: []string{"B"},
			TokenA:          "X", TokenB: "Y", AmountA: "100", AmountB: "50",
		})
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("rejects mismatched terms", func(t *testing.T) {
		a, b := sampleOrders()
		m := NewMemoryLedger(a, b)

		_, err := m.SubmitMatch(ctx, MatchRequest{
			CounterOrderIDs: []string{"B"},
			TokenA:          "X", TokenB: "Y", AmountA: "99", AmountB: "50",
		})
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("compares addresses and amounts by value", func(t *testing.T) {
		const tokenX = "0x00000000000000000000000000000000000000aa"
		const tokenY = "0x00000000000000000000000000000000000000bb"
		a := types.LedgerOrder{
			OrderID: "A", TokenA: tokenX, TokenB: tokenY, AmountA: "0x64", AmountB: "50",
			AmountLeftToFill: "100", Fees: "0", User: "alice",
		}
		b := types.LedgerOrder{
			OrderID: "B", TokenA: tokenY, TokenB: tokenX, AmountA: "050", AmountB: "100",
			AmountLeftToFill: "50", Fees: "0", User: "bob",
		}
		m := NewMemoryLedger(a, b)

		// terms as the mirror stores them: checksummed, base 10
		_, err := m.SubmitMatch(ctx, MatchRequest{
			CounterOrderIDs: []string{"B"},
			TokenA:          "0x00000000000000000000000000000000000000AA",
			TokenB:          "0x00000000000000000000000000000000000000bB",
			AmountA:         "100",
			AmountB:         "50",
		})
		require.NoError(t, err)

		got, _ := m.Order("A")
		assert.Equal(t, "0", got.AmountLeftToFill)
		got, _ = m.Order("B")
		assert.Equal(t, "0", got.AmountLeftToFill)
	})

	t.Run("rejects unknown counter order", func(t *testing.T) {
		m := NewMemoryLedger()
		_, err := m.SubmitMatch(ctx, MatchRequest{CounterOrderIDs: []string{"nope"}})
		assert.ErrorIs(t, err, ErrRejected)
	})
}

func TestResultKinds(t *testing.T) {
	var r Result = CallResult{}
	assert.Equal(t, "call", r.Kind())
	r = TransactionResult{}
	assert.Equal(t, "transaction", r.Kind())
}

func TestLoadMemoryLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `[
		{"order_id": "A", "token_a": "X", "token_b": "Y", "amount_a": "100", "amount_b": "50", "amount_left_to_fill": "100", "fees": "0", "user": "alice"},
		{"order_id": "B", "token_a": "Y", "token_b": "X", "amount_a": "50", "amount_b": "100", "amount_left_to_fill": "50", "fees": "0", "user": "bob", "is_cancelled": true}
	]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	m, err := LoadMemoryLedger(path)
	require.NoError(t, err)

	n, err := m.OrderCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	b, ok := m.Order("B")
	require.True(t, ok)
	assert.True(t, b.IsCancelled)

	_, err = LoadMemoryLedger(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
