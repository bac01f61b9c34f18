package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/types"
)

// MemoryLedger is an in-process order book. It simulates network latency
// and read failures and is the ledger used by tests and local runs.
type MemoryLedger struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64 // 0-1, probability that a read fails

	mu          sync.Mutex
	ids         []string
	orders      map[string]*types.LedgerOrder
	countErr    error
	reportCount *uint64
	indexErrs   map[uint64]error
	submitErr   error
	submissions []MatchRequest
	rng         *rand.Rand
}

func NewMemoryLedger(orders ...types.LedgerOrder) *MemoryLedger {
	m := &MemoryLedger{
		orders:    make(map[string]*types.LedgerOrder),
		indexErrs: make(map[uint64]error),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range orders {
		m.Add(o)
	}
	return m
}

// LoadMemoryLedger builds a memory ledger from a JSON array of orders.
func LoadMemoryLedger(path string) (*MemoryLedger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger seed: %w", err)
	}
	var seed []types.LedgerOrder
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to decode ledger seed: %w", err)
	}
	return NewMemoryLedger(seed...), nil
}

// Add appends an order to the book. Re-adding an id replaces its record
// without changing its index.
func (m *MemoryLedger) Add(order types.LedgerOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.OrderID]; !ok {
		m.ids = append(m.ids, order.OrderID)
	}
	o := order
	m.orders[order.OrderID] = &o
}

// Cancel flags an order as cancelled on the ledger.
func (m *MemoryLedger) Cancel(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.IsCancelled = true
	}
}

// FailCount makes OrderCount return err. A nil err clears it.
func (m *MemoryLedger) FailCount(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countErr = err
}

// FailIndex makes OrderIDAt(index) return err. A nil err clears it.
func (m *MemoryLedger) FailIndex(index uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.indexErrs, index)
		return
	}
	m.indexErrs[index] = err
}

// ReportCount overrides the count returned by OrderCount, emulating a book
// that shrank after the count was read.
func (m *MemoryLedger) ReportCount(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportCount = &n
}

// FailSubmit makes SubmitMatch return err. A nil err clears it.
func (m *MemoryLedger) FailSubmit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// Submissions returns every match request the ledger accepted or refused.
func (m *MemoryLedger) Submissions() []MatchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MatchRequest, len(m.submissions))
	copy(out, m.submissions)
	return out
}

// Order returns the ledger's copy of an order.
func (m *MemoryLedger) Order(orderID string) (types.LedgerOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return types.LedgerOrder{}, false
	}
	return *o, true
}

// wait simulates network latency and honours ctx cancellation.
func (m *MemoryLedger) wait(ctx context.Context) error {
	m.mu.Lock()
	latency := m.MinLatency
	if m.MaxLatency > m.MinLatency {
		latency += time.Duration(m.rng.Int63n(int64(m.MaxLatency - m.MinLatency + 1)))
	}
	m.mu.Unlock()

	if latency <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// flaky reports whether a read should fail at the configured failure rate.
// Callers must hold m.mu.
func (m *MemoryLedger) flaky() bool {
	return m.FailureRate > 0 && m.rng.Float64() < m.FailureRate
}

func (m *MemoryLedger) OrderCount(ctx context.Context) (uint64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	if m.reportCount != nil {
		return *m.reportCount, nil
	}
	return uint64(len(m.ids)), nil
}

func (m *MemoryLedger) OrderIDAt(ctx context.Context, index uint64) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.indexErrs[index]; ok {
		return "", err
	}
	if m.flaky() {
		return "", fmt.Errorf("simulated read failure at index %d", index)
	}
	if index >= uint64(len(m.ids)) {
		return "", fmt.Errorf("%w: index %d", ErrOrderNotFound, index)
	}
	return m.ids[index], nil
}

func (m *MemoryLedger) OrderInfo(ctx context.Context, orderID string) (*types.LedgerOrder, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flaky() {
		return nil, fmt.Errorf("simulated read failure for order %s", orderID)
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	out := *o
	return &out, nil
}

// SubmitMatch settles the submitted terms against each counter order. A
// counter order must be live and mirror the terms exactly; both sides are
// then marked fully filled.
func (m *MemoryLedger) SubmitMatch(ctx context.Context, req MatchRequest) (Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("component", "memory_ledger").
		Strs("counter_order_ids", req.CounterOrderIDs).
		Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.submissions = append(m.submissions, req)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if len(req.CounterOrderIDs) == 0 {
		return nil, fmt.Errorf("%w: no counter orders", ErrRejected)
	}

	var maker *types.LedgerOrder
	for _, o := range m.orders {
		if !o.IsCancelled && !isFilled(o) && sameTerms(o, req.TokenA, req.TokenB, req.AmountA, req.AmountB) {
			maker = o
			break
		}
	}

	for _, id := range req.CounterOrderIDs {
		o, ok := m.orders[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown order %s", ErrRejected, id)
		}
		if o.IsCancelled {
			return nil, fmt.Errorf("%w: order %s is cancelled", ErrRejected, id)
		}
		if isFilled(o) {
			return nil, fmt.Errorf("%w: order %s is filled", ErrRejected, id)
		}
		if !sameTerms(o, req.TokenB, req.TokenA, req.AmountB, req.AmountA) {
			return nil, fmt.Errorf("%w: order %s does not mirror the submitted terms", ErrRejected, id)
		}
	}

	for _, id := range req.CounterOrderIDs {
		m.orders[id].AmountLeftToFill = "0"
	}
	if maker != nil {
		maker.AmountLeftToFill = "0"
	}

	logger.Info().Msg("match settled")

	return CallResult{Values: []string{"true"}}, nil
}

// sameTerms compares an order's terms the way the contract would: addresses
// by value regardless of checksum casing, amounts numerically.
func sameTerms(o *types.LedgerOrder, tokenA, tokenB, amountA, amountB string) bool {
	return sameAccount(o.TokenA, tokenA) && sameAccount(o.TokenB, tokenB) &&
		sameAmount(o.AmountA, amountA) && sameAmount(o.AmountB, amountB)
}

func isFilled(o *types.LedgerOrder) bool {
	return sameAmount(o.AmountLeftToFill, "0")
}

func sameAccount(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}

func sameAmount(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	x, okA := math.ParseBig256(a)
	y, okB := math.ParseBig256(b)
	if a == "" || b == "" || !okA || !okB {
		return a == b
	}
	return x.Cmp(y) == 0
}
