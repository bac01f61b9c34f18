// Package ledgersync mirrors the ledger's order book into the local store.
package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/internal/orders"
	"github.com/ksred/orderbook-mirror/internal/types"
)

// RefreshPolicy decides what happens to an order that is already mirrored.
type RefreshPolicy string

const (
	// RefreshNever leaves mirrored orders untouched once ingested.
	RefreshNever RefreshPolicy = "never"
	// RefreshState re-applies the ledger's cancellation flag and remaining
	// fill amount on every pass.
	RefreshState RefreshPolicy = "state"
)

// ParseRefreshPolicy validates a configured policy name.
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch p := RefreshPolicy(s); p {
	case RefreshNever, RefreshState:
		return p, nil
	case "":
		return RefreshNever, nil
	}
	return "", fmt.Errorf("unknown refresh policy %q", s)
}

// Store is the part of the order mirror the engine writes to.
type Store interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	Insert(ctx context.Context, order *types.Order) error
	RefreshState(ctx context.Context, orderID string, isCancelled bool, amountLeftToFill string) (bool, error)
}

// Config tunes an Engine.
type Config struct {
	// CallTimeout bounds every individual ledger call.
	CallTimeout time.Duration
	Refresh     RefreshPolicy
}

// Engine runs reconciliation passes from the ledger into the store.
// Passes may run concurrently; the store's unique order id keeps them from
// duplicating rows.
type Engine struct {
	ledger ledger.Client
	store  Store
	cfg    Config
}

func NewEngine(client ledger.Client, store Store, cfg Config) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.Refresh == "" {
		cfg.Refresh = RefreshNever
	}
	return &Engine{ledger: client, store: store, cfg: cfg}
}

// IndexFailure records one ledger index that could not be ingested.
type IndexFailure struct {
	Index   uint64 `json:"index"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error"`
}

// Report summarises a single pass.
type Report struct {
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	LedgerCount    uint64         `json:"ledger_count"`
	Ingested       int            `json:"ingested"`
	AlreadyPresent int            `json:"already_present"`
	Refreshed      int            `json:"refreshed"`
	Failures       []IndexFailure `json:"failures"`
}

type outcome int

const (
	outcomeIngested outcome = iota
	outcomePresent
	outcomeRefreshed
)

// RunSync performs one full scan of the ledger. Failures on individual
// indexes are logged and recorded in the report without stopping the pass.
// A failure to read the order count aborts the pass with an error wrapping
// ledger.ErrUnavailable.
func (e *Engine) RunSync(ctx context.Context) (*Report, error) {
	logger := log.With().Str("component", "ledger_sync").Logger()

	report := &Report{StartedAt: time.Now(), Failures: []IndexFailure{}}

	countCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	count, err := e.ledger.OrderCount(countCtx)
	cancel()
	if err != nil {
		report.FinishedAt = time.Now()
		logger.Error().Err(err).Msg("failed to read ledger order count, aborting pass")
		if !errors.Is(err, ledger.ErrUnavailable) {
			err = fmt.Errorf("%w: order count: %w", ledger.ErrUnavailable, err)
		}
		return report, err
	}
	report.LedgerCount = count

	logger.Info().Uint64("ledger_count", count).Msg("starting sync pass")

	for i := uint64(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now()
			logger.Warn().Err(err).Uint64("index", i).Msg("sync pass interrupted")
			return report, err
		}

		orderID, result, err := e.syncIndex(ctx, i)
		if err != nil {
			logger.Warn().
				Err(err).
				Uint64("index", i).
				Str("order_id", orderID).
				Msg("skipping ledger index")
			report.Failures = append(report.Failures, IndexFailure{Index: i, OrderID: orderID, Error: err.Error()})
			continue
		}

		switch result {
		case outcomeIngested:
			report.Ingested++
			logger.Debug().Str("order_id", orderID).Msg("ingested order")
		case outcomeRefreshed:
			report.Refreshed++
			logger.Debug().Str("order_id", orderID).Msg("refreshed order state")
		default:
			report.AlreadyPresent++
		}
	}

	report.FinishedAt = time.Now()

	logger.Info().
		Uint64("ledger_count", count).
		Int("ingested", report.Ingested).
		Int("already_present", report.AlreadyPresent).
		Int("refreshed", report.Refreshed).
		Int("failed", len(report.Failures)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("sync pass completed")

	return report, nil
}

// syncIndex ingests the order at one ledger index.
func (e *Engine) syncIndex(ctx context.Context, index uint64) (string, outcome, error) {
	idCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	ledgerID, err := e.ledger.OrderIDAt(idCtx, index)
	cancel()
	if err != nil {
		return "", 0, fmt.Errorf("read order id: %w", err)
	}
	// the mirror keys on the trimmed id; the ledger is queried with its own
	orderID := strings.TrimSpace(ledgerID)
	if orderID == "" {
		return "", 0, fmt.Errorf("%w: empty order id at index %d", errInvalidRecord, index)
	}

	exists, err := e.store.Exists(ctx, orderID)
	if err != nil {
		return orderID, 0, fmt.Errorf("check mirror: %w", err)
	}
	if exists && e.cfg.Refresh == RefreshNever {
		return orderID, outcomePresent, nil
	}

	infoCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	rec, err := e.ledger.OrderInfo(infoCtx, ledgerID)
	cancel()
	if err != nil {
		return orderID, 0, fmt.Errorf("read order info: %w", err)
	}

	order, err := normalize(rec)
	if err != nil {
		return orderID, 0, err
	}
	if order.OrderID != orderID {
		return orderID, 0, fmt.Errorf("%w: ledger returned order %s for id %s", errInvalidRecord, order.OrderID, orderID)
	}

	if !exists {
		err = e.store.Insert(ctx, order)
		if err == nil {
			return orderID, outcomeIngested, nil
		}
		if !errors.Is(err, orders.ErrConflict) {
			return orderID, 0, fmt.Errorf("insert order: %w", err)
		}
		// a concurrent pass inserted it first
		if e.cfg.Refresh == RefreshNever {
			return orderID, outcomePresent, nil
		}
	}

	changed, err := e.store.RefreshState(ctx, orderID, order.IsCancelled, order.AmountLeftToFill)
	if err != nil {
		return orderID, 0, fmt.Errorf("refresh order: %w", err)
	}
	if changed {
		return orderID, outcomeRefreshed, nil
	}
	return orderID, outcomePresent, nil
}
