// Package execution submits chosen matches to the ledger.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/internal/orders"
	"github.com/ksred/orderbook-mirror/internal/types"
	"github.com/ksred/orderbook-mirror/pkg/response"
)

// OrderReader resolves mirrored orders.
type OrderReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*types.Order, error)
}

// Coordinator turns a selected match into a ledger mutation. It never
// writes to the mirror; the next sync pass picks up the ledger's new state.
type Coordinator struct {
	store       OrderReader
	ledger      ledger.Client
	callTimeout time.Duration
}

func NewCoordinator(store OrderReader, client ledger.Client, callTimeout time.Duration) *Coordinator {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Coordinator{
		store:       store,
		ledger:      client,
		callTimeout: callTimeout,
	}
}

// ExecuteMatch submits match to the ledger using the mirrored terms of
// match.OrderID; match.OrderID2 is forwarded as the sole counter order.
// Partial fills are never requested.
//
// It returns orders.ErrNotFound without contacting the ledger when
// match.OrderID is not mirrored, and *ExecutionError for any ledger side
// failure, including timeouts.
func (c *Coordinator) ExecuteMatch(ctx context.Context, match types.Match) (ledger.Result, error) {
	match.OrderID = strings.TrimSpace(match.OrderID)
	match.OrderID2 = strings.TrimSpace(match.OrderID2)
	if match.OrderID == "" || match.OrderID2 == "" {
		return nil, fmt.Errorf("%w: both order ids are required", ErrInvalidMatch)
	}
	if match.OrderID == match.OrderID2 {
		return nil, fmt.Errorf("%w: order %s cannot match itself", ErrInvalidMatch, match.OrderID)
	}

	attemptID := uuid.New().String()
	logger := log.With().
		Str("component", "execution").
		Str("attempt_id", attemptID).
		Str("order_id", match.OrderID).
		Str("order_id2", match.OrderID2).
		Logger()

	order, err := c.store.GetByOrderID(ctx, match.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			logger.Warn().Msg("match references an order missing from the mirror")
		} else {
			logger.Error().Err(err).Msg("failed to resolve order terms")
		}
		return nil, err
	}

	req := ledger.MatchRequest{
		CounterOrderIDs: []string{match.OrderID2},
		TokenA:          order.TokenA,
		TokenB:          order.TokenB,
		AmountA:         order.AmountA,
		AmountB:         order.AmountB,
		AllowPartial:    false,
	}

	logger.Info().
		Str("token_a", req.TokenA).
		Str("token_b", req.TokenB).
		Str("amount_a", req.AmountA).
		Str("amount_b", req.AmountB).
		Msg("submitting match to ledger")

	result, err := c.submit(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("ledger failed to execute match")
		return nil, &ExecutionError{
			AttemptID: attemptID,
			OrderID:   match.OrderID,
			OrderID2:  match.OrderID2,
			Err:       err,
		}
	}
	if result == nil {
		logger.Error().Msg("ledger returned no result")
		return nil, &ExecutionError{
			AttemptID: attemptID,
			OrderID:   match.OrderID,
			OrderID2:  match.OrderID2,
			Err:       errors.New("ledger returned no result"),
		}
	}

	logger.Info().Str("result_kind", result.Kind()).Msg("match executed")

	return result, nil
}

// submit bounds the ledger call and turns a panicking client into an error.
func (c *Coordinator) submit(ctx context.Context, req ledger.MatchRequest) (result ledger.Result, err error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("ledger client panic: %v", r)
		}
	}()

	return c.ledger.SubmitMatch(callCtx, req)
}

// ExecutionResponse is the HTTP payload of a successful execution.
type ExecutionResponse struct {
	OrderID  string        `json:"order_id"`
	OrderID2 string        `json:"order_id2"`
	Kind     string        `json:"kind"`
	Result   ledger.Result `json:"result"`
}

// GinHandlers contains HTTP handlers for execution endpoints
type GinHandlers struct {
	coordinator *Coordinator
}

func NewGinHandlers(coordinator *Coordinator) *GinHandlers {
	return &GinHandlers{coordinator: coordinator}
}

// ExecuteMatchHandler handles POST requests to execute a match.
// Request body: {"order_id": "...", "order_id2": "..."}
func (h *GinHandlers) ExecuteMatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var match types.Match
		if err := c.ShouldBindJSON(&match); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.coordinator.ExecuteMatch(c.Request.Context(), match)

		var execErr *ExecutionError
		switch {
		case err == nil:
			response.Success(c, ExecutionResponse{
				OrderID:  match.OrderID,
				OrderID2: match.OrderID2,
				Kind:     result.Kind(),
				Result:   result,
			})
		case errors.Is(err, ErrInvalidMatch):
			response.BadRequest(c, err.Error())
		case errors.Is(err, orders.ErrNotFound):
			response.NotFound(c, "Order not found")
		case errors.As(err, &execErr):
			response.BadGateway(c, execErr.Error())
		default:
			response.Handle(c, nil, err)
		}
	}
}
