// Package ledger talks to the externally owned order book that the local
// mirror is built from.
package ledger

import (
	"context"
	"errors"

	"github.com/ksred/orderbook-mirror/internal/types"
)

var (
	// ErrUnavailable means the ledger could not be reached at all: the
	// contract interface could not be resolved or the RPC connection failed.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrOrderNotFound means an index or id no longer resolves to an order.
	ErrOrderNotFound = errors.New("ledger order not found")
	// ErrRejected means the ledger refused a submitted match.
	ErrRejected = errors.New("ledger rejected request")
)

// Client is the read and write surface of the order book.
// Every call may block on I/O and must honour ctx cancellation.
type Client interface {
	// OrderCount returns the number of order ids the ledger knows about.
	OrderCount(ctx context.Context) (uint64, error)
	// OrderIDAt returns the order id stored at index.
	OrderIDAt(ctx context.Context, index uint64) (string, error)
	// OrderInfo returns the full record of an order.
	OrderInfo(ctx context.Context, orderID string) (*types.LedgerOrder, error)
	// SubmitMatch asks the ledger to settle the given match.
	SubmitMatch(ctx context.Context, req MatchRequest) (Result, error)
}

// MatchRequest carries the terms of a match submission.
type MatchRequest struct {
	CounterOrderIDs []string `json:"counter_order_ids"`
	TokenA          string   `json:"token_a"`
	TokenB          string   `json:"token_b"`
	AmountA         string   `json:"amount_a"`
	AmountB         string   `json:"amount_b"`
	AllowPartial    bool     `json:"allow_partial"`
}

// Result is the outcome of a successful SubmitMatch. It is either a
// CallResult or a TransactionResult.
type Result interface {
	Kind() string
	isResult()
}

// CallResult holds the values returned by a read-only evaluation of the
// match call, with every value rendered as a string.
type CallResult struct {
	Values []string `json:"values"`
}

func (CallResult) Kind() string { return "call" }
func (CallResult) isResult()    {}

// TransactionResult identifies a signed match transaction broadcast to the
// ledger. Inclusion is not awaited.
type TransactionResult struct {
	Hash  string `json:"hash"`
	Nonce uint64 `json:"nonce"`
	From  string `json:"from"`
}

func (TransactionResult) Kind() string { return "transaction" }
func (TransactionResult) isResult()    {}
