package execution

import (
	"errors"
	"fmt"
)

// ErrInvalidMatch is returned when a selection is missing an order id or
// pairs an order with itself.
var ErrInvalidMatch = errors.New("invalid match selection")

// ExecutionError reports a match the ledger failed to process.
type ExecutionError struct {
	AttemptID string
	OrderID   string
	OrderID2  string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s of match %s/%s failed: %v", e.AttemptID, e.OrderID, e.OrderID2, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
