package ledgersync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ksred/orderbook-mirror/internal/types"
)

var errInvalidRecord = errors.New("invalid ledger record")

// normalize converts a ledger record into the mirror schema. Amounts are
// rewritten in canonical base 10 and addresses in checksummed form, so that
// equal terms always compare equal as strings.
func normalize(rec *types.LedgerOrder) (*types.Order, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: empty record", errInvalidRecord)
	}
	orderID := strings.TrimSpace(rec.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", errInvalidRecord)
	}

	order := &types.Order{
		OrderID:     orderID,
		TokenA:      canonicalAccount(rec.TokenA),
		TokenB:      canonicalAccount(rec.TokenB),
		User:        canonicalAccount(rec.User),
		IsCancelled: rec.IsCancelled,
	}
	if order.TokenA == "" || order.TokenB == "" {
		return nil, fmt.Errorf("%w: order %s has no token pair", errInvalidRecord, orderID)
	}

	amounts := []struct {
		name string
		in   string
		out  *string
	}{
		{"amountA", rec.AmountA, &order.AmountA},
		{"amountB", rec.AmountB, &order.AmountB},
		{"amountLeftToFill", rec.AmountLeftToFill, &order.AmountLeftToFill},
		{"fees", rec.Fees, &order.Fees},
	}
	for _, a := range amounts {
		v, err := canonicalAmount(a.in)
		if err != nil {
			return nil, fmt.Errorf("%w: order %s %s: %v", errInvalidRecord, orderID, a.name, err)
		}
		*a.out = v
	}

	return order, nil
}

func canonicalAmount(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty amount")
	}
	n, ok := math.ParseBig256(s)
	if !ok {
		return "", fmt.Errorf("%q is not an integer", s)
	}
	if n.Sign() < 0 {
		return "", fmt.Errorf("%q is negative", s)
	}
	return n.String(), nil
}

func canonicalAccount(s string) string {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return common.HexToAddress(s).Hex()
	}
	return s
}
