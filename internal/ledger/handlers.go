package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ksred/orderbook-mirror/pkg/response"
)

// ABIProvider exposes the contract interface a client was built from.
type ABIProvider interface {
	ABI(ctx context.Context) (json.RawMessage, error)
}

// ABI returns the built-in order book interface the memory ledger emulates.
func (m *MemoryLedger) ABI(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(defaultABI), nil
}

// GinHandlers contains HTTP handlers for ledger metadata endpoints
type GinHandlers struct {
	provider ABIProvider
}

func NewGinHandlers(provider ABIProvider) *GinHandlers {
	return &GinHandlers{provider: provider}
}

// GetABIHandler handles GET requests for the contract interface
func (h *GinHandlers) GetABIHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := h.provider.ABI(c.Request.Context())
		if errors.Is(err, ErrUnavailable) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.Handle(c, raw, err)
	}
}
