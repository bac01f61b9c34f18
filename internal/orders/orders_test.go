package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/orderbook-mirror/internal/types"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := NewService(newTestDB(t))
	handlers := NewGinHandlers(service)

	router := gin.New()
	router.GET("/orders", handlers.ListOrdersHandler())
	router.GET("/orders/:order_id", handlers.GetOrderHandler())
	return router, service
}

func TestGetOrderHandler(t *testing.T) {
	router, service := newTestRouter(t)
	require.NoError(t, service.Store().Insert(context.Background(), order("A", "X", "Y", "100", "50")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/A", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "A", body.Data.OrderID)
	assert.Equal(t, "50", body.Data.AmountB)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOrdersHandler(t *testing.T) {
	router, service := newTestRouter(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, service.Store().Insert(ctx, order(id, "X", "Y", "1", "1")))
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"defaults", "", http.StatusOK, 3},
		{"paged", "?limit=2&offset=1", http.StatusOK, 2},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0},
		{"limit too large", "?limit=501", http.StatusBadRequest, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders"+tt.query, nil))
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var body struct {
				Data struct {
					Orders []types.Order `json:"orders"`
					Total  int64         `json:"total"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Len(t, body.Data.Orders, tt.wantCount)
			assert.Equal(t, int64(3), body.Data.Total)
		})
	}
}
