package orders

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/orderbook-mirror/internal/types"
	"github.com/ksred/orderbook-mirror/pkg/response"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service exposes read access to the order mirror
type Service struct {
	db *Database
}

// NewService creates a new order service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Store returns the repository backing the service
func (s *Service) Store() *Database {
	return s.db
}

// GetOrder retrieves a mirrored order by its ledger id
func (s *Service) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	return s.db.GetByOrderID(ctx, orderID)
}

// ListOrders returns one page of the mirror together with its total size
func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]types.Order, int64, error) {
	total, err := s.db.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	page, err := s.db.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetOrderHandler handles GET requests for a single mirrored order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(c.Request.Context(), orderID)
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler handles GET requests listing the mirror
// Query parameters: limit (default 50, max 500), offset
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
		if err != nil || limit <= 0 || limit > maxPageSize {
			response.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			response.BadRequest(c, "offset must be a non-negative integer")
			return
		}

		page, total, err := h.service.ListOrders(c.Request.Context(), limit, offset)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{
			"orders": page,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}
