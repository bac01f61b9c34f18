// Package server assembles the HTTP API.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/orderbook-mirror/internal/auth"
	"github.com/ksred/orderbook-mirror/internal/execution"
	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/internal/ledgersync"
	"github.com/ksred/orderbook-mirror/internal/matching"
	"github.com/ksred/orderbook-mirror/internal/orders"
	"github.com/ksred/orderbook-mirror/pkg/middleware"
)

// Handlers groups the per-package handler sets the router mounts
type Handlers struct {
	AuthService *auth.Service
	Auth        *auth.GinHandlers
	Orders      *orders.GinHandlers
	Matches     *matching.GinHandlers
	Execution   *execution.GinHandlers
	Sync        *ledgersync.GinHandlers
	Ledger      *ledger.GinHandlers

	// Unthrottled drops per-client rate limiting, for in-process load runs
	Unthrottled bool
}

// NewRouter configures all API endpoints and their handlers
// - Auth routes: public token issuance, throttled per remote address
// - Read routes: any valid token with the read permission, throttled per client
// - Internal routes: sync trigger and match execution, each behind its own
//   permission and throttled per client
func NewRouter(h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())

	throttle := gin.HandlerFunc(func(c *gin.Context) { c.Next() })
	if !h.Unthrottled {
		throttle = middleware.NewRateLimiter().Handler()
	}

	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		authRoutes.Use(throttle)
		{
			authRoutes.POST("/token", h.Auth.GenerateTokenHandler())
		}

		read := v1.Group("")
		read.Use(middleware.JWTAuth(h.AuthService), throttle, middleware.RequirePermission(auth.PermissionRead))
		{
			read.GET("/orders", h.Orders.ListOrdersHandler())
			read.GET("/orders/:order_id", h.Orders.GetOrderHandler())
			read.GET("/matches", h.Matches.GetMatchesHandler())
			read.GET("/ledger/abi", h.Ledger.GetABIHandler())
			read.GET("/sync/status", h.Sync.StatusHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(h.AuthService), throttle)
		{
			internal.POST("/sync", middleware.RequirePermission(auth.PermissionSync), h.Sync.RunSyncHandler())
			internal.POST("/matches/execute", middleware.RequirePermission(auth.PermissionExecute), h.Execution.ExecuteMatchHandler())
		}
	}

	return router
}
