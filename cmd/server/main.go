package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/auth"
	"github.com/ksred/orderbook-mirror/internal/config"
	"github.com/ksred/orderbook-mirror/internal/database"
	"github.com/ksred/orderbook-mirror/internal/execution"
	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/internal/ledgersync"
	"github.com/ksred/orderbook-mirror/internal/matching"
	"github.com/ksred/orderbook-mirror/internal/orders"
	"github.com/ksred/orderbook-mirror/internal/server"

	"github.com/gin-gonic/gin"
)

// configureLogging sets up zerolog based on environment settings
// Outside production it enables pretty printing with timestamps
func configureLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// ledgerClient is what the server needs from a ledger implementation
type ledgerClient interface {
	ledger.Client
	ledger.ABIProvider
}

// newLedger builds the ledger client selected by LEDGER_MODE
func newLedger(cfg config.LedgerConfig) (ledgerClient, error) {
	if cfg.Mode == "memory" {
		if cfg.MemorySeed == "" {
			return ledger.NewMemoryLedger(), nil
		}
		return ledger.LoadMemoryLedger(cfg.MemorySeed)
	}

	resolver := &ledger.ABIResolver{
		Path:        cfg.ABIPath,
		ExplorerURL: cfg.ExplorerURL,
		APIKey:      cfg.ExplorerAPIKey,
		Address:     cfg.ContractAddress,
	}
	return ledger.NewEthClient(ledger.EthConfig{
		RPCEndpoint:     cfg.RPCEndpoint,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.PrivateKey,
		ChainID:         cfg.ChainID,
	}, resolver)
}

// main wires the order mirror, starts the background sync and serves the
// API until interrupted
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	client, err := newLedger(cfg.Ledger)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize ledger client")
	}
	if closer, ok := client.(interface{ Close() }); ok {
		defer closer.Close()
	}

	refresh, err := ledgersync.ParseRefreshPolicy(cfg.Sync.RefreshMode)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid sync configuration")
	}

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	switch {
	case cfg.Auth.OperatorKey != "":
		authService.RegisterAPICredentials(cfg.Auth.OperatorKey, cfg.Auth.OperatorSecret,
			auth.PermissionRead, auth.PermissionSync, auth.PermissionExecute)
	case !cfg.IsProduction():
		zlog.Warn().Msg("No operator credentials configured, registering development credentials")
		authService.RegisterAPICredentials(auth.DevAPIKey, auth.DevAPISecret,
			auth.PermissionRead, auth.PermissionSync, auth.PermissionExecute)
	}

	orderService := orders.NewService(db)
	orderHandlers := orders.NewGinHandlers(orderService)

	engine := ledgersync.NewEngine(client, orderService.Store(), ledgersync.Config{
		CallTimeout: cfg.Ledger.CallTimeout,
		Refresh:     refresh,
	})
	scheduler := ledgersync.NewScheduler(engine, cfg.Sync.Interval, cfg.Sync.OnStart)
	syncHandlers := ledgersync.NewGinHandlers(scheduler)

	matchHandlers := matching.NewGinHandlers(matching.NewMatcher(orderService.Store()))

	coordinator := execution.NewCoordinator(orderService.Store(), client, cfg.Ledger.CallTimeout)
	executionHandlers := execution.NewGinHandlers(coordinator)

	ledgerHandlers := ledger.NewGinHandlers(client)

	// Start the background sync
	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()

	go scheduler.Start(syncCtx)

	router := server.NewRouter(server.Handlers{
		AuthService: authService,
		Auth:        authHandlers,
		Orders:      orderHandlers,
		Matches:     matchHandlers,
		Execution:   executionHandlers,
		Sync:        syncHandlers,
		Ledger:      ledgerHandlers,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	syncCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}
