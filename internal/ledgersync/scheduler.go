package ledgersync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/pkg/response"
)

// ErrPassInProgress is returned by Trigger while another scheduled pass is
// still running.
var ErrPassInProgress = errors.New("sync pass already in progress")

type Scheduler struct {
	engine   *Engine
	interval time.Duration // Time between sync passes
	onStart  bool

	running atomic.Bool
	mu      sync.RWMutex
	last    *Report
	lastErr error
}

func NewScheduler(engine *Engine, interval time.Duration, onStart bool) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		onStart:  onStart,
	}
}

// Start begins the sync loop and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "sync_scheduler").Logger()
	logger.Info().Dur("interval", s.interval).Bool("on_start", s.onStart).Msg("starting sync scheduler")

	if s.onStart {
		s.runLogged(ctx)
	}

	if s.interval <= 0 {
		<-ctx.Done()
		logger.Info().Msg("shutting down sync scheduler")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down sync scheduler")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.Trigger(ctx); err != nil {
		if errors.Is(err, ErrPassInProgress) {
			log.Warn().Str("component", "sync_scheduler").Msg("previous sync pass still running, skipping tick")
			return
		}
		log.Error().Str("component", "sync_scheduler").Err(err).Msg("sync pass failed")
	}
}

// Trigger runs a pass now unless one started by this scheduler is running.
func (s *Scheduler) Trigger(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer s.running.Store(false)

	report, err := s.engine.RunSync(ctx)

	s.mu.Lock()
	s.last = report
	s.lastErr = err
	s.mu.Unlock()

	return report, err
}

// Last returns the report and error of the most recent pass.
func (s *Scheduler) Last() (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

// GinHandlers contains HTTP handlers for sync endpoints
type GinHandlers struct {
	scheduler *Scheduler
}

func NewGinHandlers(scheduler *Scheduler) *GinHandlers {
	return &GinHandlers{scheduler: scheduler}
}

// RunSyncHandler handles POST requests that trigger a sync pass and wait
// for its report.
func (h *GinHandlers) RunSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.scheduler.Trigger(c.Request.Context())
		switch {
		case errors.Is(err, ErrPassInProgress):
			response.Conflict(c, err.Error())
			return
		case errors.Is(err, ledger.ErrUnavailable):
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.Handle(c, report, err)
	}
}

// StatusHandler returns the outcome of the last pass.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.scheduler.Last()
		status := gin.H{
			"running": h.scheduler.running.Load(),
			"last":    report,
		}
		if err != nil {
			status["last_error"] = err.Error()
		}
		response.Success(c, status)
	}
}
