package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/orderbook-mirror/internal/auth"
	"github.com/ksred/orderbook-mirror/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Configure limits per endpoint type
var (
	authLimit      = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	executionLimit = rate.Limit(30.0 / 60.0)   // 30 requests per minute
	readLimit      = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

const (
	visitorTTL    = 3 * time.Minute
	sweepInterval = time.Minute
)

// RateLimiter keeps one token bucket per client and route.
// Authenticated routes are keyed by the token's client id, everything else
// by remote address.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
	}
}

func (rl *RateLimiter) getLimiter(path, clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > sweepInterval {
		rl.sweep(now)
	}

	key := clientID + ":" + path
	v, exists := rl.visitors[key]

	if !exists {
		var limit rate.Limit
		burst := 1
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/internal"):
			limit = executionLimit
			burst = 10
		case strings.HasPrefix(path, "/api/v1/"):
			limit = readLimit
			burst = 20
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter: rate.NewLimiter(limit, burst),
		}
		rl.visitors[key] = v
	}

	v.lastSeen = now
	return v.limiter
}

// sweep drops idle visitors. Callers must hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(rl.visitors, key)
		}
	}
	rl.lastSweep = now
}

// Handler throttles requests. Mounted after JWTAuth it limits each client
// separately; before it, each remote address.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = "ip:" + c.ClientIP()
		}

		limiter := rl.getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestID tags every request with an id, reusing X-Request-ID when the
// caller supplies one, and logs the request once it completes.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("requestID", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		log.Debug().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

// JWTAuth verifies the bearer token and stores its claims in the context
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("clientID", claims.ClientID)
		c.Next()
	}
}

// RequirePermission rejects requests whose token lacks perm. It must run
// after JWTAuth.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("claims")
		claims, ok := value.(*auth.Claims)
		if !exists || !ok {
			response.Unauthorized(c, "Missing authentication claims")
			c.Abort()
			return
		}

		if !claims.HasPermission(perm) {
			response.Forbidden(c, "Token lacks permission: "+perm)
			c.Abort()
			return
		}

		c.Next()
	}
}
