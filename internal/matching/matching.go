// Package matching exposes complementary order pairs found in the mirror.
package matching

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/types"
	"github.com/ksred/orderbook-mirror/pkg/response"
)

// PairFinder is the store query the matcher delegates to.
type PairFinder interface {
	FindComplementaryPairs(ctx context.Context) ([]types.Match, error)
}

// Matcher lists match candidates. Results reflect the mirror at query
// time, which may lag the ledger.
type Matcher struct {
	store PairFinder
}

func NewMatcher(store PairFinder) *Matcher {
	return &Matcher{store: store}
}

// ListMatches returns every complementary pair currently in the mirror,
// unfiltered and unranked.
func (m *Matcher) ListMatches(ctx context.Context) ([]types.Match, error) {
	matches, err := m.store.FindComplementaryPairs(ctx)
	if err != nil {
		log.Error().Str("component", "matcher").Err(err).Msg("failed to query complementary pairs")
		return nil, err
	}
	return matches, nil
}

// GinHandlers contains HTTP handlers for match endpoints
type GinHandlers struct {
	matcher *Matcher
}

func NewGinHandlers(matcher *Matcher) *GinHandlers {
	return &GinHandlers{matcher: matcher}
}

// GetMatchesHandler handles GET requests listing match candidates
func (h *GinHandlers) GetMatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		matches, err := h.matcher.ListMatches(c.Request.Context())
		response.Handle(c, matches, err)
	}
}
