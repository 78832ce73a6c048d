package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tuning-platform/internal/types"
)

// RateLimiter manages per-tenant rate limiting for API requests.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	standardTierLimit rate.Limit
	proTierLimit      rate.Limit

	burstSize int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(standardTierRPS, proTierRPS int) *RateLimiter {
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		standardTierLimit: rate.Limit(standardTierRPS),
		proTierLimit:      rate.Limit(proTierRPS),
		burstSize:         10,
	}
}

// getLimiter returns the rate limiter for a specific tenant and tier
func (rl *RateLimiter) getLimiter(tenantID string, tier types.TenantTier) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[tenantID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	var limit rate.Limit
	switch tier {
	case types.TierPro:
		limit = rl.proTierLimit
	default:
		limit = rl.standardTierLimit
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[tenantID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limit, rl.burstSize)
	rl.limiters[tenantID] = limiter

	return limiter
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get("X-Tenant-ID")
			if tenantID == "" {
				// No tenant header; fall back to the caller's address
				tenantID = r.RemoteAddr
			}

			tier := types.TenantTier(r.Header.Get("X-Tenant-Tier"))
			if tier == "" {
				tier = types.TierStandard
			}

			limiter := rl.getLimiter(tenantID, tier)

			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"tier":  tier,
					"limit": limiter.Limit(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
