package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tuning-platform/internal/types"
)

func TestRateLimiter_TierLimits(t *testing.T) {
	rl := NewRateLimiter(1, 100)

	standard := rl.getLimiter("tenant-standard", types.TierStandard)
	pro := rl.getLimiter("tenant-pro", types.TierPro)

	if standard.Limit() >= pro.Limit() {
		t.Errorf("Expected pro limit above standard: %v vs %v", pro.Limit(), standard.Limit())
	}
}

func TestRateLimiter_SameLimiterPerTenant(t *testing.T) {
	rl := NewRateLimiter(10, 50)

	a := rl.getLimiter("tenant-1", types.TierStandard)
	b := rl.getLimiter("tenant-1", types.TierStandard)
	if a != b {
		t.Error("Expected the same limiter instance for one tenant")
	}

	c := rl.getLimiter("tenant-2", types.TierStandard)
	if a == c {
		t.Error("Expected distinct limiters per tenant")
	}
}

func TestRateLimiter_ConcurrentCreation(t *testing.T) {
	rl := NewRateLimiter(10, 50)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rl.getLimiter("tenant-1", types.TierStandard)
		}()
	}
	wg.Wait()

	if len(rl.limiters) != 1 {
		t.Errorf("Expected 1 limiter, got %d", len(rl.limiters))
	}
}

func TestRateLimitMiddleware_EnforcesLimit(t *testing.T) {
	// 1 rps with burst 10: the 11th immediate request must be rejected.
	rl := NewRateLimiter(1, 1)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	limited := false
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("GET", "/api/jobs/x", nil)
		req.Header.Set("X-Tenant-ID", "tenant-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}

	if !limited {
		t.Error("Expected at least one request to be rate limited")
	}
}

func TestRateLimitMiddleware_IsolatesTenants(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust tenant-1's burst.
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("GET", "/api/jobs/x", nil)
		req.Header.Set("X-Tenant-ID", "tenant-1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// tenant-2 is unaffected.
	req := httptest.NewRequest("GET", "/api/jobs/x", nil)
	req.Header.Set("X-Tenant-ID", "tenant-2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for a fresh tenant, got %d", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest("GET", "/api/jobs/x", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 after panic, got %d", w.Code)
	}
}
