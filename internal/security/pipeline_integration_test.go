package security_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/database"
	"gatekeeper/internal/database/dbtest"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/jobs/analysis"
	"gatekeeper/internal/kvstore"
	"gatekeeper/internal/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeSink persists synchronously so the analyzer sees every event.
type storeSink struct {
	t     *testing.T
	store *database.Store
}

func (s storeSink) Enqueue(event domain.RequestEvent) bool {
	err := s.store.InsertRequestEvents(context.Background(), []domain.RequestEvent{event})
	require.NoError(s.t, err)
	return true
}

func TestPipeline_AnalyzerBlacklistsNoisyClient(t *testing.T) {
	store := dbtest.Store(t)
	ctx := context.Background()

	sensitive, err := security.CompileSensitivePaths([]string{"^/admin", "^/api/auth"})
	require.NoError(t, err)

	limits := func() config.RateLimitConfig {
		return config.RateLimitConfig{WindowSeconds: 600, MaxRequests: 30}
	}
	logger := security.NewActivityLogger(storeSink{t: t, store: store}, sensitive, nil)
	pipeline := security.NewPipeline(logger,
		security.NewBlacklistGate(store),
		security.NewRateLimiter(kvstore.NewMemoryStore(), sensitive, limits),
	).WithAnonymization(func() bool { return true })

	handler := pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/products", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	for i := 0; i < 250; i++ {
		rec := send("203.0.113.55")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	for i := 0; i < 20; i++ {
		send(fmt.Sprintf("198.51.100.%d", i+1))
	}

	report, err := analysis.Run(ctx, store, analysis.Options{Window: 10 * time.Minute, Threshold: 200}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)
	assert.Equal(t, 1, report.Blacklisted)

	suspicious, err := store.ListSuspiciousIPs(ctx)
	require.NoError(t, err)
	require.Len(t, suspicious, 1)
	assert.Equal(t, "203.0.113.0", suspicious[0].IPAddress)
	assert.EqualValues(t, 250, suspicious[0].RequestCount)

	blocked := send("203.0.113.55")
	assert.Equal(t, http.StatusForbidden, blocked.Code)
	assert.Equal(t, security.AccessDeniedBody, blocked.Body.String())

	// Same /24 after anonymization.
	assert.Equal(t, http.StatusForbidden, send("203.0.113.99").Code)
	assert.Equal(t, http.StatusOK, send("198.51.100.1").Code)
}

func TestPipeline_RateLimitsSensitivePaths(t *testing.T) {
	store := dbtest.Store(t)

	sensitive, err := security.CompileSensitivePaths([]string{"^/api/auth"})
	require.NoError(t, err)

	limits := func() config.RateLimitConfig {
		return config.RateLimitConfig{WindowSeconds: 600, MaxRequests: 30}
	}
	logger := security.NewActivityLogger(storeSink{t: t, store: store}, sensitive, nil)
	pipeline := security.NewPipeline(logger,
		security.NewBlacklistGate(store),
		security.NewRateLimiter(kvstore.NewMemoryStore(), sensitive, limits),
	).WithAnonymization(func() bool { return true })

	handler := pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 31; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		r.RemoteAddr = "192.0.2.10:5000"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, r)
		if i < 30 {
			require.Equal(t, http.StatusUnauthorized, last.Code, "request %d", i)
		}
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "600", last.Header().Get("Retry-After"))

	total, err := store.CountRequestEventsBetween(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 31, total, "blocked requests are recorded too")
}
