package security

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.RequestEvent
	full   bool
}

func (c *captureSink) Enqueue(event domain.RequestEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, event)
	return true
}

func (c *captureSink) last(t *testing.T) domain.RequestEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("no request event recorded")
	}
	return c.events[len(c.events)-1]
}

type stubStage struct {
	name     string
	decision Decision
	calls    int
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Check(context.Context, Request) Decision {
	s.calls++
	return s.decision
}

func newTestPipeline(sink *captureSink, anonymize bool, stages ...Stage) *Pipeline {
	logger := NewActivityLogger(sink, mustSensitivePaths("^/admin"), nil)
	return NewPipeline(logger, stages...).WithAnonymization(func() bool { return anonymize })
}

func mustSensitivePaths(patterns ...string) *SensitivePaths {
	paths, err := CompileSensitivePaths(patterns)
	if err != nil {
		panic(err)
	}
	return paths
}

func TestMiddleware_RecordsHandlerStatus(t *testing.T) {
	sink := &captureSink{}
	pipeline := newTestPipeline(sink, true, &stubStage{name: "noop", decision: Allow()})

	handler := pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodPost, "/admin/users", nil)
	r.RemoteAddr = "203.0.113.55:4000"
	r.Header.Set("User-Agent", "curl/8.0")
	r.Header.Set("Referer", "https://example.com/")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	event := sink.last(t)
	if event.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want first written status 201", event.StatusCode)
	}
	if event.IPAddress != "203.0.113.0" {
		t.Fatalf("ip = %q, want anonymized address", event.IPAddress)
	}
	if !event.IsSensitive {
		t.Fatal("sensitive path not flagged")
	}
	if event.Method != http.MethodPost || event.Path != "/admin/users" {
		t.Fatalf("unexpected request fields: %+v", event)
	}
	if event.UserAgent != "curl/8.0" || event.Referer != "https://example.com/" {
		t.Fatalf("unexpected headers: ua=%q referer=%q", event.UserAgent, event.Referer)
	}
	if event.CreatedAt.Location() != time.UTC {
		t.Fatal("created_at not in UTC")
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	sink := &captureSink{}
	pipeline := newTestPipeline(sink, false)

	handler := pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))

	r := httptest.NewRequest(http.MethodGet, "/products", nil)
	r.RemoteAddr = "192.0.2.7:9000"
	handler.ServeHTTP(httptest.NewRecorder(), r)

	event := sink.last(t)
	if event.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", event.StatusCode)
	}
	if event.IPAddress != "192.0.2.7" {
		t.Fatalf("ip = %q, want raw address when anonymization is off", event.IPAddress)
	}
	if event.IsSensitive {
		t.Fatal("non-sensitive path flagged")
	}
}

func TestMiddleware_BlockedRequestShortCircuits(t *testing.T) {
	sink := &captureSink{}
	blocked := Block(RateLimitStageName, http.StatusTooManyRequests, TooManyRequestsBody)
	blocked.RetryAfter = 10 * time.Minute
	first := &stubStage{name: "first", decision: blocked}
	second := &stubStage{name: "second", decision: Allow()}
	pipeline := newTestPipeline(sink, true, first, second)

	called := false
	handler := pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if called {
		t.Fatal("application handler ran for a blocked request")
	}
	if second.calls != 0 {
		t.Fatal("later stage ran after a block")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Body.String(); got != TooManyRequestsBody {
		t.Fatalf("body = %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "600" {
		t.Fatalf("Retry-After = %q, want 600", got)
	}
	if event := sink.last(t); event.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("recorded status = %d, want 429", event.StatusCode)
	}
}

func TestMiddleware_FullSinkDoesNotAffectResponse(t *testing.T) {
	sink := &captureSink{full: true}
	pipeline := newTestPipeline(sink, true)

	handler := pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestChain_DefaultsBlockedStageAndStatus(t *testing.T) {
	chain := Chain{&stubStage{name: "custom", decision: Decision{Message: "no"}}}

	d := chain.Evaluate(context.Background(), Request{})
	if d.Allowed || d.Stage != "custom" || d.Status != http.StatusForbidden {
		t.Fatalf("unexpected decision: %+v", d)
	}
}
