package security

import (
	"net/http"
	"strconv"

	"gatekeeper/internal/config"
)

// Pipeline is the inbound security chain: the activity logger wraps the
// blacklist gate and the rate limiter, which wrap the application.
type Pipeline struct {
	chain     Chain
	logger    *ActivityLogger
	anonymize func() bool
}

func NewPipeline(logger *ActivityLogger, stages ...Stage) *Pipeline {
	return &Pipeline{
		chain:  Chain(stages),
		logger: logger,
		anonymize: func() bool {
			return config.GetConfig().Security.AnonymizeIP
		},
	}
}

// WithAnonymization overrides where the anonymization switch is read from.
func (p *Pipeline) WithAnonymization(enabled func() bool) *Pipeline {
	if enabled != nil {
		p.anonymize = enabled
	}
	return p
}

// Describe resolves the stage input for r.
func (p *Pipeline) Describe(r *http.Request) Request {
	ip := ResolveClientIP(r)
	return Request{
		ClientIP: ip,
		Address:  StoredAddress(ip, p.anonymize()),
		Path:     r.URL.Path,
		Method:   r.Method,
	}
}

func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := p.Describe(r)
		rec := &statusRecorder{ResponseWriter: w}

		if decision := p.chain.Evaluate(r.Context(), req); !decision.Allowed {
			writeDecision(rec, decision)
		} else {
			next.ServeHTTP(rec, r)
		}

		p.logger.Record(r, req.Address, rec.Status())
	})
}

func writeDecision(w http.ResponseWriter, d Decision) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(d.Status)
	_, _ = w.Write([]byte(d.Message))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
