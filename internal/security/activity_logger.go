package security

import (
	"net/http"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/metrics"

	"github.com/charmbracelet/log"
)

// EventSink accepts request events without blocking. It returns false when
// the event was dropped.
type EventSink interface {
	Enqueue(event domain.RequestEvent) bool
}

// UserResolver returns the authenticated user behind r, or nil.
type UserResolver func(r *http.Request) *uint64

// ActivityLogger turns completed requests into RequestEvent drafts. Country
// enrichment and persistence happen in the sink, off the request path.
type ActivityLogger struct {
	sink      EventSink
	sensitive SensitivePolicy
	userOf    UserResolver
	now       func() time.Time
}

func NewActivityLogger(sink EventSink, sensitive SensitivePolicy, userOf UserResolver) *ActivityLogger {
	return &ActivityLogger{
		sink:      sink,
		sensitive: sensitive,
		userOf:    userOf,
		now:       time.Now,
	}
}

// Record never fails and never panics into the caller.
func (l *ActivityLogger) Record(r *http.Request, address string, status int) {
	if l == nil || l.sink == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Activity logger panicked", "path", r.URL.Path, "panic", rec)
			metrics.ActivityEvents.WithLabelValues("failed").Inc()
		}
	}()

	event := domain.RequestEvent{
		IPAddress:  address,
		Path:       r.URL.Path,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		Referer:    r.Referer(),
		StatusCode: status,
		CreatedAt:  l.now().UTC(),
	}
	if l.sensitive != nil {
		event.IsSensitive = l.sensitive.IsSensitive(r.URL.Path)
	}
	if l.userOf != nil {
		event.UserID = l.userOf(r)
	}
	event.Normalize()

	if !l.sink.Enqueue(event) {
		log.Debug("Activity queue full, dropping request event", "path", event.Path)
	}
}
