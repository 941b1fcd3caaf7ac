package security

import (
	"context"
	"net/http"
	"time"

	"gatekeeper/internal/metrics"
)

// Decision is the uniform result of a pipeline stage.
type Decision struct {
	Allowed bool
	Stage   string
	Status  int
	Message string
	// RetryAfter is sent as a Retry-After header when positive.
	RetryAfter time.Duration
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Block(stage string, status int, message string) Decision {
	return Decision{Stage: stage, Status: status, Message: message}
}

// Request is what stages see of an inbound request.
type Request struct {
	// ClientIP is the resolved address before anonymization.
	ClientIP string
	// Address is the stored form, anonymized when configured.
	Address string
	Path    string
	Method  string
}

type Stage interface {
	Name() string
	Check(ctx context.Context, req Request) Decision
}

// Chain runs stages in order and stops at the first one that does not allow.
type Chain []Stage

func (c Chain) Evaluate(ctx context.Context, req Request) Decision {
	for _, stage := range c {
		decision := stage.Check(ctx, req)
		if decision.Allowed {
			metrics.PipelineDecisions.WithLabelValues(stage.Name(), "allow").Inc()
			continue
		}
		if decision.Stage == "" {
			decision.Stage = stage.Name()
		}
		if decision.Status == 0 {
			decision.Status = http.StatusForbidden
		}
		metrics.PipelineDecisions.WithLabelValues(stage.Name(), "block").Inc()
		return decision
	}
	return Allow()
}

// failOpen admits a request whose stage could not reach its store. The stages
// trade security for availability here; there is no fail-closed mode.
func failOpen(stage string) Decision {
	metrics.FailOpen.WithLabelValues(stage).Inc()
	return Allow()
}
