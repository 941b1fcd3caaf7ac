package security

import (
	"context"
	"net/http"

	"gatekeeper/internal/config"
	"gatekeeper/internal/kvstore"

	"github.com/charmbracelet/log"
)

const (
	RateLimitStageName  = "rate_limit"
	TooManyRequestsBody = "Too many requests. Please try again later."
	rateKeyPrefix       = "rate:"
)

// RateLimiter is a fixed-window counter per client address, applied to
// sensitive paths only. Bursts of up to twice the budget across a window
// boundary are accepted; the analyzer catches sustained traffic.
type RateLimiter struct {
	store     kvstore.Store
	sensitive SensitivePolicy
	limits    func() config.RateLimitConfig
}

func NewRateLimiter(store kvstore.Store, sensitive SensitivePolicy, limits func() config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{store: store, sensitive: sensitive, limits: limits}
}

func (l *RateLimiter) Name() string { return RateLimitStageName }

func (l *RateLimiter) Check(ctx context.Context, req Request) Decision {
	if l.sensitive == nil || !l.sensitive.IsSensitive(req.Path) || req.ClientIP == "" {
		return Allow()
	}

	limits := l.limits()
	window := limits.Window()

	count, allowed, err := l.store.IncrementBelow(ctx, rateKeyPrefix+req.ClientIP, int64(limits.MaxRequests), window)
	if err != nil {
		log.Warn("Rate limit store unavailable, allowing request", "ip", req.ClientIP, "error", err)
		return failOpen(RateLimitStageName)
	}
	if allowed {
		return Allow()
	}

	log.Debug("Rate limit exceeded", "ip", req.ClientIP, "path", req.Path, "count", count)
	decision := Block(RateLimitStageName, http.StatusTooManyRequests, TooManyRequestsBody)
	decision.RetryAfter = window
	return decision
}
