package security

import (
	"context"
	"net/http"
	"time"

	"gatekeeper/internal/domain"

	"github.com/charmbracelet/log"
)

const (
	BlacklistStageName = "blacklist"
	AccessDeniedBody   = "Access denied."
)

type BlacklistStore interface {
	FindActiveBlacklistEntry(ctx context.Context, ip string) (*domain.BlacklistedIP, error)
	DeactivateBlacklistEntry(ctx context.Context, id uint64) error
}

// BlacklistGate rejects requests from active, unexpired blacklist entries.
// Expired entries are deactivated on the read that finds them.
type BlacklistGate struct {
	store BlacklistStore
	now   func() time.Time
}

func NewBlacklistGate(store BlacklistStore) *BlacklistGate {
	return &BlacklistGate{store: store, now: time.Now}
}

// WithClock replaces the time source used for expiry checks.
func (g *BlacklistGate) WithClock(now func() time.Time) *BlacklistGate {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *BlacklistGate) Name() string { return BlacklistStageName }

func (g *BlacklistGate) Check(ctx context.Context, req Request) Decision {
	if req.Address == "" {
		return Allow()
	}

	entry, err := g.store.FindActiveBlacklistEntry(ctx, req.Address)
	if err != nil {
		log.Warn("Blacklist lookup failed, allowing request", "ip", req.Address, "error", err)
		return failOpen(BlacklistStageName)
	}
	if entry == nil {
		return Allow()
	}

	if entry.Expired(g.now()) {
		if err := g.ExpireEntry(ctx, entry); err != nil {
			log.Warn("Failed to deactivate expired blacklist entry", "ip", entry.IPAddress, "error", err)
		}
		return Allow()
	}

	return Block(BlacklistStageName, http.StatusForbidden, AccessDeniedBody)
}

// ExpireEntry deactivates entry. The gate allows the request whether or not
// this succeeds; a failed write means the next request repeats it.
func (g *BlacklistGate) ExpireEntry(ctx context.Context, entry *domain.BlacklistedIP) error {
	if err := g.store.DeactivateBlacklistEntry(ctx, entry.ID); err != nil {
		return err
	}
	entry.Active = false
	log.Info("Blacklist entry expired", "ip", entry.IPAddress, "expires_at", entry.ExpiresAt)
	return nil
}
