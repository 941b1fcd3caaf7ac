package security

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"gatekeeper/internal/domain"
)

type fakeBlacklist struct {
	entries     map[string]*domain.BlacklistedIP
	findErr     error
	deactivated []uint64
}

func (f *fakeBlacklist) FindActiveBlacklistEntry(_ context.Context, ip string) (*domain.BlacklistedIP, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	entry, ok := f.entries[ip]
	if !ok || !entry.Active {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (f *fakeBlacklist) DeactivateBlacklistEntry(_ context.Context, id uint64) error {
	f.deactivated = append(f.deactivated, id)
	for _, entry := range f.entries {
		if entry.ID == id {
			entry.Active = false
		}
	}
	return nil
}

func TestBlacklistGate(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	store := &fakeBlacklist{entries: map[string]*domain.BlacklistedIP{
		"203.0.113.0":  {ID: 1, IPAddress: "203.0.113.0", Active: true},
		"198.51.100.0": {ID: 2, IPAddress: "198.51.100.0", Active: true, ExpiresAt: &future},
		"192.0.2.0":    {ID: 3, IPAddress: "192.0.2.0", Active: true, ExpiresAt: &past},
		"10.1.1.0":     {ID: 4, IPAddress: "10.1.1.0", Active: false},
	}}
	gate := NewBlacklistGate(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	t.Run("active entry is blocked", func(t *testing.T) {
		d := gate.Check(ctx, Request{Address: "203.0.113.0"})
		if d.Allowed || d.Status != http.StatusForbidden || d.Message != AccessDeniedBody {
			t.Fatalf("unexpected decision: %+v", d)
		}
		if d.Stage != BlacklistStageName {
			t.Fatalf("stage = %q", d.Stage)
		}
	})

	t.Run("future expiry is blocked", func(t *testing.T) {
		if d := gate.Check(ctx, Request{Address: "198.51.100.0"}); d.Allowed {
			t.Fatal("entry with future expiry was allowed")
		}
	})

	t.Run("inactive entry is allowed", func(t *testing.T) {
		if d := gate.Check(ctx, Request{Address: "10.1.1.0"}); !d.Allowed {
			t.Fatalf("inactive entry blocked: %+v", d)
		}
	})

	t.Run("unknown address is allowed", func(t *testing.T) {
		if d := gate.Check(ctx, Request{Address: "192.0.2.200"}); !d.Allowed {
			t.Fatal("unknown address blocked")
		}
	})

	t.Run("expired entry is deactivated and allowed", func(t *testing.T) {
		if d := gate.Check(ctx, Request{Address: "192.0.2.0"}); !d.Allowed {
			t.Fatal("expired entry blocked")
		}
		if len(store.deactivated) != 1 || store.deactivated[0] != 3 {
			t.Fatalf("deactivated = %v, want [3]", store.deactivated)
		}
		if store.entries["192.0.2.0"].Active {
			t.Fatal("expired entry still active")
		}

		if d := gate.Check(ctx, Request{Address: "192.0.2.0"}); !d.Allowed {
			t.Fatal("second request after expiry blocked")
		}
		if len(store.deactivated) != 1 {
			t.Fatalf("deactivated twice: %v", store.deactivated)
		}
	})
}

func TestBlacklistGate_FailsOpen(t *testing.T) {
	gate := NewBlacklistGate(&fakeBlacklist{findErr: errors.New("connection refused")})

	if d := gate.Check(context.Background(), Request{Address: "203.0.113.0"}); !d.Allowed {
		t.Fatalf("store failure should allow the request, got %+v", d)
	}
}
