package app

import (
	"context"
	"errors"
	"testing"

	"gatekeeper/internal/database/dbtest"

	"github.com/charmbracelet/log"
)

func TestReadPort(t *testing.T) {
	t.Setenv("GATEKEEPER_PORT_VALID", "12345")
	if got := readPort("GATEKEEPER_PORT_VALID"); got != 12345 {
		t.Fatalf("readPort returned %d, want 12345", got)
	}

	t.Setenv("GATEKEEPER_PORT_INVALID", "not-a-number")
	if got := readPort("GATEKEEPER_PORT_INVALID"); got != 0 {
		t.Fatalf("readPort with invalid value returned %d, want 0", got)
	}

	t.Setenv("GATEKEEPER_PORT_ZERO", "0")
	if got := readPort("GATEKEEPER_PORT_ZERO"); got != 0 {
		t.Fatalf("readPort with zero value returned %d, want 0", got)
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("primary env overrides fallback", func(t *testing.T) {
		t.Setenv("PRIMARY_PORT", "5050")
		if got := resolvePort("PRIMARY_PORT", "LEGACY_PORT", 8080); got != 5050 {
			t.Fatalf("resolvePort returned %d, want 5050", got)
		}
	})

	t.Run("legacy env used when primary missing", func(t *testing.T) {
		t.Setenv("LEGACY_PORT", "6060")
		if got := resolvePort("PRIMARY_MISSING", "LEGACY_PORT", 8080); got != 6060 {
			t.Fatalf("resolvePort returned %d, want 6060", got)
		}
	})

	t.Run("fallback used when env unset", func(t *testing.T) {
		if got := resolvePort("UNSET_PRIMARY", "UNSET_LEGACY", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw        string
		production bool
		want       log.Level
	}{
		{raw: "", production: false, want: log.DebugLevel},
		{raw: "", production: true, want: log.InfoLevel},
		{raw: "warn", production: false, want: log.WarnLevel},
		{raw: " error ", production: true, want: log.ErrorLevel},
		{raw: "loud", production: true, want: log.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.raw, tt.production); got != tt.want {
			t.Errorf("parseLogLevel(%q, %v) = %v, want %v", tt.raw, tt.production, got, tt.want)
		}
	}
}

func TestRunOnce(t *testing.T) {
	store := dbtest.Store(t)
	ctx := context.Background()

	for _, job := range []string{"seed", "analyze", "sweep", "import"} {
		if err := runOnce(ctx, job, store, 20); err != nil {
			t.Fatalf("runOnce(%q) returned error: %v", job, err)
		}
	}

	if err := runOnce(ctx, "reindex", store, 0); !errors.Is(err, errUnknownJob) {
		t.Fatalf("unknown job error = %v, want errUnknownJob", err)
	}
}
