package blacklist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryEntries struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memoryEntries) EnsureBlacklistEntry(_ context.Context, ip, reason string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	if _, ok := m.entries[ip]; ok {
		return false, nil
	}
	m.entries[ip] = reason
	return true, nil
}

const sampleFeed = `# drop list
203.0.113.7 ; spam
203.0.113.9, 198.51.100.0/24
192.0.2.0/16
0.0.0.0 tracker.example
2001:db8::1
not-an-address
`

func TestParseFeed(t *testing.T) {
	t.Run("raw addresses", func(t *testing.T) {
		addresses, skipped, err := ParseFeed(strings.NewReader(sampleFeed), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"2001:db8::1", "203.0.113.7", "203.0.113.9"}, addresses)
		assert.Equal(t, 3, skipped, "two prefixes and the unspecified address")
	})

	t.Run("anonymized", func(t *testing.T) {
		addresses, skipped, err := ParseFeed(strings.NewReader(sampleFeed), true)
		require.NoError(t, err)
		assert.Equal(t, []string{"198.51.100.0", "2001:db8::", "203.0.113.0"}, addresses)
		assert.Equal(t, 2, skipped)
	})
}

func TestImporter_Import(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer bad.Close()

	store := &memoryEntries{}
	importer := NewImporter(store, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	outcome, err := importer.Import(context.Background(), []string{good.URL, bad.URL}, true, now)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Sources)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, 3, outcome.Added)
	assert.Equal(t, reasonPrefix+good.URL, store.entries["203.0.113.0"])

	again, err := importer.Import(context.Background(), []string{good.URL}, true, now)
	require.NoError(t, err)
	assert.Zero(t, again.Added, "existing entries are left alone")
	assert.Contains(t, again.String(), "0 new blacklist entries")
}
