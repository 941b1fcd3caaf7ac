package blacklist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sort"
	"strings"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/jobs/runtime"
	"gatekeeper/internal/security"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	maxResponseBytes = 10 << 20 // 10 MiB
	importJobName    = "blocklist_import"
	fetchTimeout     = 30 * time.Second
	reasonPrefix     = "blocklist feed: "
)

type EntryStore interface {
	EnsureBlacklistEntry(ctx context.Context, ip, reason string, now time.Time) (bool, error)
}

// ImportOutcome summarises one pass over all sources.
type ImportOutcome struct {
	Sources int
	Failed  int
	Parsed  int
	Added   int
	Skipped int
}

func (o ImportOutcome) String() string {
	return fmt.Sprintf(
		"Imported %d new blacklist entries from %d sources (%d failed, %d addresses, %d unusable).",
		o.Added, o.Sources, o.Failed, o.Parsed, o.Skipped,
	)
}

// Importer pulls external blocklists into the blacklist. Existing entries,
// including ones an operator deactivated, are never touched.
type Importer struct {
	store  EntryStore
	client *http.Client
	group  singleflight.Group
}

func NewImporter(store EntryStore, client *http.Client) *Importer {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Importer{store: store, client: client}
}

// Import fetches every source and ensures an entry for each usable address.
// A failing source is logged and skipped. Concurrent calls share one pass.
func (im *Importer) Import(ctx context.Context, sources []string, anonymize bool, now time.Time) (ImportOutcome, error) {
	result, err, _ := im.group.Do("import", func() (any, error) {
		return im.doImport(ctx, sources, anonymize, now)
	})
	if err != nil {
		return ImportOutcome{}, err
	}
	return result.(ImportOutcome), nil
}

func (im *Importer) doImport(ctx context.Context, sources []string, anonymize bool, now time.Time) (ImportOutcome, error) {
	outcome := ImportOutcome{Sources: len(sources)}

	for _, source := range sources {
		source = strings.TrimSpace(source)
		addresses, skipped, err := im.fetch(ctx, source, anonymize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return outcome, err
			}
			outcome.Failed++
			log.Warn("Blocklist fetch failed", "source", source, "error", err)
			continue
		}

		outcome.Parsed += len(addresses)
		outcome.Skipped += skipped

		for _, ip := range addresses {
			created, err := im.store.EnsureBlacklistEntry(ctx, ip, reasonPrefix+source, now)
			if err != nil {
				return outcome, fmt.Errorf("blacklist: ensure %s: %w", ip, err)
			}
			if created {
				outcome.Added++
			}
		}
	}

	return outcome, nil
}

func (im *Importer) fetch(ctx context.Context, source string, anonymize bool) ([]string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	addresses, skipped, err := ParseFeed(io.LimitReader(resp.Body, maxResponseBytes), anonymize)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return addresses, skipped, nil
}

// ParseFeed extracts addresses from a plain-text list, one or more per line,
// with "#" and ";" starting a comment. Addresses come back in stored form and
// deduplicated. A prefix is only usable when it fits inside a single stored
// address: a host prefix, or with anonymization an IPv4 /24 or narrower.
// skipped counts tokens that looked like addresses but could not be used.
func ParseFeed(r io.Reader, anonymize bool) (addresses []string, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	seen := make(map[string]struct{})
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}

		for _, token := range strings.FieldsFunc(line, isSeparator) {
			stored, ok, looksLikeAddress := storedForm(token, anonymize)
			if !ok {
				if looksLikeAddress {
					skipped++
				}
				continue
			}
			seen[stored] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}

	addresses = make([]string, 0, len(seen))
	for ip := range seen {
		addresses = append(addresses, ip)
	}
	sort.Strings(addresses)
	return addresses, skipped, nil
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '\t' || r == ',' || r == '\r'
}

func storedForm(token string, anonymize bool) (stored string, ok bool, looksLikeAddress bool) {
	if !strings.Contains(token, "/") {
		addr, err := netip.ParseAddr(token)
		if err != nil {
			return "", false, false
		}
		addr = addr.Unmap()
		if !blockable(addr) {
			return "", false, true
		}
		return security.StoredAddress(addr.String(), anonymize), true, true
	}

	prefix, err := netip.ParsePrefix(token)
	if err != nil {
		return "", false, false
	}
	prefix = prefix.Masked()
	addr := prefix.Addr()

	switch {
	case !blockable(addr):
		return "", false, true
	case prefix.IsSingleIP():
		return security.StoredAddress(addr.String(), anonymize), true, true
	case anonymize && addr.Is4() && prefix.Bits() >= 24:
		return security.AnonymizeIP(addr.String()), true, true
	default:
		return "", false, true
	}
}

// blockable rejects placeholders such as the 0.0.0.0 of hosts-style lists.
func blockable(addr netip.Addr) bool {
	return !addr.IsUnspecified() && !addr.IsLoopback()
}

// StartImportRoutine imports the configured sources on the blocklist timer
// under the job's leader lock until ctx is done. Passes with no sources
// configured do nothing.
func StartImportRoutine(ctx context.Context, importer *Importer) {
	runtime.StartScheduled(ctx, runtime.Schedule{
		Name:     importJobName,
		Interval: config.GetBlocklistInterval(),
		Updates:  config.BlocklistIntervalUpdates(),
		Run: func(ctx context.Context) {
			runImport(ctx, importer)
		},
	})
}

func runImport(ctx context.Context, importer *Importer) {
	cfg := config.GetConfig()
	if len(cfg.Blocklist.Sources) == 0 {
		return
	}

	start := time.Now()
	outcome, err := importer.Import(ctx, cfg.Blocklist.Sources, cfg.Security.AnonymizeIP, start)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("Blocklist import failed", "error", err)
		}
		return
	}

	log.Info("Blocklist import completed",
		"sources", outcome.Sources,
		"failed", outcome.Failed,
		"added", outcome.Added,
		"skipped", outcome.Skipped,
		"duration", time.Since(start),
	)
}
