package runtime

import (
	"context"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/geo"
	"gatekeeper/internal/metrics"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEventQueueSize     = 4096
	defaultEventBatchSize     = 200
	defaultEventFlushInterval = 2 * time.Second
	defaultGeoTimeout         = 800 * time.Millisecond
	defaultEnrichTimeout      = 10 * time.Second
	eventInsertTimeout        = 30 * time.Second
	geoLookupConcurrency      = 8
)

type RequestEventStore interface {
	InsertRequestEvents(ctx context.Context, events []domain.RequestEvent) error
}

type RequestEventWriterOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Locator       geo.Locator
	GeoTimeout    time.Duration
	// EnrichTimeout bounds the country lookups of one batch.
	EnrichTimeout time.Duration
}

// RequestEventWriter buffers request events from the activity logger, adds
// the country and writes them in batches. Enqueue never blocks. Batches are
// written one at a time, so a slow store fills the queue and Enqueue drops.
type RequestEventWriter struct {
	store RequestEventStore
	opts  RequestEventWriterOptions
	queue chan domain.RequestEvent
}

func NewRequestEventWriter(store RequestEventStore, opts RequestEventWriterOptions) *RequestEventWriter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultEventQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultEventBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultEventFlushInterval
	}
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = defaultGeoTimeout
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = defaultEnrichTimeout
	}

	return &RequestEventWriter{
		store: store,
		opts:  opts,
		queue: make(chan domain.RequestEvent, opts.QueueSize),
	}
}

func (w *RequestEventWriter) Enqueue(event domain.RequestEvent) bool {
	select {
	case w.queue <- event:
		metrics.ActivityEvents.WithLabelValues("enqueued").Inc()
		metrics.ActivityQueueDepth.Inc()
		return true
	default:
		metrics.ActivityEvents.WithLabelValues("dropped").Inc()
		return false
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (w *RequestEventWriter) Run(ctx context.Context) {
	var buffer []domain.RequestEvent
	timer := time.NewTimer(w.opts.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain(&buffer)
			w.flush(&buffer)
			return
		case event := <-w.queue:
			metrics.ActivityQueueDepth.Dec()
			buffer = append(buffer, event)
			if len(buffer) >= w.opts.BatchSize {
				w.flush(&buffer)
				resetTimer(timer, w.opts.FlushInterval)
			}
		case <-timer.C:
			w.flush(&buffer)
			timer.Reset(w.opts.FlushInterval)
		}
	}
}

func (w *RequestEventWriter) drain(buffer *[]domain.RequestEvent) {
	for {
		select {
		case event := <-w.queue:
			metrics.ActivityQueueDepth.Dec()
			*buffer = append(*buffer, event)
		default:
			return
		}
	}
}

func (w *RequestEventWriter) flush(buffer *[]domain.RequestEvent) {
	if len(*buffer) == 0 {
		return
	}

	batch := *buffer
	*buffer = nil

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Request event flush panicked", "panic", rec, "count", len(batch))
			metrics.ActivityEvents.WithLabelValues("failed").Add(float64(len(batch)))
		}
	}()

	enrichCtx, cancelEnrich := context.WithTimeout(context.Background(), w.opts.EnrichTimeout)
	w.enrich(enrichCtx, batch)
	cancelEnrich()

	ctx, cancel := context.WithTimeout(context.Background(), eventInsertTimeout)
	defer cancel()
	w.persist(ctx, batch)
}

// enrich fills in the country. Lookups run with a hard timeout and are
// never retried; a failed lookup leaves the country empty.
func (w *RequestEventWriter) enrich(ctx context.Context, events []domain.RequestEvent) {
	if w.opts.Locator == nil {
		return
	}

	var g errgroup.Group
	g.SetLimit(geoLookupConcurrency)
	for i := range events {
		if events[i].Country != nil {
			continue
		}
		g.Go(func() error {
			events[i].Country, events[i].CountryCode = geo.Resolve(ctx, w.opts.Locator, events[i].IPAddress, w.opts.GeoTimeout)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *RequestEventWriter) persist(ctx context.Context, events []domain.RequestEvent) {
	err := w.store.InsertRequestEvents(ctx, events)
	if err == nil {
		metrics.ActivityEvents.WithLabelValues("persisted").Add(float64(len(events)))
		return
	}

	log.Warn("Batch insert of request events failed, retrying row by row", "error", err, "count", len(events))

	var persisted, failed int
	for i := range events {
		row := events[i : i+1]
		row[0].ID = 0
		err := w.store.InsertRequestEvents(ctx, row)
		if err != nil && row[0].UserID != nil {
			// The user may have been deleted since the token was issued.
			row[0].UserID = nil
			err = w.store.InsertRequestEvents(ctx, row)
		}
		if err != nil {
			failed++
			log.Debug("Dropping request event", "path", row[0].Path, "error", err)
			continue
		}
		persisted++
	}

	metrics.ActivityEvents.WithLabelValues("persisted").Add(float64(persisted))
	metrics.ActivityEvents.WithLabelValues("failed").Add(float64(failed))
	if failed > 0 {
		log.Error("Request events dropped after retry", "failed", failed, "persisted", persisted)
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
