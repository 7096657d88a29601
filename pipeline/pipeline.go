package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 30 * time.Second

// Rejection reasons reported by GetMetrics and Prometheus.
const (
	RejectEmpty     = "empty_record"
	RejectZeroBid   = "zero_bid"
	RejectNoTitle   = "missing_title"
	RejectDuplicate = "duplicate_url"
	RejectMalformed = "malformed_record"
)

// OutputWriter receives batches of enriched listings.
type OutputWriter interface {
	Write(listings []*models.Listing) error
	Close() error
	Validate() error
}

type job struct {
	index int
	rec   models.RawRecord
}

// Pipeline normalizes raw records on a worker pool, drops unusable ones and
// hands the survivors to an OutputWriter in batches.
type Pipeline struct {
	ctx        context.Context
	writer     OutputWriter
	normalizer *Normalizer
	now        func() time.Time
	prom       *metrics.Metrics
	strict     bool

	jobs      chan job
	batchSize int
	seq       atomic.Int64

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	counters counters

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithNormalizer replaces the normalizer built from cfg.TargetURL.
func WithNormalizer(n *Normalizer) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithClock sets the timestamp source used for scrapedAt and hoursLeft.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMetrics mirrors the pipeline counters into Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.prom = m
	}
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config, opts ...Option) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	dedupeSize := cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 10000
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		// Only reachable with a non-positive size, which is guarded above.
		panic(fmt.Sprintf("pipeline: dedupe cache: %v", err))
	}

	p := &Pipeline{
		ctx:        ctx,
		writer:     writer,
		normalizer: NewNormalizer(cfg.TargetURL),
		now:        time.Now,
		strict:     cfg.StrictRecords,
		jobs:       make(chan job, bufferSize),
		batchSize:  batchSize,
		seen:       seen,
		counters:   newCounters(),
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records in extraction order. Each record is numbered as
// it is accepted, so listing ids follow the order of Process calls.
func (p *Pipeline) Process(records ...models.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, rec := range records {
		index := int(p.seq.Add(1) - 1)
		if err := p.enqueue(job{index: index, rec: rec}); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.jobs)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.setErr(ErrPipelineCloseTimeout)
	}
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.counters.snapshot()
}

// Processed is the number of listings handed to the writer so far.
func (p *Pipeline) Processed() int64 {
	return p.counters.processedCount()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Any("processed", snapshot["processed_listings"]),
					slog.Any("rejected", snapshot["rejected_records"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Listing, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = make([]*models.Listing, 0, p.batchSize)
		return nil
	}

	for j := range p.jobs {
		listing := p.prepare(j)
		if listing == nil {
			continue
		}
		batch = append(batch, listing)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

// prepare returns nil for records that cannot become a usable listing.
func (p *Pipeline) prepare(j job) (listing *models.Listing) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("dropping malformed record", slog.Int("index", j.index), slog.Any("panic", r))
			p.reject(RejectMalformed)
			listing = nil
		}
	}()

	if len(j.rec) == 0 {
		p.reject(RejectEmpty)
		return nil
	}
	if p.strict {
		if bid, ok := p.normalizer.Bid(j.rec); !ok || bid <= 0 {
			p.reject(RejectZeroBid)
			return nil
		}
	}

	listing = p.normalizer.Normalize(j.rec, j.index, p.now())
	if p.strict && listing.Title == "" {
		p.reject(RejectNoTitle)
		return nil
	}
	if listing.URL != "" {
		if found, _ := p.seen.ContainsOrAdd(listing.URL, struct{}{}); found {
			p.reject(RejectDuplicate)
			return nil
		}
	}

	p.counters.incrementProcessed()
	p.prom.IncListing()
	return listing
}

func (p *Pipeline) reject(reason string) {
	p.counters.addRejected(reason)
	p.prom.IncRejected(reason)
}

func (p *Pipeline) enqueue(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- j:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type counters struct {
	mu        sync.Mutex
	processed int64
	rejected  map[string]int
}

func newCounters() counters {
	return counters{
		rejected: make(map[string]int),
	}
}

func (c *counters) incrementProcessed() {
	c.mu.Lock()
	c.processed++
	c.mu.Unlock()
}

func (c *counters) processedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

func (c *counters) addRejected(reason string) {
	c.mu.Lock()
	c.rejected[reason]++
	c.mu.Unlock()
}

func (c *counters) snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := make(map[string]int, len(c.rejected))
	for k, v := range c.rejected {
		rejected[k] = v
	}

	return map[string]interface{}{
		"processed_listings": c.processed,
		"rejected_records":   rejected,
	}
}
