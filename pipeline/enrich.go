package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
)

// ListingCollector is an in-memory OutputWriter.
type ListingCollector struct {
	mu       sync.Mutex
	listings []*models.Listing
}

// Write appends listings to the collection.
func (c *ListingCollector) Write(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings = append(c.listings, listings...)
	return nil
}

// Close is a no-op.
func (c *ListingCollector) Close() error { return nil }

// Validate is a no-op; an empty collection is valid.
func (c *ListingCollector) Validate() error { return nil }

// Listings returns the collected listings in extraction order.
func (c *ListingCollector) Listings() []*models.Listing {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.Listing, len(c.listings))
	copy(out, c.listings)
	sort.SliceStable(out, func(i, j int) bool {
		return lotIndex(out[i].ID) < lotIndex(out[j].ID)
	})
	return out
}

// Enrich runs records through a pipeline and returns the surviving listings
// in the order their records were extracted.
func Enrich(ctx context.Context, cfg *config.Config, records []models.RawRecord, opts ...Option) ([]*models.Listing, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	collector := &ListingCollector{}
	p := NewPipeline(ctx, collector, cfg, opts...)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(5 * time.Second)
	}

	if err := p.Process(records...); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("enrich records: %w", err)
	}
	if err := p.Close(); err != nil {
		return nil, fmt.Errorf("enrich records: %w", err)
	}

	listings := collector.Listings()
	slog.Debug("enrichment finished",
		slog.Int("records", len(records)),
		slog.Int("listings", len(listings)),
		slog.Int64("processed", p.Processed()),
		slog.Any("rejected", p.GetMetrics()["rejected_records"]),
	)
	return listings, nil
}

// Builder turns extracted records into a listing collection and, when a
// snapshot file is configured, exports that collection.
type Builder struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	opts    []Option
}

// NewBuilder returns a Builder for cfg.
func NewBuilder(cfg *config.Config, m *metrics.Metrics, opts ...Option) *Builder {
	return &Builder{cfg: cfg, metrics: m, opts: opts}
}

// Build enriches records and writes the snapshot export.
func (b *Builder) Build(ctx context.Context, records []models.RawRecord) ([]*models.Listing, error) {
	opts := append([]Option{WithMetrics(b.metrics)}, b.opts...)
	listings, err := Enrich(ctx, b.cfg, records, opts...)
	if err != nil {
		return nil, err
	}
	if b.cfg.SnapshotFile != "" && len(listings) > 0 {
		if err := ExportSnapshot(b.cfg.SnapshotFormat, b.cfg.SnapshotFile, listings); err != nil {
			// The export is a side channel; the collection is still usable.
			slog.Warn("snapshot export failed", slog.String("path", b.cfg.SnapshotFile), slog.Any("error", err))
		}
	}
	return listings, nil
}

// ExportSnapshot writes listings to path in the given format.
func ExportSnapshot(format, path string, listings []*models.Listing) error {
	writer, err := NewSnapshotWriter(format, path)
	if err != nil {
		return err
	}
	if err := writer.Write(listings); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return writer.Validate()
}
