package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Listing
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(listings []*models.Listing) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.Listing, len(listings))
	copy(copyBatch, listings)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(listings []*models.Listing) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{}

func (failingWriter) Write([]*models.Listing) error { return errors.New("disk full") }
func (failingWriter) Close() error                  { return nil }
func (failingWriter) Validate() error               { return nil }

func auction(i int) models.RawRecord {
	return models.RawRecord{
		"title":      "2008 Mazda MX-5 Miata",
		"currentBid": float64(9000 + i),
		"url":        "https://carsandbids.com/auctions/" + strconv.Itoa(i),
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	valid := auction(1)
	zeroBid := models.RawRecord{"title": "1999 Mazda MX-5 Miata", "currentBid": float64(0), "url": "/auctions/2"}
	untitled := models.RawRecord{"currentBid": float64(500), "url": "/auctions/3"}
	duplicate := auction(1)

	if err := p.Process(valid, zeroBid, untitled, duplicate, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written listings = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	rejected, ok := metrics["rejected_records"].(map[string]int)
	if !ok {
		t.Fatalf("expected rejected records map")
	}
	for _, reason := range []string{RejectZeroBid, RejectNoTitle, RejectDuplicate, RejectEmpty} {
		if rejected[reason] != 1 {
			t.Fatalf("rejected[%s] = %d, want 1 (all: %v)", reason, rejected[reason], rejected)
		}
	}
	if processed := metrics["processed_listings"].(int64); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestPipelineLenientModeKeepsZeroBids(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StrictRecords = false
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(models.RawRecord{"title": "Project car"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written listings = %d, want 1", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(auction(i)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(auction(i + 200)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written listings = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(auction(1)); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("Process after Close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineWriterErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	p := NewPipeline(context.Background(), failingWriter{}, cfg)
	p.Start(1)

	_ = p.Process(auction(1))
	if err := p.Close(); err == nil {
		t.Fatalf("expected write error from Close")
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(auction(7)); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

func TestEnrichPreservesExtractionOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workers = 4
	cfg.BatchSize = 3

	records := make([]models.RawRecord, 0, 50)
	for i := 0; i < 50; i++ {
		records = append(records, auction(i))
	}
	records[10] = models.RawRecord{"title": "no bid"}

	listings, err := Enrich(context.Background(), cfg, records, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(listings) != 49 {
		t.Fatalf("listings = %d, want 49", len(listings))
	}
	for i := 1; i < len(listings); i++ {
		if lotIndex(listings[i-1].ID) >= lotIndex(listings[i].ID) {
			t.Fatalf("listings out of order at %d: %s then %s", i, listings[i-1].ID, listings[i].ID)
		}
	}
	if listings[10].ID != "lot-12" {
		t.Fatalf("listing after dropped record has id %s, want lot-12", listings[10].ID)
	}
	for _, l := range listings {
		if !l.ScrapedAt.Equal(fixedNow) {
			t.Fatalf("ScrapedAt = %v, want injected clock", l.ScrapedAt)
		}
	}
}

func TestBuilderExportsSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SnapshotFile = filepath.Join(dir, "out", "listings.jsonl")
	cfg.SnapshotFormat = config.SnapshotJSON

	b := NewBuilder(cfg, nil)
	listings, err := b.Build(context.Background(), []models.RawRecord{auction(1), auction(2)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("listings = %d, want 2", len(listings))
	}
	info, err := os.Stat(cfg.SnapshotFile)
	if err != nil || info.Size() == 0 {
		t.Fatalf("snapshot missing or empty: %v", err)
	}
}
