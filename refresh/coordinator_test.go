package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
)

// gatedExtractor blocks every call until release is closed, then returns
// its configured result.
type gatedExtractor struct {
	mu      sync.Mutex
	records []models.RawRecord
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func newGatedExtractor(n int) *gatedExtractor {
	g := &gatedExtractor{release: make(chan struct{})}
	close(g.release)
	g.set(n, nil)
	return g
}

func (g *gatedExtractor) set(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = make([]models.RawRecord, n)
	for i := range g.records {
		g.records[i] = models.RawRecord{"title": fmt.Sprintf("200%d Lotus Elise", i)}
	}
	g.err = err
}

func (g *gatedExtractor) hold() {
	g.mu.Lock()
	g.release = make(chan struct{})
	g.mu.Unlock()
}

func (g *gatedExtractor) open() {
	g.mu.Lock()
	close(g.release)
	g.mu.Unlock()
}

func (g *gatedExtractor) Extract(ctx context.Context, _ string) ([]models.RawRecord, error) {
	g.calls.Add(1)
	g.mu.Lock()
	release, records, err := g.release, g.records, g.err
	g.mu.Unlock()

	select {
	case <-release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return records, err
}

type countingBuilder struct{}

func (countingBuilder) Build(_ context.Context, records []models.RawRecord) ([]*models.Listing, error) {
	listings := make([]*models.Listing, len(records))
	for i := range records {
		listings[i] = &models.Listing{ID: fmt.Sprintf("lot-%d", i+1)}
	}
	return listings, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RefreshTimeout = time.Second
	return cfg
}

func waitDone(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh %q did not finish", a.Reason)
	}
}

func TestTriggerIsSingleFlight(t *testing.T) {
	ext := newGatedExtractor(3)
	ext.hold()
	c := NewCoordinator(context.Background(), testConfig(), ext, countingBuilder{})

	first, started := c.Trigger(TriggerManual)
	if !started {
		t.Fatalf("first trigger should start a refresh")
	}

	var wg sync.WaitGroup
	var startedCount atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt, started := c.Trigger(TriggerStale)
			if started {
				startedCount.Add(1)
			}
			if attempt != first {
				t.Errorf("trigger while refreshing should join the running attempt")
			}
		}()
	}
	wg.Wait()

	if got := startedCount.Load(); got != 0 {
		t.Fatalf("%d concurrent triggers started a refresh, want 0", got)
	}
	if err := c.Start(TriggerManual); !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("Start while refreshing = %v, want ErrRefreshInProgress", err)
	}
	if !c.Snapshot().Refreshing {
		t.Fatalf("snapshot should report a refresh in progress")
	}

	ext.open()
	waitDone(t, first)

	if got := ext.calls.Load(); got != 1 {
		t.Fatalf("extract calls = %d, want 1", got)
	}
	snap := c.Snapshot()
	if snap.Refreshing || len(snap.Listings) != 3 || snap.LastError != nil {
		t.Fatalf("unexpected snapshot after commit: %+v", snap)
	}
}

func TestFailedRefreshKeepsPreviousListings(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	ext := newGatedExtractor(2)
	c := NewCoordinator(context.Background(), testConfig(), ext, countingBuilder{}, WithClock(clock))

	if err := c.Refresh(context.Background(), TriggerManual); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	before := c.Snapshot()
	if !before.RefreshedAt.Equal(t0) {
		t.Fatalf("refreshedAt = %v, want %v", before.RefreshedAt, t0)
	}

	clockMu.Lock()
	now = t0.Add(30 * time.Minute)
	clockMu.Unlock()

	boom := errors.New("target returned a captcha")
	ext.set(0, boom)
	err := c.Refresh(context.Background(), TriggerScheduled)
	if !errors.Is(err, boom) {
		t.Fatalf("refresh error = %v, want %v", err, boom)
	}

	after := c.Snapshot()
	if len(after.Listings) != len(before.Listings) {
		t.Fatalf("listings changed on failure: %d -> %d", len(before.Listings), len(after.Listings))
	}
	for i := range before.Listings {
		if after.Listings[i] != before.Listings[i] {
			t.Fatalf("listing %d replaced on failure", i)
		}
	}
	if !after.RefreshedAt.Equal(t0) {
		t.Fatalf("refreshedAt moved on failure: %v", after.RefreshedAt)
	}
	if !errors.Is(after.LastError, boom) {
		t.Fatalf("lastError = %v, want %v", after.LastError, boom)
	}
}

func TestLastErrorClearedWhenAttemptStarts(t *testing.T) {
	ext := newGatedExtractor(0)
	ext.set(0, errors.New("connection reset"))
	c := NewCoordinator(context.Background(), testConfig(), ext, countingBuilder{})

	if err := c.Refresh(context.Background(), TriggerManual); err == nil {
		t.Fatalf("expected first refresh to fail")
	}
	if c.Snapshot().LastError == nil {
		t.Fatalf("lastError should be recorded")
	}

	ext.set(4, nil)
	ext.hold()
	attempt, _ := c.Trigger(TriggerManual)
	if err := c.Snapshot().LastError; err != nil {
		t.Fatalf("lastError should be cleared while refreshing, got %v", err)
	}
	ext.open()
	waitDone(t, attempt)

	snap := c.Snapshot()
	if snap.LastError != nil || len(snap.Listings) != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEmptyExtractionIsFailure(t *testing.T) {
	c := NewCoordinator(context.Background(), testConfig(), newGatedExtractor(0), countingBuilder{})

	err := c.Refresh(context.Background(), TriggerManual)
	if !errors.Is(err, ErrEmptyRefresh) {
		t.Fatalf("error = %v, want ErrEmptyRefresh", err)
	}
	if !c.Snapshot().RefreshedAt.IsZero() {
		t.Fatalf("failed refresh must not stamp refreshedAt")
	}
}

func TestRefreshTimeout(t *testing.T) {
	ext := newGatedExtractor(1)
	ext.hold()
	cfg := testConfig()
	cfg.RefreshTimeout = 20 * time.Millisecond
	c := NewCoordinator(context.Background(), cfg, ext, countingBuilder{})

	err := c.Refresh(context.Background(), TriggerManual)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	ext.open()
}

func TestRefreshReturnsWhenCallerGivesUp(t *testing.T) {
	ext := newGatedExtractor(1)
	ext.hold()
	c := NewCoordinator(context.Background(), testConfig(), ext, countingBuilder{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Refresh(ctx, TriggerManual); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want the caller's deadline", err)
	}

	attempt, started := c.Trigger(TriggerManual)
	if started {
		t.Fatalf("abandoned refresh should still be in flight")
	}
	ext.open()
	waitDone(t, attempt)
	if len(c.Snapshot().Listings) != 1 {
		t.Fatalf("abandoned refresh should still commit")
	}
}

func TestRunRefreshesOnSchedule(t *testing.T) {
	ext := newGatedExtractor(1)
	c := NewCoordinator(context.Background(), testConfig(), ext, countingBuilder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond, true)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ext.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated refreshes, got %d", ext.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSnapshotStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	listings := []*models.Listing{{ID: "lot-1"}}

	tests := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"empty", Snapshot{}, true},
		{"never refreshed", Snapshot{Listings: listings}, true},
		{"fresh", Snapshot{Listings: listings, RefreshedAt: now.Add(-5 * time.Minute)}, false},
		{"at threshold", Snapshot{Listings: listings, RefreshedAt: now.Add(-20 * time.Minute)}, false},
		{"old", Snapshot{Listings: listings, RefreshedAt: now.Add(-21 * time.Minute)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.Stale(now, 20*time.Minute); got != tt.want {
				t.Fatalf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}
