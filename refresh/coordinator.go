// Package refresh owns the listing cache. A Coordinator runs at most one
// refresh at a time and publishes each committed collection as an immutable
// Snapshot that readers load without locking.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
)

var (
	// ErrRefreshInProgress is returned by Start when a trigger joined an
	// attempt that was already running.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrEmptyRefresh marks an attempt whose extraction produced no usable
	// listings. The previous collection is kept.
	ErrEmptyRefresh = errors.New("refresh produced no listings")
)

// Trigger reasons, used in logs and metrics.
const (
	TriggerStartup   = "startup"
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerStale     = "stale"
	TriggerEmpty     = "empty"
	TriggerDigest    = "digest"
)

// Extractor produces raw records for one refresh.
type Extractor interface {
	Extract(ctx context.Context, target string) ([]models.RawRecord, error)
}

// Builder turns raw records into an enriched listing collection.
type Builder interface {
	Build(ctx context.Context, records []models.RawRecord) ([]*models.Listing, error)
}

// Snapshot is the cache state at one instant. Snapshots are never modified
// after they are published.
type Snapshot struct {
	Listings    []*models.Listing
	RefreshedAt time.Time // zero until the first successful refresh
	Refreshing  bool
	LastError   error
}

// Empty reports whether the snapshot holds no listings.
func (s *Snapshot) Empty() bool {
	return len(s.Listings) == 0
}

// Stale reports whether the collection is empty or older than threshold.
func (s *Snapshot) Stale(now time.Time, threshold time.Duration) bool {
	if s.Empty() || s.RefreshedAt.IsZero() {
		return true
	}
	return now.Sub(s.RefreshedAt) > threshold
}

// Attempt is one refresh run. Done is closed when the attempt has committed
// or failed.
type Attempt struct {
	Reason    string
	StartedAt time.Time

	done chan struct{}
	err  error
}

// Done returns a channel closed when the attempt finishes.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Err returns the attempt's failure. Only meaningful after Done is closed.
func (a *Attempt) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Coordinator serialises refreshes and publishes their results.
type Coordinator struct {
	base      context.Context
	extractor Extractor
	builder   Builder
	target    string
	timeout   time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	inflight *Attempt
	state    atomic.Pointer[Snapshot]
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used to stamp refreshes.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics publishes refresh outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator returns a Coordinator with an empty cache. Refreshes run
// under ctx, each bounded by cfg.RefreshTimeout, so they outlive the request
// that triggered them but not the process.
func NewCoordinator(ctx context.Context, cfg *config.Config, extractor Extractor, builder Builder, opts ...Option) *Coordinator {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Coordinator{
		base:      ctx,
		extractor: extractor,
		builder:   builder,
		target:    cfg.TargetURL,
		timeout:   cfg.RefreshTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(&Snapshot{})
	return c
}

// Snapshot returns the current cache state.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.state.Load()
}

// Trigger starts a refresh unless one is running. It returns the attempt the
// caller should wait on and whether this call started it.
func (c *Coordinator) Trigger(reason string) (*Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		slog.Debug("refresh already running, joining",
			slog.String("reason", reason),
			slog.String("running", c.inflight.Reason),
		)
		return c.inflight, false
	}

	attempt := &Attempt{
		Reason:    reason,
		StartedAt: c.now(),
		done:      make(chan struct{}),
	}
	c.inflight = attempt

	prev := c.state.Load()
	c.state.Store(&Snapshot{
		Listings:    prev.Listings,
		RefreshedAt: prev.RefreshedAt,
		Refreshing:  true,
	})

	go c.run(attempt)
	return attempt, true
}

// Start triggers a refresh without waiting for it. It returns
// ErrRefreshInProgress when an attempt was already running.
func (c *Coordinator) Start(reason string) error {
	if _, started := c.Trigger(reason); !started {
		return ErrRefreshInProgress
	}
	return nil
}

// Refresh triggers a refresh, or joins the running one, and waits for it.
func (c *Coordinator) Refresh(ctx context.Context, reason string) error {
	attempt, _ := c.Trigger(reason)
	select {
	case <-attempt.Done():
		return attempt.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run triggers a refresh every interval until ctx is done. When immediate is
// set the first refresh starts right away.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration, immediate bool) {
	if immediate {
		c.Trigger(TriggerStartup)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Start(TriggerScheduled); err != nil {
				slog.Info("scheduled refresh skipped", slog.Any("error", err))
			}
		}
	}
}

func (c *Coordinator) run(attempt *Attempt) {
	slog.Info("refresh started", slog.String("reason", attempt.Reason))

	listings, err := c.attempt()
	c.commit(attempt, listings, err)
}

func (c *Coordinator) attempt() (listings []*models.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(c.base, c.timeout)
	defer cancel()

	records, err := c.extractor.Extract(ctx, c.target)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", c.target, err)
	}
	listings, err = c.builder.Build(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("build listings: %w", err)
	}
	if len(listings) == 0 {
		return nil, fmt.Errorf("%d records: %w", len(records), ErrEmptyRefresh)
	}
	return listings, nil
}

// commit publishes the outcome of attempt and releases the single-flight slot.
func (c *Coordinator) commit(attempt *Attempt, listings []*models.Listing, err error) {
	c.mu.Lock()
	prev := c.state.Load()
	next := &Snapshot{
		Listings:    prev.Listings,
		RefreshedAt: prev.RefreshedAt,
		LastError:   err,
	}
	if err == nil {
		next.Listings = listings
		next.RefreshedAt = c.now()
	}
	c.state.Store(next)
	c.inflight = nil
	attempt.err = err
	close(attempt.done)
	c.mu.Unlock()

	elapsed := c.now().Sub(attempt.StartedAt)
	if err != nil {
		c.metrics.ObserveRefresh(attempt.Reason, "failure", elapsed)
		slog.Warn("refresh failed",
			slog.String("reason", attempt.Reason),
			slog.Int("cached", len(next.Listings)),
			slog.Any("error", err),
		)
		return
	}
	c.metrics.ObserveRefresh(attempt.Reason, "success", elapsed)
	c.metrics.SetCache(len(next.Listings), next.RefreshedAt)
	slog.Info("refresh committed",
		slog.String("reason", attempt.Reason),
		slog.Int("listings", len(next.Listings)),
		slog.Duration("duration", elapsed),
	)
}
