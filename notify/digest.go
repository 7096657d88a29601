package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/query"
	"github.com/aluiziolira/go-auction-deals/refresh"
)

// Cache is the listing cache a digest reads from.
type Cache interface {
	Snapshot() *refresh.Snapshot
	Refresh(ctx context.Context, reason string) error
}

// Digest picks the top listings and hands them to a Notifier.
type Digest struct {
	cache      Cache
	notifier   Notifier
	topN       int
	staleAfter time.Duration
	timeout    time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewDigest builds a digest job from cfg.
func NewDigest(cache Cache, notifier Notifier, cfg *config.Config, m *metrics.Metrics) *Digest {
	return &Digest{
		cache:      cache,
		notifier:   notifier,
		topN:       cfg.DigestTopN,
		staleAfter: cfg.StaleAfter,
		timeout:    cfg.RefreshTimeout,
		metrics:    m,
		now:        time.Now,
	}
}

// Run sends one digest. A stale cache is refreshed first; if that refresh
// fails the digest goes out with whatever the cache still holds.
func (d *Digest) Run(ctx context.Context) error {
	snap := d.cache.Snapshot()
	if snap.Stale(d.now(), d.staleAfter) {
		refreshCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.cache.Refresh(refreshCtx, refresh.TriggerDigest)
		cancel()
		if err != nil {
			slog.Warn("digest refresh failed, using cached listings", slog.Any("error", err))
		}
		snap = d.cache.Snapshot()
	}

	picks := query.Top(snap.Listings, d.topN)
	if err := d.notifier.Notify(ctx, picks); err != nil {
		d.metrics.IncDigest("failure")
		return fmt.Errorf("digest: %w", err)
	}
	d.metrics.IncDigest("success")
	return nil
}

// Scheduler runs a Digest on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	digest *Digest
}

// NewScheduler registers digest under the standard five-field cron expression.
func NewScheduler(spec string, digest *Digest, timeout time.Duration) (*Scheduler, error) {
	c := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := digest.Run(ctx); err != nil {
			slog.Error("scheduled digest failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule digest %q: %w", spec, err)
	}
	return &Scheduler{cron: c, digest: digest}, nil
}

// Start begins running scheduled digests in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		slog.Info("digest scheduled", slog.Time("next", entry.Next))
	}
}

// Stop stops the scheduler and waits for a running digest up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger routes cron's logging into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
