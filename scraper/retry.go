package scraper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
)

// retryManager schedules delayed re-requests with capped exponential backoff.
type retryManager struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	ctx     context.Context

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	totalRetries int
	stopped      bool

	pending      sync.WaitGroup
	pendingCount int
}

func newRetryManager(cfg *config.Config, m *metrics.Metrics) *retryManager {
	return &retryManager{
		cfg:      cfg,
		metrics:  m,
		attempts: make(map[string]int),
		timers:   make(map[string]*time.Timer),
		ctx:      context.Background(),
	}
}

// Schedule arranges for retry to run after the backoff for url's next
// attempt. It reports false when the retry budget is spent.
func (rm *retryManager) Schedule(url string, retry func() error) bool {
	if rm.cfg.MaxRetries == 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped || rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()

	rm.resetTimerLocked(url)
	rm.pending.Add(1)
	rm.pendingCount++
	rm.timers[url] = time.AfterFunc(rm.backoff(attempt), func() {
		rm.fireRetry(url, retry)
	})
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if limit := rm.cfg.RetryBackoffMax; limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

func (rm *retryManager) resetTimerLocked(url string) {
	if timer, ok := rm.timers[url]; ok {
		if timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) fireRetry(url string, retry func() error) {
	rm.mu.Lock()
	delete(rm.timers, url)
	skip := rm.stopped || rm.ctx.Err() != nil
	rm.mu.Unlock()

	if !skip {
		if err := retry(); err != nil {
			slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
		}
	}

	rm.mu.Lock()
	rm.doneLocked()
	rm.mu.Unlock()
}

func (rm *retryManager) doneLocked() {
	rm.pendingCount--
	rm.pending.Done()
}

// Wait blocks until every scheduled retry has fired or been cancelled. It
// reports whether any were pending.
func (rm *retryManager) Wait() bool {
	rm.mu.Lock()
	n := rm.pendingCount
	rm.mu.Unlock()
	if n == 0 {
		return false
	}
	rm.pending.Wait()
	return true
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, timer := range rm.timers {
		if timer.Stop() {
			rm.doneLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
