// Package query filters and ranks the cached listings for API requests.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/refresh"
)

// ErrNoListings is returned when the cache is empty and the last refresh
// failed. It wraps the refresh failure.
var ErrNoListings = errors.New("no listings available")

// DefaultCloseHours is the closing window used when a request sets none.
const DefaultCloseHours = 24.0

// Params select which listings a query returns.
type Params struct {
	CloseHours    float64
	MinDiscount   float64
	MaxBudget     *int
	NoReserveOnly bool
}

// DefaultParams returns the parameters of a request with no query string.
func DefaultParams() Params {
	return Params{CloseHours: DefaultCloseHours}
}

// ParseParams reads Params from URL query values. Absent or empty values keep
// their defaults.
func ParseParams(values url.Values) (Params, error) {
	p := DefaultParams()

	if raw := strings.TrimSpace(values.Get("closeHours")); raw != "" {
		v, err := parseFinite(raw)
		if err != nil || v < 0 {
			return Params{}, fmt.Errorf("closeHours must be a non-negative number, got %q", raw)
		}
		p.CloseHours = v
	}
	if raw := strings.TrimSpace(values.Get("minDiscount")); raw != "" {
		v, err := parseFinite(raw)
		if err != nil {
			return Params{}, fmt.Errorf("minDiscount must be a number, got %q", raw)
		}
		p.MinDiscount = v
	}
	if raw := strings.TrimSpace(values.Get("maxBudget")); raw != "" {
		v, err := parseFinite(raw)
		if err != nil || v < 0 {
			return Params{}, fmt.Errorf("maxBudget must be a non-negative number, got %q", raw)
		}
		// No bid can exceed MaxInt32, so larger budgets do not bound anything.
		if v < math.MaxInt32 {
			budget := int(v)
			p.MaxBudget = &budget
		}
	}
	if raw := strings.TrimSpace(values.Get("noReserveOnly")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Params{}, fmt.Errorf("noReserveOnly must be a boolean, got %q", raw)
		}
		p.NoReserveOnly = v
	}
	return p, nil
}

// parseFinite is strconv.ParseFloat rejecting NaN and infinities.
func parseFinite(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", raw)
	}
	return v, nil
}

// Matches reports whether l passes every clause of p.
func (p Params) Matches(l *models.Listing) bool {
	if l.HoursLeft > p.CloseHours {
		return false
	}
	if float64(l.DiscountPct) < p.MinDiscount {
		return false
	}
	if p.MaxBudget != nil && l.CurrentBid > *p.MaxBudget {
		return false
	}
	if p.NoReserveOnly && !l.NoReserve {
		return false
	}
	return true
}

// Result is a filtered, ranked view of one cache snapshot.
type Result struct {
	Listings    []*models.Listing
	Total       int
	RefreshedAt time.Time
	Refreshing  bool
}

// Source is the cache the engine reads from.
type Source interface {
	Snapshot() *refresh.Snapshot
	Trigger(reason string) (*refresh.Attempt, bool)
}

// Engine answers listing queries against a refresh Coordinator.
type Engine struct {
	source     Source
	staleAfter time.Duration
	emptyWait  time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics counts query outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine returns an Engine over source using the staleness and empty
// cache wait from cfg.
func NewEngine(source Source, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		staleAfter: cfg.StaleAfter,
		emptyWait:  cfg.EmptyCacheWait,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns the cached listings matching p, best deals first.
//
// A stale cache triggers a background refresh and is served as is. An empty
// cache also triggers one, and the call waits for it up to the configured
// bound or until ctx is done, then serves whatever the cache holds.
func (e *Engine) Query(ctx context.Context, p Params) (*Result, error) {
	snap := e.source.Snapshot()

	if snap.Stale(e.now(), e.staleAfter) {
		reason := refresh.TriggerStale
		if snap.Empty() {
			reason = refresh.TriggerEmpty
		}
		attempt, _ := e.source.Trigger(reason)

		if snap.Empty() {
			e.await(ctx, attempt)
			snap = e.source.Snapshot()
		}
	}

	if snap.Empty() && snap.LastError != nil {
		e.metrics.IncQuery("error")
		return nil, fmt.Errorf("%w: %w", ErrNoListings, snap.LastError)
	}

	ranked := Rank(Filter(snap.Listings, p))
	e.metrics.IncQuery("ok")
	return &Result{
		Listings:    ranked,
		Total:       len(ranked),
		RefreshedAt: snap.RefreshedAt,
		Refreshing:  snap.Refreshing,
	}, nil
}

func (e *Engine) await(ctx context.Context, attempt *refresh.Attempt) {
	if e.emptyWait <= 0 {
		return
	}
	timer := time.NewTimer(e.emptyWait)
	defer timer.Stop()

	select {
	case <-attempt.Done():
	case <-timer.C:
		slog.Warn("gave up waiting for first refresh", slog.Duration("waited", e.emptyWait))
	case <-ctx.Done():
	}
}

// Filter returns the listings matching p, keeping their order.
func Filter(listings []*models.Listing, p Params) []*models.Listing {
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if p.Matches(l) {
			out = append(out, l)
		}
	}
	return out
}

// Rank sorts listings by deal score, highest first. Ties keep their input
// order. The input slice is not modified.
func Rank(listings []*models.Listing) []*models.Listing {
	out := make([]*models.Listing, len(listings))
	copy(out, listings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DealScore > out[j].DealScore
	})
	return out
}

// Top returns the n best listings.
func Top(listings []*models.Listing, n int) []*models.Listing {
	ranked := Rank(listings)
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
