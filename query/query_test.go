package query

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/refresh"
)

type stubExtractor struct {
	mu      sync.Mutex
	err     error
	release chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, _ string) ([]models.RawRecord, error) {
	s.mu.Lock()
	release, err := s.release, s.err
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []models.RawRecord{{"title": "placeholder"}}, nil
}

type fixedBuilder []*models.Listing

func (b fixedBuilder) Build(context.Context, []models.RawRecord) ([]*models.Listing, error) {
	return b, nil
}

func sampleListings() []*models.Listing {
	return []*models.Listing{
		{ID: "lot-1", HoursLeft: 1, DealScore: 40, DiscountPct: 12, CurrentBid: 9000},
		{ID: "lot-2", HoursLeft: 10, DealScore: 75, DiscountPct: 35, CurrentBid: 21000, NoReserve: true},
		{ID: "lot-3", HoursLeft: 30, DealScore: 90, DiscountPct: 45, CurrentBid: 15000, NoReserve: true},
		{ID: "lot-4", HoursLeft: 5, DealScore: 40, DiscountPct: -3, CurrentBid: 50000},
	}
}

func ids(listings []*models.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.ID
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RefreshTimeout = time.Second
	cfg.EmptyCacheWait = time.Second
	return cfg
}

func TestFilterAndRank(t *testing.T) {
	budget := 20000
	tests := []struct {
		name   string
		params Params
		want   []string
	}{
		{"defaults", DefaultParams(), []string{"lot-2", "lot-1"}},
		{"min discount", Params{CloseHours: 24, MinDiscount: 20}, []string{"lot-2"}},
		{"ties keep cache order", Params{CloseHours: 24, MinDiscount: -100}, []string{"lot-2", "lot-1", "lot-4"}},
		{"budget", Params{CloseHours: 48, MaxBudget: &budget}, []string{"lot-3", "lot-1"}},
		{"no reserve", Params{CloseHours: 48, NoReserveOnly: true}, []string{"lot-3", "lot-2"}},
		{"nothing closes", Params{CloseHours: 0.5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Rank(Filter(sampleListings(), tt.params)))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRankDoesNotReorderInput(t *testing.T) {
	in := sampleListings()
	_ = Rank(in)
	if diff := cmp.Diff([]string{"lot-1", "lot-2", "lot-3", "lot-4"}, ids(in)); diff != "" {
		t.Fatalf("input reordered (-want +got):\n%s", diff)
	}
	if got := ids(Top(in, 2)); !cmp.Equal(got, []string{"lot-3", "lot-2"}) {
		t.Fatalf("Top(2) = %v", got)
	}
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(url.Values{
		"closeHours":    {"6"},
		"minDiscount":   {"15"},
		"maxBudget":     {"30000"},
		"noReserveOnly": {"true"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.CloseHours != 6 || p.MinDiscount != 15 || p.MaxBudget == nil || *p.MaxBudget != 30000 || !p.NoReserveOnly {
		t.Fatalf("unexpected params: %+v", p)
	}

	p, err = ParseParams(url.Values{})
	if err != nil || p.CloseHours != DefaultCloseHours || p.MaxBudget != nil {
		t.Fatalf("defaults = %+v, %v", p, err)
	}

	for _, bad := range []url.Values{
		{"closeHours": {"soon"}},
		{"closeHours": {"-1"}},
		{"minDiscount": {"lots"}},
		{"maxBudget": {"-5"}},
		{"noReserveOnly": {"maybe"}},
		{"closeHours": {"NaN"}},
		{"closeHours": {"+Inf"}},
		{"minDiscount": {"nan"}},
		{"minDiscount": {"-Inf"}},
		{"maxBudget": {"Inf"}},
	} {
		if _, err := ParseParams(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}

	p, err = ParseParams(url.Values{"maxBudget": {"1e20"}})
	if err != nil {
		t.Fatalf("parse huge budget: %v", err)
	}
	if p.MaxBudget != nil {
		t.Fatalf("MaxBudget = %d, want no bound", *p.MaxBudget)
	}
	if got := Filter(sampleListings(), Params{CloseHours: 1000, MinDiscount: -100, MaxBudget: p.MaxBudget}); len(got) != len(sampleListings()) {
		t.Fatalf("huge budget kept %d of %d listings", len(got), len(sampleListings()))
	}
}

func TestQueryWaitsForFirstRefresh(t *testing.T) {
	cfg := testConfig()
	coord := refresh.NewCoordinator(context.Background(), cfg, &stubExtractor{}, fixedBuilder(sampleListings()))
	engine := NewEngine(coord, cfg)

	res, err := engine.Query(context.Background(), DefaultParams())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]string{"lot-2", "lot-1"}, ids(res.Listings)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if res.Total != 2 || res.RefreshedAt.IsZero() || res.Refreshing {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestQueryEmptyCacheWaitIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.EmptyCacheWait = 20 * time.Millisecond
	ext := &stubExtractor{release: make(chan struct{})}
	defer close(ext.release)
	coord := refresh.NewCoordinator(context.Background(), cfg, ext, fixedBuilder(sampleListings()))
	engine := NewEngine(coord, cfg)

	start := time.Now()
	res, err := engine.Query(context.Background(), DefaultParams())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("query blocked for %v", elapsed)
	}
	if res.Total != 0 || !res.Refreshing {
		t.Fatalf("expected an empty result while refreshing, got %+v", res)
	}
}

func TestQueryEmptyCacheWithError(t *testing.T) {
	cfg := testConfig()
	boom := errors.New("blocked by bot protection")
	coord := refresh.NewCoordinator(context.Background(), cfg, &stubExtractor{err: boom}, fixedBuilder(nil))
	engine := NewEngine(coord, cfg)

	_, err := engine.Query(context.Background(), DefaultParams())
	if !errors.Is(err, ErrNoListings) {
		t.Fatalf("error = %v, want ErrNoListings", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error should wrap the refresh failure: %v", err)
	}
}

func TestQueryServesStaleDataWithoutBlocking(t *testing.T) {
	t0 := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := t0
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	cfg := testConfig()
	ext := &stubExtractor{}
	coord := refresh.NewCoordinator(context.Background(), cfg, ext, fixedBuilder(sampleListings()), refresh.WithClock(clock))
	engine := NewEngine(coord, cfg, WithClock(clock))

	if err := coord.Refresh(context.Background(), refresh.TriggerManual); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	clockMu.Lock()
	now = t0.Add(cfg.StaleAfter + time.Minute)
	clockMu.Unlock()

	release := make(chan struct{})
	ext.mu.Lock()
	ext.release = release
	ext.mu.Unlock()

	res, err := engine.Query(context.Background(), DefaultParams())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 2 || !res.RefreshedAt.Equal(t0) {
		t.Fatalf("expected stale data to be served, got %+v", res)
	}

	attempt, started := coord.Trigger(refresh.TriggerManual)
	if started {
		t.Fatalf("stale query should have started a background refresh")
	}
	close(release)
	<-attempt.Done()
}
