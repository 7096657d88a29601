package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
)

// Scraper crawls the auction results pages with colly and parses every card
// it finds. Each Extract call runs a fresh crawl.
type Scraper struct {
	cfg       *config.Config
	selectors Selectors
	metrics   *metrics.Metrics
	transport http.RoundTripper
}

// NewScraper builds an HTML extractor configured from cfg.
func NewScraper(cfg *config.Config, m *metrics.Metrics) (*Scraper, error) {
	if cfg.Parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive")
	}
	return &Scraper{
		cfg:       cfg,
		selectors: DefaultSelectors(),
		metrics:   m,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// SetTransport replaces the HTTP transport used by subsequent crawls.
func (s *Scraper) SetTransport(rt http.RoundTripper) {
	s.transport = rt
}

// SetSelectors overrides the card selectors.
func (s *Scraper) SetSelectors(sel Selectors) {
	s.selectors = sel
}

func (s *Scraper) Name() string { return config.ExtractorHTML }

// Extract crawls target and returns the records found. A crawl that finds no
// cards reports the first request failure, or ErrNoRecords.
func (s *Scraper) Extract(ctx context.Context, target string) ([]models.RawRecord, error) {
	result, err := s.Run(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(result.Records) > 0 {
		return result.Records, nil
	}
	if result.FirstErr != nil {
		return nil, fmt.Errorf("crawl %s: %w", target, result.FirstErr)
	}
	return nil, fmt.Errorf("crawl %s: %w", target, ErrNoRecords)
}

// CrawlResult is an ExtractionResult plus the first classified failure.
type CrawlResult struct {
	models.ExtractionResult
	FirstErr error
}

// Run performs one crawl of target, following pagination up to MaxPages.
func (s *Scraper) Run(ctx context.Context, target string) (*CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := s.newCrawl(ctx, target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	visitCtx := colly.NewContext()
	visitCtx.Put(pageKey, 1)
	if err := c.collector.Request(http.MethodGet, target, nil, visitCtx, nil); err != nil {
		return nil, fmt.Errorf("initial visit: %w", classifyError(err, 0))
	}

	done := make(chan struct{})
	go func() {
		c.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.retry.Stop()
		<-done
	}
	c.retry.Stop()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl %s: %w", target, ErrTimeout{Err: err})
	}

	return &CrawlResult{
		ExtractionResult: models.ExtractionResult{
			Records:      c.orderedRecords(),
			StartTime:    start,
			EndTime:      time.Now(),
			ErrorCount:   int(c.errorCount.Load()),
			FailedURLs:   c.snapshotFailedURLs(),
			ErrorsByType: c.snapshotErrors(),
			RetryCount:   c.retry.TotalRetries(),
			RequestCount: int(c.requestCount.Load()),
			PageCount:    int(c.pageCount.Load()),
		},
		FirstErr: c.firstError(),
	}, nil
}

const pageKey = "page"

type pageRecord struct {
	page     int
	position int
	rec      models.RawRecord
}

// crawl holds the state of a single Run.
type crawl struct {
	s         *Scraper
	ctx       context.Context
	collector *colly.Collector
	retry     *retryManager

	requestCount atomic.Int64
	pageCount    atomic.Int64
	errorCount   atomic.Int64

	mu           sync.Mutex
	records      []pageRecord
	failedURLs   []string
	errorsByType map[string]int
	firstErr     error
}

func (s *Scraper) newCrawl(ctx context.Context, target string) (*crawl, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("target url must include a host")
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(base.Hostname()),
		colly.UserAgent(s.cfg.UserAgent),
	)

	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.IgnoreRobotsTxt = !s.cfg.RespectRobotsTxt
	collector.WithTransport(contextTransport{ctx: ctx, base: s.transport})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       s.cfg.Delay,
		RandomDelay: s.cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	c := &crawl{
		s:            s,
		ctx:          ctx,
		collector:    collector,
		errorsByType: make(map[string]int),
	}
	c.retry = newRetryManager(s.cfg, s.metrics)
	c.retry.SetContext(ctx)
	c.configureHandlers()
	return c, nil
}

func (c *crawl) configureHandlers() {
	m := c.s.metrics

	c.collector.OnRequest(func(r *colly.Request) {
		if c.ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Ctx.Put("start", time.Now())
		current := c.requestCount.Add(1)
		m.IncRequest("started")
		slog.Debug("extractor request",
			slog.Int64("requests", current),
			slog.String("url", r.URL.String()),
		)
	})

	c.collector.OnResponse(func(r *colly.Response) {
		c.pageCount.Add(1)
		m.IncRequest("completed")
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			m.ObserveDuration(time.Since(start))
		}
	})

	c.collector.OnError(func(r *colly.Response, err error) {
		c.errorCount.Add(1)
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		classified := classifyError(err, statusCode)
		category := errorTypeLabel(classified)

		c.mu.Lock()
		c.errorsByType[category]++
		if c.firstErr == nil {
			c.firstErr = classified
		}
		c.mu.Unlock()

		target := ""
		if r != nil && r.Request != nil && r.Request.URL != nil {
			target = r.Request.URL.String()
		}
		slog.Warn("request error",
			slog.String("url", target),
			slog.String("category", category),
			slog.Any("error", err),
		)
		m.IncError(category)

		retried := false
		if r != nil && r.Request != nil && retryable(category) {
			retried = c.retry.Schedule(target, r.Request.Retry)
		}
		if !retried {
			c.mu.Lock()
			c.failedURLs = append(c.failedURLs, target)
			c.mu.Unlock()
		}
	})

	c.collector.OnHTML("html", func(e *colly.HTMLElement) {
		page := pageOf(e.Request)
		records := ParseCards(e.DOM, e.Request.URL, c.s.selectors)

		c.mu.Lock()
		for i, rec := range records {
			c.records = append(c.records, pageRecord{page: page, position: i, rec: rec})
		}
		c.mu.Unlock()

		if page >= c.s.cfg.MaxPages || c.ctx.Err() != nil {
			return
		}
		href, ok := e.DOM.Find(c.s.selectors.Next).First().Attr("href")
		if !ok || href == "" {
			return
		}
		next := colly.NewContext()
		next.Put(pageKey, page+1)
		if err := c.collector.Request(http.MethodGet, e.Request.AbsoluteURL(href), nil, next, nil); err != nil {
			slog.Debug("pagination visit skipped", slog.String("href", href), slog.Any("error", err))
		}
	})
}

// wait returns once no requests are in flight and no retries are pending.
func (c *crawl) wait() {
	for {
		c.collector.Wait()
		if !c.retry.Wait() {
			return
		}
	}
}

func pageOf(r *colly.Request) int {
	if page, ok := r.Ctx.GetAny(pageKey).(int); ok {
		return page
	}
	return 1
}

// retryable reports whether a failure category is worth another attempt.
func retryable(category string) bool {
	switch category {
	case "forbidden", "not_found":
		return false
	}
	return true
}

// orderedRecords returns records in page order, then card order.
func (c *crawl) orderedRecords() []models.RawRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := make([]pageRecord, len(c.records))
	copy(sorted, c.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].page != sorted[j].page {
			return sorted[i].page < sorted[j].page
		}
		return sorted[i].position < sorted[j].position
	})

	out := make([]models.RawRecord, len(sorted))
	for i, pr := range sorted {
		out[i] = pr.rec
	}
	return out
}

func (c *crawl) snapshotFailedURLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.failedURLs))
	copy(out, c.failedURLs)
	return out
}

func (c *crawl) snapshotErrors() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		out[k] = v
	}
	return out
}

func (c *crawl) firstError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstErr
}

// contextTransport binds every request of a crawl to the crawl's context so
// cancellation aborts in-flight requests.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req.WithContext(t.ctx))
}
