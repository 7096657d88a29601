package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
)

// BrowserExtractor renders the target in headless Chrome before parsing it,
// for result grids that are built client-side.
type BrowserExtractor struct {
	userAgent  string
	chromePath string
	settle     time.Duration
	selectors  Selectors
}

// NewBrowserExtractor configures Chrome from cfg.
func NewBrowserExtractor(cfg *config.Config) *BrowserExtractor {
	return &BrowserExtractor{
		userAgent:  cfg.UserAgent,
		chromePath: cfg.ChromePath,
		settle:     cfg.BrowserSettle,
		selectors:  DefaultSelectors(),
	}
}

// Name identifies the extractor in logs and metrics.
func (b *BrowserExtractor) Name() string { return config.ExtractorBrowser }

// Extract loads target in a fresh headless browser, waits for the grid to
// settle and parses the rendered cards.
func (b *BrowserExtractor) Extract(ctx context.Context, target string) ([]models.RawRecord, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(b.userAgent),
	)
	if b.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.chromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		slog.Debug(fmt.Sprintf(format, args...), slog.String("component", "chromedp"))
	}))
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(target),
		chromedp.Sleep(b.settle),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(b.settle/2),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", target, classifyError(err, 0))
	}

	records, err := b.parseRendered(html, target)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

func (b *BrowserExtractor) parseRendered(html, target string) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered page: %w", err)
	}
	base, err := url.Parse(target)
	if err != nil {
		base = nil
	}
	return ParseCards(doc.Selection, base, b.selectors), nil
}
