// Package scraper extracts raw auction records from the target site. Several
// extraction strategies are available and can be chained so the first one
// that yields records wins.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
)

// Extractor produces raw records for one refresh. The context deadline is
// the time budget for the whole extraction.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, target string) ([]models.RawRecord, error)
}

// Chain tries extractors in order and returns the first non-empty result.
type Chain struct {
	extractors []Extractor
	metrics    *metrics.Metrics
}

// NewChain builds a chain; nil extractors are skipped.
func NewChain(m *metrics.Metrics, extractors ...Extractor) *Chain {
	c := &Chain{metrics: m}
	for _, e := range extractors {
		if e != nil {
			c.extractors = append(c.extractors, e)
		}
	}
	return c
}

// Name identifies the chain in logs.
func (c *Chain) Name() string { return "chain" }

// Extract returns the records of the first extractor that produces any. When
// every extractor fails the individual errors are joined.
func (c *Chain) Extract(ctx context.Context, target string) ([]models.RawRecord, error) {
	if len(c.extractors) == 0 {
		return nil, fmt.Errorf("no extractors configured: %w", ErrNoRecords)
	}

	var errs []error
	for _, e := range c.extractors {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		records, err := e.Extract(ctx, target)
		switch {
		case err != nil:
			slog.Warn("extractor failed",
				slog.String("extractor", e.Name()),
				slog.String("category", errorTypeLabel(err)),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		case len(records) == 0:
			slog.Warn("extractor returned no records", slog.String("extractor", e.Name()))
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), ErrNoRecords))
			continue
		}

		c.metrics.AddRecords(e.Name(), len(records))
		slog.Info("extraction succeeded",
			slog.String("extractor", e.Name()),
			slog.Int("records", len(records)),
		)
		return records, nil
	}
	return nil, errors.Join(errs...)
}

// BuildExtractor assembles the chain named by cfg.Extractors.
func BuildExtractor(cfg *config.Config, m *metrics.Metrics) (*Chain, error) {
	extractors := make([]Extractor, 0, len(cfg.Extractors))
	for _, name := range cfg.Extractors {
		switch name {
		case config.ExtractorHTML:
			s, err := NewScraper(cfg, m)
			if err != nil {
				return nil, err
			}
			extractors = append(extractors, s)
		case config.ExtractorAPI:
			extractors = append(extractors, NewAPIExtractor(cfg, m))
		case config.ExtractorBrowser:
			extractors = append(extractors, NewBrowserExtractor(cfg))
		default:
			return nil, fmt.Errorf("unknown extractor %q", name)
		}
	}
	return NewChain(m, extractors...), nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrUpstream{StatusCode: statusCode, Err: wrapped}
		}
		return wrapped
	}

	return err
}
