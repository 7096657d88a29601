package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/models"
)

// recordKeys are the envelope keys searched for a records array, in order.
var recordKeys = []string{"auctions", "listings", "results", "items", "data"}

// APIExtractor reads auctions from a JSON feed.
type APIExtractor struct {
	client   *resty.Client
	endpoint string
	metrics  *metrics.Metrics
}

// NewAPIExtractor builds a JSON extractor. When cfg.APIEndpoint is empty the
// target passed to Extract is fetched instead.
func NewAPIExtractor(cfg *config.Config, m *metrics.Metrics) *APIExtractor {
	client := resty.New().
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryBackoff).
		SetRetryMaxWaitTime(cfg.RetryBackoffMax)

	return &APIExtractor{
		client:   client,
		endpoint: cfg.APIEndpoint,
		metrics:  m,
	}
}

// Client exposes the underlying resty client.
func (a *APIExtractor) Client() *resty.Client {
	return a.client
}

// Name identifies the extractor in logs and metrics.
func (a *APIExtractor) Name() string { return config.ExtractorAPI }

// Extract fetches the JSON feed, or target when no endpoint is configured,
// and decodes its auction records.
func (a *APIExtractor) Extract(ctx context.Context, target string) ([]models.RawRecord, error) {
	endpoint := a.endpoint
	if endpoint == "" {
		endpoint = target
	}

	a.metrics.IncRequest("started")
	res, err := a.client.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		classified := classifyError(err, 0)
		a.metrics.IncError(errorTypeLabel(classified))
		return nil, fmt.Errorf("fetch %s: %w", endpoint, classified)
	}
	a.metrics.IncRequest("completed")
	a.metrics.ObserveDuration(res.Time())

	if res.IsError() {
		classified := classifyError(nil, res.StatusCode())
		a.metrics.IncError(errorTypeLabel(classified))
		return nil, fmt.Errorf("fetch %s: %w", endpoint, classified)
	}

	records, err := DecodeRecords(res.Body())
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// DecodeRecords accepts either a bare array of objects or an object holding
// one under a well-known key, possibly one level down ({"data":{"auctions":[]}}).
// Numbers are kept as json.Number.
func DecodeRecords(body []byte) ([]models.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return findRecords(payload, 2), nil
}

func findRecords(v any, depth int) []models.RawRecord {
	switch t := v.(type) {
	case []any:
		records := make([]models.RawRecord, 0, len(t))
		for _, item := range t {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, models.RawRecord(obj))
			}
		}
		return records
	case map[string]any:
		if depth == 0 {
			return nil
		}
		for _, key := range recordKeys {
			if inner, ok := t[key]; ok {
				if records := findRecords(inner, depth-1); len(records) > 0 {
					return records
				}
			}
		}
	}
	return nil
}
