package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Extractor names accepted in Config.Extractors.
const (
	ExtractorHTML    = "html"
	ExtractorAPI     = "api"
	ExtractorBrowser = "browser"
)

// Snapshot export formats.
const (
	SnapshotCSV  = "csv"
	SnapshotJSON = "json"
	SnapshotDual = "dual"
)

// Config holds service configuration.
type Config struct {
	ListenAddr string
	TargetURL  string
	// APIEndpoint is the JSON feed used by the api extractor. Empty means TargetURL.
	APIEndpoint string
	Extractors  []string

	MaxPages         int
	Parallelism      int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	UserAgent        string
	RespectRobotsTxt bool
	BrowserSettle    time.Duration
	ChromePath       string

	Workers            int
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	StrictRecords      bool

	RefreshInterval time.Duration
	StaleAfter      time.Duration
	EmptyCacheWait  time.Duration
	RefreshTimeout  time.Duration
	RefreshOnStart  bool

	SnapshotFile   string
	SnapshotFormat string // csv, json, or dual

	DigestSchedule   string
	DigestTopN       int
	DigestRecipients []string
	DigestFrom       string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	Verbose bool
}

// DefaultConfig returns the defaults used by the service.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  ":8080",
		TargetURL:   "https://carsandbids.com/",
		APIEndpoint: "",
		Extractors:  []string{ExtractorHTML, ExtractorBrowser},

		MaxPages:         5,
		Parallelism:      4,
		Delay:            250 * time.Millisecond,
		RandomDelay:      250 * time.Millisecond,
		Timeout:          20 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     500 * time.Millisecond,
		RetryBackoffMax:  5 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,
		BrowserSettle:    3 * time.Second,

		Workers:            4,
		PipelineBufferSize: 256,
		BatchSize:          64,
		DedupeMaxSize:      10000,
		StrictRecords:      true,

		RefreshInterval: 20 * time.Minute,
		StaleAfter:      20 * time.Minute,
		EmptyCacheWait:  75 * time.Second,
		RefreshTimeout:  3 * time.Minute,
		RefreshOnStart:  true,

		SnapshotFile:   "",
		SnapshotFormat: SnapshotJSON,

		DigestSchedule: "0 8 * * *",
		DigestTopN:     10,
		SMTPPort:       587,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if err := validateURL("target URL", c.TargetURL); err != nil {
		return err
	}
	if c.APIEndpoint != "" {
		if err := validateURL("api endpoint", c.APIEndpoint); err != nil {
			return err
		}
	}
	if len(c.Extractors) == 0 {
		return fmt.Errorf("at least one extractor is required")
	}
	for _, name := range c.Extractors {
		switch name {
		case ExtractorHTML, ExtractorAPI, ExtractorBrowser:
		default:
			return fmt.Errorf("unknown extractor %q (want html, api, or browser)", name)
		}
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.BrowserSettle < 0 {
		return fmt.Errorf("browser settle cannot be negative")
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale after must be positive")
	}
	if c.EmptyCacheWait < 0 {
		return fmt.Errorf("empty cache wait cannot be negative")
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh timeout must be positive")
	}

	switch c.SnapshotFormat {
	case SnapshotCSV, SnapshotJSON, SnapshotDual:
	default:
		return fmt.Errorf("snapshot format must be csv, json, or dual")
	}

	if c.DigestEnabled() {
		if _, err := cron.ParseStandard(c.DigestSchedule); err != nil {
			return fmt.Errorf("invalid digest schedule %q: %w", c.DigestSchedule, err)
		}
		if c.DigestTopN <= 0 {
			return fmt.Errorf("digest top n must be positive")
		}
		if c.SMTPHost == "" {
			return fmt.Errorf("smtp host is required when digest recipients are set")
		}
		if c.SMTPPort <= 0 {
			return fmt.Errorf("smtp port must be positive")
		}
		if c.DigestFrom == "" {
			return fmt.Errorf("digest sender address is required when digest recipients are set")
		}
	}

	return nil
}

// DigestEnabled reports whether the daily digest should be scheduled.
func (c *Config) DigestEnabled() bool {
	return len(c.DigestRecipients) > 0 && strings.TrimSpace(c.DigestSchedule) != ""
}

func validateURL(label, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", label)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", label, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", label)
	}
	return nil
}
