package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// fileConfig is the on-disk shape. Durations are Go duration strings.
type fileConfig struct {
	ListenAddr  string   `json:"listenAddr"`
	TargetURL   string   `json:"targetUrl"`
	APIEndpoint string   `json:"apiEndpoint"`
	Extractors  []string `json:"extractors"`

	MaxPages         int    `json:"maxPages"`
	Parallelism      int    `json:"parallelism"`
	Delay            string `json:"delay"`
	RandomDelay      string `json:"randomDelay"`
	Timeout          string `json:"timeout"`
	MaxRetries       int    `json:"maxRetries"`
	RetryBackoff     string `json:"retryBackoff"`
	RetryBackoffMax  string `json:"retryBackoffMax"`
	UserAgent        string `json:"userAgent"`
	RespectRobotsTxt bool   `json:"respectRobotsTxt"`
	BrowserSettle    string `json:"browserSettle"`
	ChromePath       string `json:"chromePath"`

	Workers            int  `json:"workers"`
	PipelineBufferSize int  `json:"pipelineBufferSize"`
	BatchSize          int  `json:"batchSize"`
	DedupeMaxSize      int  `json:"dedupeMaxSize"`
	StrictRecords      bool `json:"strictRecords"`

	RefreshInterval string `json:"refreshInterval"`
	StaleAfter      string `json:"staleAfter"`
	EmptyCacheWait  string `json:"emptyCacheWait"`
	RefreshTimeout  string `json:"refreshTimeout"`

	SnapshotFile   string `json:"snapshotFile"`
	SnapshotFormat string `json:"snapshotFormat"`

	DigestSchedule   string   `json:"digestSchedule"`
	DigestTopN       int      `json:"digestTopN"`
	DigestRecipients []string `json:"digestRecipients"`
	DigestFrom       string   `json:"digestFrom"`
	SMTPHost         string   `json:"smtpHost"`
	SMTPPort         int      `json:"smtpPort"`
	SMTPUsername     string   `json:"smtpUsername"`
	SMTPPassword     string   `json:"smtpPassword"`

	Verbose bool `json:"verbose"`
}

// LoadFile merges a JSON5 config file over c. Only values set in the file
// override c, so booleans in the file can enable a setting but not clear it;
// use the environment or flags to switch a default-on option off.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := json5.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	override, err := fc.toConfig()
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if err := mergo.Merge(c, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config file %s: %w", path, err)
	}
	return nil
}

func (fc fileConfig) toConfig() (Config, error) {
	out := Config{
		ListenAddr:         fc.ListenAddr,
		TargetURL:          fc.TargetURL,
		APIEndpoint:        fc.APIEndpoint,
		Extractors:         fc.Extractors,
		MaxPages:           fc.MaxPages,
		Parallelism:        fc.Parallelism,
		MaxRetries:         fc.MaxRetries,
		UserAgent:          fc.UserAgent,
		RespectRobotsTxt:   fc.RespectRobotsTxt,
		ChromePath:         fc.ChromePath,
		Workers:            fc.Workers,
		PipelineBufferSize: fc.PipelineBufferSize,
		BatchSize:          fc.BatchSize,
		DedupeMaxSize:      fc.DedupeMaxSize,
		StrictRecords:      fc.StrictRecords,
		SnapshotFile:       fc.SnapshotFile,
		SnapshotFormat:     fc.SnapshotFormat,
		DigestSchedule:     fc.DigestSchedule,
		DigestTopN:         fc.DigestTopN,
		DigestRecipients:   fc.DigestRecipients,
		DigestFrom:         fc.DigestFrom,
		SMTPHost:           fc.SMTPHost,
		SMTPPort:           fc.SMTPPort,
		SMTPUsername:       fc.SMTPUsername,
		SMTPPassword:       fc.SMTPPassword,
		Verbose:            fc.Verbose,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"delay", fc.Delay, &out.Delay},
		{"randomDelay", fc.RandomDelay, &out.RandomDelay},
		{"timeout", fc.Timeout, &out.Timeout},
		{"retryBackoff", fc.RetryBackoff, &out.RetryBackoff},
		{"retryBackoffMax", fc.RetryBackoffMax, &out.RetryBackoffMax},
		{"browserSettle", fc.BrowserSettle, &out.BrowserSettle},
		{"refreshInterval", fc.RefreshInterval, &out.RefreshInterval},
		{"staleAfter", fc.StaleAfter, &out.StaleAfter},
		{"emptyCacheWait", fc.EmptyCacheWait, &out.EmptyCacheWait},
		{"refreshTimeout", fc.RefreshTimeout, &out.RefreshTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return out, nil
}
