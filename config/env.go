package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "SCOUT_"

// LoadDotEnv loads a .env file into the process environment if one exists.
// Variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("no dotenv file found", slog.String("path", path))
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
		slog.Debug("loaded dotenv file", slog.String("path", path))
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses key as a Go duration ("20m", "90s").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvList splits key on commas, dropping empty entries.
func EnvList(key string) ([]string, bool) {
	value, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	return splitList(value), true
}

// ApplyEnv overrides c with any SCOUT_* variables present in the environment.
func (c *Config) ApplyEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"LISTEN_ADDR", &c.ListenAddr},
		{"TARGET_URL", &c.TargetURL},
		{"API_ENDPOINT", &c.APIEndpoint},
		{"USER_AGENT", &c.UserAgent},
		{"CHROME_PATH", &c.ChromePath},
		{"SNAPSHOT_FILE", &c.SnapshotFile},
		{"SNAPSHOT_FORMAT", &c.SnapshotFormat},
		{"DIGEST_SCHEDULE", &c.DigestSchedule},
		{"DIGEST_FROM", &c.DigestFrom},
		{"SMTP_HOST", &c.SMTPHost},
		{"SMTP_USERNAME", &c.SMTPUsername},
		{"SMTP_PASSWORD", &c.SMTPPassword},
	}
	for _, s := range strs {
		if value, ok := EnvString(EnvPrefix + s.key); ok {
			*s.dst = value
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_PAGES", &c.MaxPages},
		{"PARALLEL", &c.Parallelism},
		{"MAX_RETRIES", &c.MaxRetries},
		{"WORKERS", &c.Workers},
		{"PIPELINE_BUFFER", &c.PipelineBufferSize},
		{"BATCH_SIZE", &c.BatchSize},
		{"DEDUPE_MAX_SIZE", &c.DedupeMaxSize},
		{"DIGEST_TOP_N", &c.DigestTopN},
		{"SMTP_PORT", &c.SMTPPort},
	}
	for _, i := range ints {
		value, ok, err := EnvInt(EnvPrefix + i.key)
		if err != nil {
			return err
		}
		if ok {
			*i.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DELAY", &c.Delay},
		{"RANDOM_DELAY", &c.RandomDelay},
		{"TIMEOUT", &c.Timeout},
		{"RETRY_BACKOFF", &c.RetryBackoff},
		{"RETRY_BACKOFF_MAX", &c.RetryBackoffMax},
		{"BROWSER_SETTLE", &c.BrowserSettle},
		{"REFRESH_INTERVAL", &c.RefreshInterval},
		{"STALE_AFTER", &c.StaleAfter},
		{"EMPTY_CACHE_WAIT", &c.EmptyCacheWait},
		{"REFRESH_TIMEOUT", &c.RefreshTimeout},
	}
	for _, d := range durations {
		value, ok, err := EnvDuration(EnvPrefix + d.key)
		if err != nil {
			return err
		}
		if ok {
			*d.dst = value
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"RESPECT_ROBOTS", &c.RespectRobotsTxt},
		{"STRICT_RECORDS", &c.StrictRecords},
		{"REFRESH_ON_START", &c.RefreshOnStart},
		{"VERBOSE", &c.Verbose},
	}
	for _, b := range bools {
		value, ok, err := EnvBool(EnvPrefix + b.key)
		if err != nil {
			return err
		}
		if ok {
			*b.dst = value
		}
	}

	if value, ok := EnvList(EnvPrefix + "EXTRACTORS"); ok {
		c.Extractors = value
	}
	if value, ok := EnvList(EnvPrefix + "DIGEST_RECIPIENTS"); ok {
		c.DigestRecipients = value
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
