package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-auction-deals/models"
)

// snapshotFile is the buffered file shared by the snapshot writers. Callers
// hold mu around every write to buf.
type snapshotFile struct {
	kind string
	path string
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex
}

func openSnapshotFile(kind, path string) (*snapshotFile, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &snapshotFile{kind: kind, path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

func (s *snapshotFile) flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s writer: %w", s.kind, err)
	}
	return nil
}

// Close flushes buffered output and closes the file.
func (s *snapshotFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// Validate reports an error when nothing reached the file.
func (s *snapshotFile) Validate() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", s.kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", s.kind)
	}
	return nil
}

var csvHeader = []string{
	"id", "title", "year", "make", "model", "trim",
	"current_bid", "market_value", "discount_pct", "hours_left", "bid_count",
	"no_reserve", "deal_score", "mileage", "location", "url", "image", "scraped_at",
}

func csvRow(l *models.Listing) []string {
	return []string{
		l.ID,
		l.Title,
		strconv.Itoa(l.Year),
		l.Make,
		l.Model,
		l.Trim,
		strconv.Itoa(l.CurrentBid),
		strconv.Itoa(l.MarketValue),
		strconv.Itoa(l.DiscountPct),
		strconv.FormatFloat(l.HoursLeft, 'f', 2, 64),
		strconv.Itoa(l.BidCount),
		strconv.FormatBool(l.NoReserve),
		strconv.Itoa(l.DealScore),
		strconv.Itoa(l.Mileage),
		l.Location,
		l.URL,
		l.Image,
		l.ScrapedAt.Format(time.RFC3339),
	}
}

// CSVWriter writes listings as CSV rows under a fixed header.
type CSVWriter struct {
	*snapshotFile
	csv *csv.Writer
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	sf, err := openSnapshotFile("csv", filename)
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{snapshotFile: sf, csv: csv.NewWriter(sf.buf)}
	if err := cw.writeRows(csvHeader); err != nil {
		sf.file.Close()
		return nil, err
	}
	return cw, nil
}

// Write appends one row per listing.
func (cw *CSVWriter) Write(listings []*models.Listing) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, csvRow(l))
	}
	return cw.writeRows(rows...)
}

func (cw *CSVWriter) writeRows(rows ...[]string) error {
	if err := cw.csv.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	return cw.flush()
}

// JSONWriter writes newline-delimited JSON listings.
type JSONWriter struct {
	*snapshotFile
	enc *json.Encoder
}

// NewJSONWriter creates filename for JSONL output.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	sf, err := openSnapshotFile("json", filename)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{snapshotFile: sf, enc: json.NewEncoder(sf.buf)}, nil
}

// Write appends one JSON line per listing.
func (jw *JSONWriter) Write(listings []*models.Listing) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, l := range listings {
		if err := jw.enc.Encode(l); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	return jw.flush()
}
