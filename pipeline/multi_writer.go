package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
)

// MultiWriter fans every batch out to several writers.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter combines writers; nil entries are ignored.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write stops at the first failing writer.
func (mw *MultiWriter) Write(listings []*models.Listing) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(listings); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks every writer and joins their errors.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSnapshotWriter opens a writer for one of the configured snapshot
// formats. "dual" writes CSV to path and JSONL next to it.
func NewSnapshotWriter(format, path string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case config.SnapshotJSON:
		return NewJSONWriter(path)
	case config.SnapshotCSV:
		return NewCSVWriter(path)
	case config.SnapshotDual:
		base := strings.TrimSuffix(path, filepath.Ext(path))
		csvWriter, err := NewCSVWriter(base + ".csv")
		if err != nil {
			return nil, err
		}
		jsonWriter, err := NewJSONWriter(base + ".jsonl")
		if err != nil {
			csvWriter.Close()
			return nil, err
		}
		return NewMultiWriter(csvWriter, jsonWriter), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot format: %s", format)
	}
}
