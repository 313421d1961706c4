// Package sink persists enriched listing batches.
package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Columns is the canonical column order shared by the file and the store.
var Columns = []string{
	"title", "make", "model", "modelTitle", "condition", "year", "mileage",
	"price", "monthlyPayment", "dealer", "value", "region", "state", "link", "time",
}

// Row renders l in Columns order.
func Row(l crawler.EnrichedListing) []string {
	return []string{
		l.Title,
		l.Make,
		l.Model,
		l.ModelTitle,
		l.Condition,
		l.Year,
		l.Mileage,
		l.Price,
		l.MonthlyPayment,
		l.Dealer,
		strconv.FormatFloat(l.Value, 'f', -1, 64),
		l.Region,
		l.State,
		l.Link,
		l.CapturedAt.UTC().Format(time.RFC3339),
	}
}

// CSVFile appends batches to one CSV file shared by every worker.
type CSVFile struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewCSVFile returns a sink writing to path. Parent directories are created on first write.
func NewCSVFile(path string, logger *zap.Logger) (*CSVFile, error) {
	if path == "" {
		return nil, errors.New("csv path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVFile{path: path, logger: logger}, nil
}

// Path returns the file location.
func (s *CSVFile) Path() string {
	return s.path
}

// WriteBatch appends listings as one uninterrupted block. The header is
// written when the batch creates the file.
func (s *CSVFile) WriteBatch(_ context.Context, target crawler.Target, listings []crawler.EnrichedListing) error {
	if len(listings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat csv: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			_ = f.Close()
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, l := range listings {
		if err := w.Write(Row(l)); err != nil {
			_ = f.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	s.logger.Debug("csv batch appended", zap.String("target", target.Slug()), zap.Int("rows", len(listings)))
	return nil
}

// Reset removes the file so the next batch starts a fresh one with a header.
func (s *CSVFile) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove csv: %w", err)
	}
	return nil
}
