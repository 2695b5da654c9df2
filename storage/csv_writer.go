package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"carflow/models"
)

// CSVWriter exports consolidated monthly averages to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"id", "brand_id", "model_id", "year_model", "month_ref", "region", "avg_price", "samples_count", "created_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteMonthlyAverages appends rows. The national aggregate is written with
// an empty region column.
func (c *CSVWriter) WriteMonthlyAverages(rows []*models.MonthlyAverage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range rows {
		row := []string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.BrandID, 10),
			strconv.FormatInt(m.ModelID, 10),
			strconv.Itoa(m.YearModel),
			string(m.MonthRef),
			m.Region.Label(),
			m.AvgPrice.StringFixed(2),
			strconv.Itoa(m.SamplesCount),
			m.CreatedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
