package document

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/aluiziolira/monoscrape/models"
)

var csvHeader = []string{"product_id", "name", "price", "available", "rating", "num_reviews", "url"}

// CSVWriter writes items as CSV rows.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVWriter{file: f, writer: writer}, nil
}

// Write appends items to the CSV output.
func (cw *CSVWriter) Write(items []models.Item) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, item := range items {
		record := []string{
			strconv.Itoa(item.ProductID),
			item.Name,
			strconv.FormatFloat(item.Price, 'f', 2, 64),
			strconv.FormatBool(item.Available),
			strconv.FormatFloat(item.Rating, 'f', -1, 64),
			strconv.Itoa(item.NumReviews),
			item.URL,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// WriteCSV exports the items ordered by product id.
func (d *Document) WriteCSV(path string) error {
	cw, err := NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := cw.Write(d.Items()); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}
