package writer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
)

// CSVWriter writes a series in the published dataset layout
// (Timestamp,Open,High,Low,Close,Volume). Output goes to a temporary file in the
// destination directory and is renamed over the destination on Finalize, so a reader
// sees either the previous file or the complete new one.
type CSVWriter struct {
	outputPath string
	tmp        *os.File
	rows       []types.Record
	lastTs     int64
}

// NewCSVWriter creates a new CSVWriter targeting outputPath.
func NewCSVWriter(outputPath string) SeriesWriter {
	return &CSVWriter{
		outputPath: outputPath,
	}
}

// Initialize creates the destination directory and the temporary file.
func (w *CSVWriter) Initialize() error {
	dir := filepath.Dir(w.outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.outputPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	w.tmp = tmp
	w.rows = w.rows[:0]

	return nil
}

// Write buffers a record. Ordering is checked here so a bad series never reaches disk.
func (w *CSVWriter) Write(record types.Record) error {
	if w.tmp == nil {
		return fmt.Errorf("writer not initialized")
	}

	if len(w.rows) > 0 && record.Timestamp <= w.lastTs {
		return fmt.Errorf("record %d is not after previous record %d", record.Timestamp, w.lastTs)
	}

	w.rows = append(w.rows, record)
	w.lastTs = record.Timestamp

	return nil
}

// Finalize marshals the buffered records, syncs the temporary file and renames it into place.
func (w *CSVWriter) Finalize() (string, error) {
	if w.tmp == nil {
		return "", fmt.Errorf("writer not initialized")
	}

	if err := gocsv.MarshalFile(&w.rows, w.tmp); err != nil {
		return "", fmt.Errorf("failed to marshal csv: %w", err)
	}

	if err := w.tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync csv: %w", err)
	}

	tmpPath := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close csv: %w", err)
	}

	w.tmp = nil

	if err := os.Rename(tmpPath, w.outputPath); err != nil {
		os.Remove(tmpPath)

		return "", fmt.Errorf("failed to replace %s: %w", w.outputPath, err)
	}

	w.rows = nil

	return w.outputPath, nil
}

// Close removes the temporary file if Finalize was never reached.
func (w *CSVWriter) Close() error {
	w.rows = nil

	if w.tmp == nil {
		return nil
	}

	tmpPath := w.tmp.Name()
	closeErr := w.tmp.Close()
	w.tmp = nil

	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temporary file: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close temporary file: %w", closeErr)
	}

	return nil
}

// GetOutputPath returns the configured output file path.
func (w *CSVWriter) GetOutputPath() string {
	return w.outputPath
}
