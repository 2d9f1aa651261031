package writer

import (
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
)

// SeriesWriter defines the interface for writing a series to a destination.
// Nothing is visible at the output path until Finalize succeeds.
type SeriesWriter interface {
	// Initialize sets up the writer, potentially creating tables or temporary files.
	Initialize() error
	// Write persists a single record. Records must arrive in ascending timestamp order.
	Write(record types.Record) error
	// Finalize completes the writing process and publishes the output atomically.
	Finalize() (outputPath string, err error)
	// Close releases any resources held by the writer. Unfinalized output is discarded.
	Close() error
	// GetOutputPath returns the configured output file path.
	GetOutputPath() string
}

// WriteAll initializes w, writes every record and finalizes it.
// w is always closed before returning.
func WriteAll(w SeriesWriter, records []types.Record) (outputPath string, err error) {
	if err = w.Initialize(); err != nil {
		return "", err
	}

	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, record := range records {
		if err = w.Write(record); err != nil {
			return "", err
		}
	}

	return w.Finalize()
}
