package series

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series/writer"
)

// csvTimestamp accepts both integer and float-formatted epoch seconds.
// Earlier exports of the dataset store the key as "1325412060.0".
type csvTimestamp struct {
	value int64
	float bool
}

func (t *csvTimestamp) UnmarshalCSV(value string) error {
	value = strings.TrimSpace(value)

	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		*t = csvTimestamp{value: v, float: false}

		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", value, err)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return fmt.Errorf("invalid timestamp %q: not a whole number of seconds", value)
	}

	*t = csvTimestamp{value: int64(f), float: true}

	return nil
}

type csvRow struct {
	Timestamp csvTimestamp `csv:"Timestamp"`
	Open      float64      `csv:"Open"`
	High      float64      `csv:"High"`
	Low       float64      `csv:"Low"`
	Close     float64      `csv:"Close"`
	Volume    float64      `csv:"Volume"`
}

// LoadStats describes what the loader had to repair in the persisted file.
type LoadStats struct {
	Rows            int  // Rows read from the file
	Duplicates      int  // Rows dropped because a later row had the same timestamp
	Unsorted        bool // File was not in ascending timestamp order
	FloatTimestamps int  // Rows whose timestamp was written as a float
}

// Repaired reports whether the in-memory series differs from the file on disk.
func (s LoadStats) Repaired() bool {
	return s.Duplicates > 0 || s.Unsorted || s.FloatTimestamps > 0
}

// Load reads a series from a CSV file with a Timestamp,Open,High,Low,Close,Volume header.
func Load(path string) (*Series, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, errors.Wrapf(errors.ErrCodeDatasetIO, err, "failed to open dataset %s", path)
	}
	defer f.Close()

	return Read(f)
}

// Read parses a series from CSV. Input order is not trusted: rows are sorted and
// duplicate timestamps collapse to the last occurrence. An unparsable or non-finite
// row fails the whole load with ErrCodeInvalidState.
func Read(r io.Reader) (*Series, LoadStats, error) {
	var rows []csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, LoadStats{}, errors.Wrap(errors.ErrCodeInvalidState, "failed to parse dataset", err)
	}

	stats := LoadStats{Rows: len(rows)}
	records := make([]types.Record, 0, len(rows))

	for i, row := range rows {
		record := types.Record{
			Timestamp: row.Timestamp.value,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		}

		if field, ok := nonFiniteField(record); ok {
			return nil, stats, errors.Newf(errors.ErrCodeInvalidState,
				"dataset row %d (timestamp %d): %s is not finite", i+1, record.Timestamp, field)
		}

		if row.Timestamp.float {
			stats.FloatTimestamps++
		}

		if i > 0 && record.Timestamp < records[i-1].Timestamp {
			stats.Unsorted = true
		}

		records = append(records, record)
	}

	s := &Series{}
	s.records, stats.Duplicates = normalize(records)

	return s, stats, nil
}

// Save writes the full series to path, replacing it atomically.
func (s *Series) Save(path string) error {
	return s.WriteTo(writer.NewCSVWriter(path))
}

// WriteTo streams the series through w.
func (s *Series) WriteTo(w writer.SeriesWriter) error {
	if _, err := writer.WriteAll(w, s.records); err != nil {
		return errors.Wrapf(errors.ErrCodeDatasetIO, err, "failed to write series to %s", w.GetOutputPath())
	}

	return nil
}

func nonFiniteField(r types.Record) (string, bool) {
	fields := []struct {
		name  string
		value float64
	}{
		{"Open", r.Open},
		{"High", r.High},
		{"Low", r.Low},
		{"Close", r.Close},
		{"Volume", r.Volume},
	}

	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return f.name, true
		}
	}

	return "", false
}
