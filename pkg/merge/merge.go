// Package merge integrates freshly fetched records into a series.
package merge

import (
	"math"
	"strconv"
	"strings"

	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series"
	"go.uber.org/zap"
)

// Stats summarizes a merge pass.
type Stats struct {
	Inserted int
	Updated  int
	Skipped  int
	Rejected []*errors.MalformedRecordError
}

// Changed reports whether the merge altered the series.
func (s Stats) Changed() bool {
	return s.Inserted > 0 || s.Updated > 0
}

// Merger normalizes raw records and merges them into a series by timestamp.
type Merger struct {
	logger *logger.Logger
}

// NewMerger creates a new Merger.
func NewMerger(log *logger.Logger) *Merger {
	return &Merger{logger: log.Named("merger")}
}

// Merge overwrites records whose timestamp already exists in s and inserts the rest,
// keeping s strictly increasing. Records that fail normalization are logged, counted
// in Stats.Rejected and skipped. Merging the same batch again yields the same series.
func (m *Merger) Merge(s *series.Series, incoming []types.RawRecord) (Stats, error) {
	var stats Stats

	normalized := make([]types.Record, 0, len(incoming))

	for _, raw := range incoming {
		record, err := Normalize(raw)
		if err != nil {
			m.logger.Warn("Skipping malformed record",
				zap.Int64("timestamp", err.Timestamp),
				zap.String("field", err.Field),
				zap.String("value", err.Value),
				zap.Error(err.Cause),
			)

			stats.Skipped++
			stats.Rejected = append(stats.Rejected, err)

			continue
		}

		normalized = append(normalized, record)
	}

	// Input is expected sorted and unique; restore that if a caller did not.
	batch := series.New(normalized).Records()

	merged, inserted, updated := mergeSorted(s.Records(), batch)
	if err := s.Replace(merged); err != nil {
		return stats, errors.Wrap(errors.ErrCodeInvalidState, "merge produced an invalid series", err)
	}

	stats.Inserted = inserted
	stats.Updated = updated

	m.logger.Info("Merged records",
		zap.Int("incoming", len(incoming)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("series_len", s.Len()),
	)

	return stats, nil
}

// mergeSorted performs a linear two-way merge of two strictly increasing slices.
// On equal timestamps the incoming record replaces the existing one.
func mergeSorted(existing, incoming []types.Record) ([]types.Record, int, int) {
	out := make([]types.Record, 0, len(existing)+len(incoming))
	inserted, updated := 0, 0

	i, j := 0, 0
	for i < len(existing) && j < len(incoming) {
		switch {
		case existing[i].Timestamp < incoming[j].Timestamp:
			out = append(out, existing[i])
			i++
		case existing[i].Timestamp > incoming[j].Timestamp:
			out = append(out, incoming[j])
			inserted++
			j++
		default:
			out = append(out, incoming[j])
			updated++
			i++
			j++
		}
	}

	out = append(out, existing[i:]...)
	inserted += len(incoming) - j
	out = append(out, incoming[j:]...)

	return out, inserted, updated
}

// Normalize converts a raw record into a typed record. Every numeric field must parse
// as a finite float.
func Normalize(raw types.RawRecord) (types.Record, *errors.MalformedRecordError) {
	record := types.Record{Timestamp: raw.Timestamp}

	fields := []struct {
		name  string
		value string
		dst   *float64
	}{
		{"open", raw.Open, &record.Open},
		{"high", raw.High, &record.High},
		{"low", raw.Low, &record.Low},
		{"close", raw.Close, &record.Close},
		{"volume", raw.Volume, &record.Volume},
	}

	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.value), 64)
		if err != nil {
			return types.Record{}, errors.NewMalformedRecordError(raw.Timestamp, f.name, f.value, err)
		}

		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.Record{}, errors.NewMalformedRecordError(raw.Timestamp, f.name, f.value, errNonFinite)
		}

		*f.dst = v
	}

	return record, nil
}

var errNonFinite = errors.New(errors.ErrCodeMalformedRecord, "value is not finite")
