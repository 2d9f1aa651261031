// Package series holds the dataset under management: an ordered sequence of records,
// strictly increasing by timestamp with no duplicates.
//
// A Series is owned by a single pipeline run and is not safe for concurrent use.
package series

import (
	"slices"
	"sort"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
)

// Series is an ordered set of records keyed by timestamp.
type Series struct {
	records []types.Record
}

// New builds a series from records in any order.
// Duplicate timestamps are resolved in favour of the last occurrence.
func New(records []types.Record) *Series {
	s := &Series{}
	s.records, _ = normalize(records)

	return s
}

// Len returns the number of records.
func (s *Series) Len() int {
	return len(s.records)
}

// First returns the earliest record, if any.
func (s *Series) First() optional.Option[types.Record] {
	if len(s.records) == 0 {
		return optional.None[types.Record]()
	}

	return optional.Some(s.records[0])
}

// Last returns the latest record, if any.
func (s *Series) Last() optional.Option[types.Record] {
	if len(s.records) == 0 {
		return optional.None[types.Record]()
	}

	return optional.Some(s.records[len(s.records)-1])
}

// Records returns the underlying ordered records. Callers must not modify the slice.
func (s *Series) Records() []types.Record {
	return s.records
}

// Get looks up the record at ts.
func (s *Series) Get(ts int64) (types.Record, bool) {
	i, found := s.search(ts)
	if !found {
		return types.Record{}, false
	}

	return s.records[i], true
}

// Range returns the records whose timestamp falls inside w.
func (s *Series) Range(w types.FetchWindow) []types.Record {
	if w.Empty() {
		return nil
	}

	lo, _ := s.search(w.Start)
	hi, _ := s.search(w.End)

	return s.records[lo:hi]
}

// Span returns the window [first, last+interval) covered by the series.
// It is empty for an empty series.
func (s *Series) Span(interval int64) types.FetchWindow {
	if len(s.records) == 0 {
		return types.FetchWindow{}
	}

	return types.FetchWindow{
		Start: s.records[0].Timestamp,
		End:   s.records[len(s.records)-1].Timestamp + interval,
	}
}

// Replace swaps in a new record set. The records must be strictly increasing.
func (s *Series) Replace(records []types.Record) error {
	if err := Validate(records); err != nil {
		return err
	}

	s.records = records

	return nil
}

// Clone returns an independent copy of the series.
func (s *Series) Clone() *Series {
	return &Series{records: slices.Clone(s.records)}
}

func (s *Series) search(ts int64) (int, bool) {
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Timestamp >= ts
	})

	return i, i < len(s.records) && s.records[i].Timestamp == ts
}

// Validate checks that records are strictly increasing by timestamp.
func Validate(records []types.Record) error {
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp <= records[i-1].Timestamp {
			return errors.Newf(errors.ErrCodeInvalidState,
				"series not strictly increasing at index %d: %d after %d",
				i, records[i].Timestamp, records[i-1].Timestamp)
		}
	}

	return nil
}

// normalize sorts records by timestamp and drops earlier duplicates.
// It returns the number of dropped duplicates.
func normalize(records []types.Record) ([]types.Record, int) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b types.Record) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})

	out := sorted[:0]
	dropped := 0

	for _, r := range sorted {
		if len(out) > 0 && out[len(out)-1].Timestamp == r.Timestamp {
			out[len(out)-1] = r
			dropped++

			continue
		}

		out = append(out, r)
	}

	return out, dropped
}
