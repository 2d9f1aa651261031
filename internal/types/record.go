package types

import "time"

// DefaultInterval is the sampling granularity of the dataset in seconds (one minute bars).
const DefaultInterval int64 = 60

// Record is a single minute-bucketed trade aggregate.
// Timestamp is seconds since epoch and is the unique key of a series.
type Record struct {
	Timestamp int64   `csv:"Timestamp" json:"timestamp"`
	Open      float64 `csv:"Open" json:"open"`
	High      float64 `csv:"High" json:"high"`
	Low       float64 `csv:"Low" json:"low"`
	Close     float64 `csv:"Close" json:"close"`
	Volume    float64 `csv:"Volume" json:"volume"`
}

// Time returns the record timestamp as a UTC time.
func (r Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// RawRecord is a record as received from the source.
// The key is already parsed; numeric fields are kept verbatim until normalization.
type RawRecord struct {
	Timestamp int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
}

// FetchWindow is the half-open interval [Start, End) of timestamps missing from a series.
type FetchWindow struct {
	Start int64
	End   int64
}

// Empty reports whether the window contains no timestamps.
func (w FetchWindow) Empty() bool {
	return w.Start >= w.End
}

// Contains reports whether ts falls inside the window.
func (w FetchWindow) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// Buckets returns the number of interval-sized buckets the window spans.
func (w FetchWindow) Buckets(interval int64) int64 {
	if w.Empty() || interval <= 0 {
		return 0
	}

	return (w.End - w.Start + interval - 1) / interval
}
