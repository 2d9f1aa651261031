// Package gap computes which part of a series is missing and reports holes inside a range.
package gap

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series"
)

// Detect returns the window [last.Timestamp + interval, now) that must be fetched to
// bring a series ending at last up to date. An empty window means the series is current.
// A missing baseline fails with ErrCodeInvalidState: the series must be seeded externally.
func Detect(last optional.Option[types.Record], now time.Time, interval int64) (types.FetchWindow, error) {
	if interval <= 0 {
		return types.FetchWindow{}, errors.Newf(errors.ErrCodeInvalidParameter, "interval must be positive, got %d", interval)
	}

	baseline, err := last.Take()
	if err != nil {
		return types.FetchWindow{}, errors.New(errors.ErrCodeInvalidState, "series is empty, seed it before running the updater")
	}

	start := baseline.Timestamp + interval
	end := now.Unix()

	if start >= end {
		return types.FetchWindow{Start: start, End: start}, nil
	}

	return types.FetchWindow{Start: start, End: end}, nil
}

// DetectSeries is Detect applied to the last record of s.
func DetectSeries(s *series.Series, now time.Time, interval int64) (types.FetchWindow, error) {
	return Detect(s.Last(), now, interval)
}

// Gap is a run of consecutive missing buckets, From and To inclusive.
type Gap struct {
	From    int64 `json:"from"`
	To      int64 `json:"to"`
	Missing int64 `json:"missing"`
}

// Report describes coverage of a window.
type Report struct {
	Window   types.FetchWindow `json:"window"`
	Expected int64             `json:"expected"`
	Present  int64             `json:"present"`
	Gaps     []Gap             `json:"gaps"`
}

// Complete reports whether the window has no holes.
func (r Report) Complete() bool { return len(r.Gaps) == 0 }

// MissingBuckets sums the missing buckets over all gaps.
func (r Report) MissingBuckets() int64 {
	var total int64
	for _, g := range r.Gaps {
		total += g.Missing
	}

	return total
}

// Scan reports every spacing larger than interval between records that fall inside
// window. The bucket before window.Start is the baseline, so a hole at the head of the
// window counts. A short tail where upstream has not caught up yet is not a gap.
func Scan(records []types.Record, window types.FetchWindow, interval int64) Report {
	report := Report{Window: window, Expected: window.Buckets(interval)}
	if window.Empty() || interval <= 0 {
		return report
	}

	prev := window.Start - interval

	for _, r := range records {
		if !window.Contains(r.Timestamp) {
			continue
		}

		report.Present++

		if delta := r.Timestamp - prev; delta > interval {
			report.Gaps = append(report.Gaps, Gap{
				From:    prev + interval,
				To:      r.Timestamp - interval,
				Missing: (delta - 1) / interval,
			})
		}

		prev = r.Timestamp
	}

	return report
}
