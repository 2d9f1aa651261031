package source

import (
	"context"
	"slices"

	"github.com/rxtech-lab/btcusd-dataset/internal/types"
)

// OnFetchProgress reports how far into the window pagination has advanced, in seconds.
type OnFetchProgress = func(current int64, total int64, message string)

// Provider retrieves the raw records of a window from an exchange.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Fetch returns every record whose timestamp falls inside window, sorted ascending
	// with unique timestamps. The result may be shorter than the window when upstream
	// has not caught up yet; it is never longer.
	// example:
	// Fetch(ctx, types.FetchWindow{Start: 1700000060, End: 1700086400})
	Fetch(ctx context.Context, window types.FetchWindow) ([]types.RawRecord, error)
}

// Deduplicate sorts records by timestamp and collapses duplicates to the last occurrence.
// Overlapping pages therefore resolve in favour of the later page.
func Deduplicate(records []types.RawRecord) []types.RawRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b types.RawRecord) int {
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
	for _, r := range sorted {
		if len(out) > 0 && out[len(out)-1].Timestamp == r.Timestamp {
			out[len(out)-1] = r

			continue
		}

		out = append(out, r)
	}

	return out
}
