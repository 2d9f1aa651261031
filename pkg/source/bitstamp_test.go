package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type BitstampClientTestSuite struct {
	suite.Suite
	hits    atomic.Int32
	mu      sync.Mutex
	queries []url.Values
	paths   []string
}

func TestBitstampClientSuite(t *testing.T) {
	suite.Run(t, new(BitstampClientTestSuite))
}

func (suite *BitstampClientTestSuite) SetupTest() {
	suite.hits.Store(0)
	suite.queries = nil
	suite.paths = nil
}

type entry map[string]any

func candle(ts int64, close string) entry {
	return entry{
		"timestamp": strconv.FormatInt(ts, 10),
		"open":      "42000.0",
		"high":      "42100.0",
		"low":       "41900.0",
		"close":     close,
		"volume":    "1.25",
	}
}

func writePage(w http.ResponseWriter, entries ...entry) {
	if entries == nil {
		entries = []entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"pair": "BTC/USD", "ohlc": entries},
	})
}

// ohlcBook serves the candles first..latest the way upstream pages them: limit
// candles from start, or, when end is present, the limit candles ending at end.
type ohlcBook struct {
	first  int64
	latest int64
}

func (b ohlcBook) serve(w http.ResponseWriter, r *http.Request) {
	const step = 60

	q := r.URL.Query()
	limit, _ := strconv.ParseInt(q.Get("limit"), 10, 64)
	start, _ := strconv.ParseInt(q.Get("start"), 10, 64)

	var from, last int64

	if q.Has("end") {
		end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
		last = min(b.latest, end-end%step)
		from = last - (limit-1)*step
	} else {
		from = start + (step-start%step)%step
		last = min(b.latest, from+(limit-1)*step)
	}

	from = max(from, b.first)

	var entries []entry
	for ts := from; ts <= last; ts += step {
		entries = append(entries, candle(ts, strconv.FormatInt(ts, 10)))
	}

	writePage(w, entries...)
}

// newClient starts a server whose handler receives the 1-based request number.
func (suite *BitstampClientTestSuite) newClient(handler func(n int, w http.ResponseWriter, r *http.Request), opts ...BitstampOption) Provider {
	return suite.newClientWithLimit(DefaultPageLimit, handler, opts...)
}

func (suite *BitstampClientTestSuite) newClientWithLimit(limit int, handler func(n int, w http.ResponseWriter, r *http.Request), opts ...BitstampOption) Provider {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(suite.hits.Add(1))

		suite.mu.Lock()
		suite.queries = append(suite.queries, r.URL.Query())
		suite.paths = append(suite.paths, r.URL.Path)
		suite.mu.Unlock()

		handler(n, w, r)
	}))
	suite.T().Cleanup(server.Close)

	config := DefaultBitstampConfig()
	config.BaseURL = server.URL
	config.Timeout = 200 * time.Millisecond
	config.Retry = fastPolicy()
	config.PageLimit = limit

	client, err := NewBitstampClient(config, logger.NewNopLogger(), opts...)
	suite.Require().NoError(err)

	return client
}

func (suite *BitstampClientTestSuite) TestNewBitstampClientInvalidConfig() {
	config := DefaultBitstampConfig()
	config.PageLimit = 5000

	client, err := NewBitstampClient(config, logger.NewNopLogger())
	suite.Error(err)
	suite.Nil(client)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *BitstampClientTestSuite) TestEmptyWindowDoesNotCallAPI() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		writePage(w)
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 600, End: 600})
	suite.NoError(err)
	suite.Empty(records)
	suite.Equal(int32(0), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestRequestParameters() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		writePage(w)
	})

	_, err := client.Fetch(context.Background(), types.FetchWindow{Start: 1700000060, End: 1700086400})
	suite.Require().NoError(err)
	suite.Require().Len(suite.queries, 1)

	suite.Equal("/ohlc/btcusd/", suite.paths[0])
	q := suite.queries[0]
	suite.Equal("60", q.Get("step"))
	suite.Equal("1700000060", q.Get("start"))
	suite.False(q.Has("end"))
	suite.Equal("1000", q.Get("limit"))
}

func (suite *BitstampClientTestSuite) TestFetchesWholeDayLongerThanOnePage() {
	window := types.FetchWindow{Start: 1700000040, End: 1700000040 + 2500*60}
	book := ohlcBook{first: window.Start - 600*60, latest: window.End - 60}
	client := suite.newClient(func(_ int, w http.ResponseWriter, r *http.Request) {
		book.serve(w, r)
	})

	records, err := client.Fetch(context.Background(), window)
	suite.Require().NoError(err)

	suite.Require().Len(records, 2500)
	for i, r := range records {
		suite.Equal(window.Start+int64(60*i), r.Timestamp)
	}

	suite.Equal(int32(3), suite.hits.Load())
	for _, q := range suite.queries {
		suite.False(q.Has("end"))
	}
}

func (suite *BitstampClientTestSuite) TestPaginatesUntilWindowExhausted() {
	book := ohlcBook{first: 0, latest: 6000}
	client := suite.newClientWithLimit(2, func(_ int, w http.ResponseWriter, r *http.Request) {
		book.serve(w, r)
	})

	window := types.FetchWindow{Start: 60, End: 420}
	records, err := client.Fetch(context.Background(), window)
	suite.Require().NoError(err)

	suite.Len(records, 6)
	for i, r := range records {
		suite.Equal(int64(60+60*i), r.Timestamp)
	}

	suite.Equal(int32(3), suite.hits.Load())
	suite.Equal("60", suite.queries[0].Get("start"))
	suite.Equal("180", suite.queries[1].Get("start"))
	suite.Equal("300", suite.queries[2].Get("start"))
}

func (suite *BitstampClientTestSuite) TestStopsOnEmptyPage() {
	// Upstream lags: nothing newer than 120 yet
	book := ohlcBook{first: 0, latest: 120}
	client := suite.newClient(func(_ int, w http.ResponseWriter, r *http.Request) {
		book.serve(w, r)
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 6000})
	suite.Require().NoError(err)
	suite.Len(records, 2)
	suite.Equal(int32(2), suite.hits.Load())
	suite.Equal("180", suite.queries[1].Get("start"))
}

func (suite *BitstampClientTestSuite) TestSkipsBucketStillOpen() {
	// At now=1000 the candle at 960 covers 960-1019 and is partial
	book := ohlcBook{first: 0, latest: 960}
	client := suite.newClient(func(_ int, w http.ResponseWriter, r *http.Request) {
		book.serve(w, r)
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 900, End: 1000})
	suite.Require().NoError(err)
	suite.Require().Len(records, 1)
	suite.Equal(int64(900), records[0].Timestamp)
	suite.Equal(int32(1), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestOverlappingPagesDeduplicated() {
	client := suite.newClient(func(n int, w http.ResponseWriter, _ *http.Request) {
		switch n {
		case 1:
			writePage(w, candle(100, "1.0"), candle(160, "1.6"))
		case 2:
			writePage(w, candle(160, "1.61"), candle(220, "2.2"))
		default:
			writePage(w)
		}
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 100, End: 300})
	suite.Require().NoError(err)

	suite.Require().Len(records, 3)
	suite.Equal([]int64{100, 160, 220}, []int64{records[0].Timestamp, records[1].Timestamp, records[2].Timestamp})
	suite.Equal("1.61", records[1].Close, "later page wins")
}

func (suite *BitstampClientTestSuite) TestStopsWhenCursorDoesNotAdvance() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		// Upstream ignoring start and always answering with the same old data
		writePage(w, candle(0, "1"))
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 600, End: 6000})
	suite.Require().NoError(err)
	suite.Empty(records)
	suite.Equal(int32(1), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestDropsRecordsOutsideWindowAndBadTimestamps() {
	client := suite.newClient(func(n int, w http.ResponseWriter, _ *http.Request) {
		if n > 1 {
			writePage(w)

			return
		}

		bad := candle(0, "1")
		bad["timestamp"] = "not-a-number"
		writePage(w, candle(0, "0"), candle(60, "1"), bad, candle(120, "2"), candle(180, "3"))
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 180})
	suite.Require().NoError(err)
	suite.Require().Len(records, 2)
	suite.Equal(int64(60), records[0].Timestamp)
	suite.Equal(int64(120), records[1].Timestamp)
}

func (suite *BitstampClientTestSuite) TestKeepsMalformedNumericFieldsRaw() {
	client := suite.newClient(func(n int, w http.ResponseWriter, _ *http.Request) {
		if n > 1 {
			writePage(w)

			return
		}

		writePage(w, candle(60, "abc"))
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Require().NoError(err)
	suite.Require().Len(records, 1)
	suite.Equal("abc", records[0].Close)
}

func (suite *BitstampClientTestSuite) TestAcceptsNumericJSONValues() {
	client := suite.newClient(func(n int, w http.ResponseWriter, _ *http.Request) {
		if n > 1 {
			writePage(w)

			return
		}

		writePage(w, entry{"timestamp": 60, "open": 1.5, "high": 2, "low": 1, "close": 1.75, "volume": 0})
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Require().NoError(err)
	suite.Require().Len(records, 1)
	suite.Equal(types.RawRecord{Timestamp: 60, Open: "1.5", High: "2", Low: "1", Close: "1.75", Volume: "0"}, records[0])
}

func (suite *BitstampClientTestSuite) TestRetriesServiceUnavailableThenSucceeds() {
	client := suite.newClient(func(n int, w http.ResponseWriter, _ *http.Request) {
		switch {
		case n <= 3:
			w.WriteHeader(http.StatusServiceUnavailable)
		case n == 4:
			writePage(w, candle(60, "1"))
		default:
			writePage(w)
		}
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Require().NoError(err)
	suite.Len(records, 1)
	suite.Equal(int32(5), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestFewerFailuresThanBudgetSucceed() {
	for failures := 0; failures < 3; failures++ {
		suite.SetupTest()

		client := suite.newClient(func(n int, w http.ResponseWriter, _ *http.Request) {
			switch {
			case n <= failures:
				w.WriteHeader(http.StatusBadGateway)
			case n == failures+1:
				writePage(w, candle(60, "1"))
			default:
				writePage(w)
			}
		})

		records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
		suite.NoError(err, "failures=%d", failures)
		suite.Len(records, 1)
	}
}

func (suite *BitstampClientTestSuite) TestExhaustedRetriesSourceUnavailable() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Error(err)
	suite.Nil(records)
	suite.True(errors.HasCode(err, errors.ErrCodeSourceUnavailable))
	suite.Equal(int32(4), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestRateLimited() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRateLimited))
	suite.Equal(int32(4), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestClientErrorNotRetried() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"field":"start","message":"invalid"}]}`))
	})

	_, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeSourceUnavailable))
	suite.Equal(int32(1), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestUndecodableBodyNotRetried() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.True(errors.HasCode(err, errors.ErrCodeSourceUnavailable))
	suite.Equal(int32(1), suite.hits.Load())
}

func (suite *BitstampClientTestSuite) TestTimeoutIsRetried() {
	client := suite.newClient(func(n int, w http.ResponseWriter, r *http.Request) {
		switch n {
		case 1:
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		case 2:
			writePage(w, candle(60, "1"))
		default:
			writePage(w)
		}
	})

	records, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 600})
	suite.Require().NoError(err)
	suite.Len(records, 1)
}

func (suite *BitstampClientTestSuite) TestProgressCallback() {
	var progress []int64

	client := suite.newClient(func(_ int, w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
		writePage(w, candle(start, "1"), candle(start+60, "1"))
	}, WithProgress(func(current, total int64, _ string) {
		suite.Equal(int64(240), total)
		progress = append(progress, current)
	}))

	_, err := client.Fetch(context.Background(), types.FetchWindow{Start: 60, End: 300})
	suite.Require().NoError(err)
	suite.Equal([]int64{120, 240}, progress)
}

func (suite *BitstampClientTestSuite) TestDeduplicate() {
	got := Deduplicate([]types.RawRecord{
		{Timestamp: 220, Close: "c"},
		{Timestamp: 100, Close: "a"},
		{Timestamp: 160, Close: "b1"},
		{Timestamp: 160, Close: "b2"},
	})

	suite.Equal([]types.RawRecord{
		{Timestamp: 100, Close: "a"},
		{Timestamp: 160, Close: "b2"},
		{Timestamp: 220, Close: "c"},
	}, got)
	suite.Empty(Deduplicate(nil))
}

func (suite *BitstampClientTestSuite) TestName() {
	client := suite.newClient(func(_ int, w http.ResponseWriter, _ *http.Request) { writePage(w) })
	suite.Equal("bitstamp", client.Name())
}
