package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxtech-lab/btcusd-dataset/pkg/publish"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series"
	"github.com/stretchr/testify/suite"
)

type UpdaterCLITestSuite struct {
	suite.Suite
	dir       string
	dataset   string
	published string
	server    *httptest.Server
	hits      atomic.Int32
	failFirst int32
}

func TestUpdaterCLISuite(t *testing.T) {
	suite.Run(t, new(UpdaterCLITestSuite))
}

func (suite *UpdaterCLITestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.dataset = filepath.Join(suite.dir, publish.DefaultDatasetFile)
	suite.published = filepath.Join(suite.dir, "published")
	suite.hits.Store(0)
	suite.failFirst = 0

	// Serves up to limit aligned candles from start, like the exchange does.
	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if suite.hits.Add(1) <= suite.failFirst {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)

			return
		}

		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("start"), 10, 64)
		step, _ := strconv.ParseInt(q.Get("step"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		// Upstream lags two minutes behind real time.
		end := time.Now().Unix() - 120

		ohlc := []map[string]string{}
		for ts := (start + step - 1) / step * step; ts <= end && len(ohlc) < limit; ts += step {
			ohlc = append(ohlc, map[string]string{
				"timestamp": strconv.FormatInt(ts, 10),
				"open":      "42000",
				"high":      "42010",
				"low":       "41990",
				"close":     "42005",
				"volume":    "0.5",
			})
		}

		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"pair": "BTC/USD", "ohlc": ohlc}})
	}))
	suite.T().Cleanup(suite.server.Close)
}

func (suite *UpdaterCLITestSuite) writeConfig() string {
	content := fmt.Sprintf(`
dataset:
  path: %s
source:
  base_url: %s
  timeout: 2s
retry:
  max_retries: 3
  base_delay: 1ms
  max_delay: 5ms
  multiplier: 2
  retry_on: [transient, throttled]
publish:
  target: local
  dir: %s
log:
  level: error
`, suite.dataset, suite.server.URL, suite.published)

	path := filepath.Join(suite.dir, "updater.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	return path
}

// writeDataset writes minute candles ending ago before now.
func (suite *UpdaterCLITestSuite) writeDataset(ago time.Duration, skip ...int64) int64 {
	last := (time.Now().Add(-ago).Unix() / 60) * 60

	var b strings.Builder
	b.WriteString("Timestamp,Open,High,Low,Close,Volume\n")

	for i := int64(9); i >= 0; i-- {
		ts := last - i*60
		if contains(skip, ts) {
			continue
		}

		fmt.Fprintf(&b, "%d,1,2,0.5,1.5,3\n", ts)
	}

	suite.Require().NoError(os.WriteFile(suite.dataset, []byte(b.String()), 0o644))

	return last
}

func contains(values []int64, v int64) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}

	return false
}

func (suite *UpdaterCLITestSuite) run(args ...string) (string, error) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(context.Background(), append([]string{"updater"}, args...))

	return out.String(), err
}

func (suite *UpdaterCLITestSuite) TestRunFetchesAndPublishes() {
	last := suite.writeDataset(10 * time.Minute)

	out, err := suite.run("--config", suite.writeConfig(), "run", "--no-progress")
	suite.Require().NoError(err, out)
	suite.Contains(out, "published:  true")

	s, _, err := series.Load(filepath.Join(suite.published, publish.DefaultDatasetFile))
	suite.Require().NoError(err)
	suite.Greater(s.Last().Unwrap().Timestamp, last)
	suite.GreaterOrEqual(s.Len(), 15)

	notes, err := os.ReadFile(filepath.Join(suite.published, publish.VersionNotesFile))
	suite.Require().NoError(err)
	suite.Contains(string(notes), "Automated update")
}

func (suite *UpdaterCLITestSuite) TestRunRetriesTransientFailures() {
	suite.failFirst = 3
	suite.writeDataset(10 * time.Minute)

	out, err := suite.run("--config", suite.writeConfig(), "run", "--no-progress")
	suite.Require().NoError(err, out)
	suite.GreaterOrEqual(suite.hits.Load(), int32(4))
}

func (suite *UpdaterCLITestSuite) TestRunFailsWhenSourceStaysDown() {
	suite.failFirst = 100
	suite.writeDataset(10 * time.Minute)
	before, err := os.ReadFile(suite.dataset)
	suite.Require().NoError(err)

	_, err = suite.run("--config", suite.writeConfig(), "run", "--no-progress")
	suite.Error(err)
	suite.Equal(int32(4), suite.hits.Load())

	after, err := os.ReadFile(suite.dataset)
	suite.Require().NoError(err)
	suite.Equal(before, after)
	suite.NoFileExists(filepath.Join(suite.published, publish.DefaultDatasetFile))
}

func (suite *UpdaterCLITestSuite) TestDryRunDoesNotPublish() {
	suite.writeDataset(10 * time.Minute)

	out, err := suite.run("--config", suite.writeConfig(), "run", "--dry-run", "--no-progress")
	suite.Require().NoError(err, out)
	suite.Contains(out, "published:  false")
	suite.NoFileExists(filepath.Join(suite.published, publish.DefaultDatasetFile))
}

func (suite *UpdaterCLITestSuite) TestCheckReportsGaps() {
	last := suite.writeDataset(time.Hour)

	out, err := suite.run("--config", suite.writeConfig(), "check")
	suite.Require().NoError(err, out)
	suite.Contains(out, "gaps:       0")

	suite.writeDataset(time.Hour, last-5*60, last-4*60)

	out, err = suite.run("--config", suite.writeConfig(), "check")
	suite.Require().NoError(err, out)
	suite.Contains(out, "gaps:       1 (2 missing")
	suite.Zero(suite.hits.Load())
}

func (suite *UpdaterCLITestSuite) TestSchema() {
	out, err := suite.run("schema")
	suite.Require().NoError(err)

	var schema map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &schema))
	suite.Equal("btcusd-dataset-updater-config", schema["title"])
}

func (suite *UpdaterCLITestSuite) TestInvalidConfig() {
	path := filepath.Join(suite.dir, "bad.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("publish:\n  target: s3\n"), 0o644))

	_, err := suite.run("--config", path, "run", "--no-progress")
	suite.Error(err)
}
