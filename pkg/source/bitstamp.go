package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/internal/version"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultBitstampURL = "https://www.bitstamp.net/api/v2"
	DefaultPair        = "btcusd"
	DefaultPageLimit   = 1000
	DefaultTimeout     = 30 * time.Second
)

// BitstampConfig configures the Bitstamp OHLC client.
type BitstampConfig struct {
	BaseURL   string        `validate:"required,url"`
	Pair      string        `validate:"required,alphanum"`
	Interval  int64         `validate:"required,oneof=60 180 300 900 1800 3600 7200 14400 21600 43200 86400 259200"`
	PageLimit int           `validate:"required,min=1,max=1000"`
	Timeout   time.Duration `validate:"required"`
	Retry     RetryPolicy
}

// DefaultBitstampConfig returns the configuration used for the btcusd minute dataset.
func DefaultBitstampConfig() BitstampConfig {
	return BitstampConfig{
		BaseURL:   DefaultBitstampURL,
		Pair:      DefaultPair,
		Interval:  types.DefaultInterval,
		PageLimit: DefaultPageLimit,
		Timeout:   DefaultTimeout,
		Retry:     DefaultRetryPolicy(),
	}
}

// BitstampClient pages through the Bitstamp public OHLC endpoint.
type BitstampClient struct {
	client     *resty.Client
	config     BitstampConfig
	logger     *logger.Logger
	onProgress OnFetchProgress
}

// BitstampOption configures a BitstampClient.
type BitstampOption func(*BitstampClient)

// WithProgress registers a progress callback invoked after every page.
func WithProgress(onProgress OnFetchProgress) BitstampOption {
	return func(c *BitstampClient) {
		c.onProgress = onProgress
	}
}

// WithRestyClient replaces the underlying HTTP client. Base URL and timeout from the
// configuration are applied on top of it.
func WithRestyClient(client *resty.Client) BitstampOption {
	return func(c *BitstampClient) {
		c.client = client
	}
}

// NewBitstampClient creates a Provider backed by Bitstamp.
func NewBitstampClient(config BitstampConfig, log *logger.Logger, opts ...BitstampOption) (Provider, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid bitstamp configuration", err)
	}

	c := &BitstampClient{
		client:     resty.New(),
		config:     config,
		logger:     log.Named("bitstamp"),
		onProgress: nil,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Retries are driven by RetryPolicy; the HTTP client issues exactly one request per attempt.
	c.client.
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	return c, nil
}

// Name implements Provider.
func (c *BitstampClient) Name() string {
	return "bitstamp"
}

// Fetch implements Provider.
// The cursor starts at window.Start and moves to the last returned timestamp plus one
// interval after every page. Pagination stops when the window is exhausted, a page is
// empty (upstream lags behind real time) or a page fails to move the cursor forward.
func (c *BitstampClient) Fetch(ctx context.Context, window types.FetchWindow) ([]types.RawRecord, error) {
	if window.Empty() {
		return nil, nil
	}

	var collected []types.RawRecord

	cursor := window.Start
	total := window.End - window.Start

	for page := 1; cursor < window.End; page++ {
		entries, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}

		if len(entries) == 0 {
			c.logger.Info("Empty page, upstream has no more data yet",
				zap.Int("page", page),
				zap.Int64("cursor", cursor),
				zap.Int64("window_end", window.End),
			)

			break
		}

		records, lastTs, ok := c.parsePage(entries, window)
		collected = append(collected, records...)

		c.logger.Debug("Fetched page",
			zap.Int("page", page),
			zap.Int64("cursor", cursor),
			zap.Int("entries", len(entries)),
			zap.Int("in_window", len(records)),
		)

		if !ok || lastTs+c.config.Interval <= cursor {
			c.logger.Warn("Page did not advance the cursor, stopping pagination",
				zap.Int("page", page),
				zap.Int64("cursor", cursor),
			)

			break
		}

		cursor = lastTs + c.config.Interval

		if c.onProgress != nil {
			done := min(cursor, window.End) - window.Start
			c.onProgress(done, total, fmt.Sprintf("Downloading %s from %s", c.config.Pair, c.Name()))
		}
	}

	return Deduplicate(collected), nil
}

// ohlcResponse is the Bitstamp OHLC payload. Every value is a JSON string on the wire.
type ohlcResponse struct {
	Data struct {
		Pair string      `json:"pair"`
		OHLC []ohlcEntry `json:"ohlc"`
	} `json:"data"`
}

type ohlcEntry struct {
	Timestamp wireValue `json:"timestamp"`
	Open      wireValue `json:"open"`
	High      wireValue `json:"high"`
	Low       wireValue `json:"low"`
	Close     wireValue `json:"close"`
	Volume    wireValue `json:"volume"`
}

// wireValue keeps the textual form of a JSON string or number.
type wireValue string

func (v *wireValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*v = wireValue(s)
	default:
		*v = wireValue(data)
	}

	return nil
}

// fetchPage requests one page under the retry policy and maps the final failure to
// RateLimitError or SourceUnavailableError.
func (c *BitstampClient) fetchPage(ctx context.Context, cursor int64) ([]ohlcEntry, error) {
	var entries []ohlcEntry

	err := c.config.Retry.Do(ctx, func() error {
		var reqErr error
		entries, reqErr = c.requestPage(ctx, cursor)

		return reqErr
	}, func(attempt uint64, err error, wait time.Duration) {
		c.logger.Warn("Page request failed, retrying",
			zap.Uint64("attempt", attempt),
			zap.Uint64("max_retries", c.config.Retry.MaxRetries),
			zap.Duration("wait", wait),
			zap.Int64("cursor", cursor),
			zap.Error(err),
		)
	})
	if err == nil {
		return entries, nil
	}

	if Classify(err) == ClassThrottled {
		return nil, errors.Wrapf(errors.ErrCodeRateLimited, err, "bitstamp throttled the request at cursor %d", cursor)
	}

	return nil, errors.Wrapf(errors.ErrCodeSourceUnavailable, err, "bitstamp unavailable at cursor %d", cursor)
}

// requestPage issues a single request for up to PageLimit candles from cursor.
// No end bound is sent: upstream anchors the page at end when both are given.
func (c *BitstampClient) requestPage(ctx context.Context, cursor int64) ([]ohlcEntry, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("pair", c.config.Pair).
		SetQueryParams(map[string]string{
			"step":  strconv.FormatInt(c.config.Interval, 10),
			"start": strconv.FormatInt(cursor, 10),
			"limit": strconv.Itoa(c.config.PageLimit),
		}).
		Get("/ohlc/{pair}/")
	if err != nil {
		class := Classify(err)
		if ctx.Err() != nil {
			class = ClassPermanent
		}

		return nil, &RequestError{Class: class, StatusCode: 0, Err: err}
	}

	status := resp.StatusCode()

	switch {
	case status == http.StatusTooManyRequests:
		return nil, &RequestError{Class: ClassThrottled, StatusCode: status, Err: fmt.Errorf("%s", snippet(resp.Body()))}
	case status >= http.StatusInternalServerError:
		return nil, &RequestError{Class: ClassTransient, StatusCode: status, Err: fmt.Errorf("%s", snippet(resp.Body()))}
	case status >= http.StatusBadRequest:
		return nil, &RequestError{Class: ClassPermanent, StatusCode: status, Err: fmt.Errorf("%s", snippet(resp.Body()))}
	}

	var payload ohlcResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &RequestError{Class: ClassPermanent, StatusCode: status, Err: fmt.Errorf("failed to decode ohlc response: %w", err)}
	}

	return payload.Data.OHLC, nil
}

// parsePage is the schema boundary: entries with an unreadable timestamp are rejected
// with a MalformedRecordError, entries outside the window are dropped. A bucket that
// has not closed by window.End is dropped too so the next run fetches it complete.
// It returns the largest valid timestamp seen on the page.
func (c *BitstampClient) parsePage(entries []ohlcEntry, window types.FetchWindow) ([]types.RawRecord, int64, bool) {
	records := make([]types.RawRecord, 0, len(entries))

	var lastTs int64

	seen := false

	for _, e := range entries {
		ts, err := strconv.ParseInt(strings.TrimSpace(string(e.Timestamp)), 10, 64)
		if err != nil {
			malformed := errors.NewMalformedRecordError(0, "timestamp", string(e.Timestamp), err)
			c.logger.Warn("Skipping record with unreadable timestamp", zap.Error(malformed))

			continue
		}

		if !seen || ts > lastTs {
			lastTs = ts
			seen = true
		}

		if !window.Contains(ts) {
			continue
		}

		if ts+c.config.Interval > window.End {
			c.logger.Debug("Skipping bucket that is still open", zap.Int64("timestamp", ts))

			continue
		}

		records = append(records, types.RawRecord{
			Timestamp: ts,
			Open:      string(e.Open),
			High:      string(e.High),
			Low:       string(e.Low),
			Close:     string(e.Close),
			Volume:    string(e.Volume),
		})
	}

	return records, lastTs, seen
}

func snippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		body = body[:limit]
	}

	return strings.TrimSpace(string(body))
}
