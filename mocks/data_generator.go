package mocks

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/rxtech-lab/btcusd-dataset/internal/types"
)

// DataGenerator generates minute candles for tests and benchmarks.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how candles are generated.
type GeneratorConfig struct {
	// StartTimestamp is the epoch second of the first bucket
	StartTimestamp int64
	// Interval is the bucket width in seconds
	Interval int64
	// Count is the number of buckets covered, including missing ones
	Count int
	// InitialPrice is the starting price
	InitialPrice float64
	// Volatility controls price movement (0.001 = 0.1% per bar)
	Volatility float64
	// VolumeBase is the average volume per bar
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
	// MissingRate is the probability that a bucket has no candle, as when the
	// exchange had no trades in that minute
	MissingRate float64
}

// DefaultConfig returns a day of minute candles starting 2024-01-01.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		StartTimestamp: 1704067200,
		Interval:       types.DefaultInterval,
		Count:          1440,
		InitialPrice:   42000.0,
		Volatility:     0.001,
		VolumeBase:     2.5,
		VolumeVariance: 0.5,
		MissingRate:    0,
	}
}

// Generate creates candles following a geometric Brownian motion.
// Timestamps are strictly increasing and aligned to the interval.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.Record {
	data := make([]types.Record, 0, config.Count)
	currentPrice := config.InitialPrice

	for i := 0; i < config.Count; i++ {
		ts := config.StartTimestamp + int64(i)*config.Interval

		// Box-Muller transform for a normal sample
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		open := currentPrice
		close := open * (1 + config.Volatility*z)
		if close <= 0 {
			close = open * 0.99
		}

		high := math.Max(open, close) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		low := math.Min(open, close) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		if low <= 0 {
			low = math.Min(open, close) * 0.99
		}

		volume := config.VolumeBase * (1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance)
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		currentPrice = close

		if config.MissingRate > 0 && g.rng.Float64() < config.MissingRate {
			continue
		}

		data = append(data, types.Record{
			Timestamp: ts,
			Open:      roundToDecimals(open, 2),
			High:      roundToDecimals(high, 2),
			Low:       roundToDecimals(low, 2),
			Close:     roundToDecimals(close, 2),
			Volume:    roundToDecimals(volume, 8),
		})
	}

	return data
}

// GenerateRaw renders Generate's candles the way the exchange sends them.
func (g *DataGenerator) GenerateRaw(config GeneratorConfig) []types.RawRecord {
	records := g.Generate(config)
	raw := make([]types.RawRecord, len(records))

	for i, r := range records {
		raw[i] = ToRaw(r)
	}

	return raw
}

// ToRaw formats r with textual numeric fields.
func ToRaw(r types.Record) types.RawRecord {
	return types.RawRecord{
		Timestamp: r.Timestamp,
		Open:      strconv.FormatFloat(r.Open, 'f', -1, 64),
		High:      strconv.FormatFloat(r.High, 'f', -1, 64),
		Low:       strconv.FormatFloat(r.Low, 'f', -1, 64),
		Close:     strconv.FormatFloat(r.Close, 'f', -1, 64),
		Volume:    strconv.FormatFloat(r.Volume, 'f', -1, 64),
	}
}

// GenerateDays is a convenience function generating n days of minute candles
// with default settings for benchmarking.
func GenerateDays(n int) []types.Record {
	gen := NewDataGenerator(42)
	config := DefaultConfig()
	config.Count = n * 1440

	return gen.Generate(config)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(val*pow) / pow
}
