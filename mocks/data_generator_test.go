package mocks

import (
	"testing"
)

func TestDataGenerator_Generate(t *testing.T) {
	gen := NewDataGenerator(42) // Fixed seed for reproducibility
	config := DefaultConfig()
	config.Count = 100

	data := gen.Generate(config)

	if len(data) != 100 {
		t.Errorf("expected 100 candles, got %d", len(data))
	}

	if data[0].Timestamp != config.StartTimestamp {
		t.Errorf("expected first timestamp %d, got %d", config.StartTimestamp, data[0].Timestamp)
	}

	for i := 1; i < len(data); i++ {
		if data[i].Timestamp-data[i-1].Timestamp != config.Interval {
			t.Errorf("unexpected spacing at index %d: %d", i, data[i].Timestamp-data[i-1].Timestamp)
		}
	}

	for i, d := range data {
		if d.Open <= 0 || d.High <= 0 || d.Low <= 0 || d.Close <= 0 {
			t.Errorf("invalid OHLC values at index %d: O=%f H=%f L=%f C=%f",
				i, d.Open, d.High, d.Low, d.Close)
		}

		if d.High < d.Low {
			t.Errorf("High < Low at index %d: H=%f L=%f", i, d.High, d.Low)
		}
	}
}

func TestDataGenerator_MissingBuckets(t *testing.T) {
	gen := NewDataGenerator(7)
	config := DefaultConfig()
	config.Count = 1000
	config.MissingRate = 0.2

	data := gen.Generate(config)

	if len(data) >= config.Count || len(data) == 0 {
		t.Fatalf("expected some but not all buckets, got %d of %d", len(data), config.Count)
	}

	for i := 1; i < len(data); i++ {
		delta := data[i].Timestamp - data[i-1].Timestamp
		if delta <= 0 || delta%config.Interval != 0 {
			t.Errorf("misaligned timestamps at index %d: delta %d", i, delta)
		}
	}
}

func TestDataGenerator_Reproducibility(t *testing.T) {
	config := DefaultConfig()
	config.Count = 10

	data1 := NewDataGenerator(42).Generate(config)
	data2 := NewDataGenerator(42).Generate(config)

	for i := range data1 {
		if data1[i] != data2[i] {
			t.Errorf("data not reproducible at index %d: got %v and %v", i, data1[i], data2[i])
		}
	}
}

func TestGenerateRaw(t *testing.T) {
	config := DefaultConfig()
	config.Count = 5

	records := NewDataGenerator(1).Generate(config)
	raw := NewDataGenerator(1).GenerateRaw(config)

	if len(raw) != len(records) {
		t.Fatalf("expected %d raw records, got %d", len(records), len(raw))
	}

	for i := range raw {
		if raw[i] != ToRaw(records[i]) {
			t.Errorf("raw record %d differs: %v", i, raw[i])
		}
	}
}

func TestGenerateDays(t *testing.T) {
	data := GenerateDays(2)

	if len(data) != 2*1440 {
		t.Errorf("expected %d candles, got %d", 2*1440, len(data))
	}
}
