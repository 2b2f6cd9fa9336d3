package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const receiptText = `MARKET 24
12.03.2024 14:22
MILK        1,29
BREAD       2,49
SUMA        3,78`

func TestAverage(t *testing.T) {
	tests := []struct {
		name     string
		input    []float64
		expected float64
	}{
		{"empty", nil, 0},
		{"all zero", []float64{0, 0}, 0},
		{"negative ignored", []float64{-1, 80}, 0.8},
		{"zeros skipped", []float64{0, 90, 70}, 0.8},
		{"single", []float64{55}, 0.55},
		{"clamped above 100", []float64{150}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Average(tt.input), 1e-9)
		})
	}
}

func TestDetectSignals(t *testing.T) {
	sig := DetectSignals(receiptText)
	assert.Equal(t, 3, sig.CurrencyAmounts)
	assert.True(t, sig.HasDate)
	assert.Equal(t, 5, sig.ShortLines)
	assert.Equal(t, 3, sig.Count())

	plain := DetectSignals("the quick brown fox jumps over the lazy dog and keeps running far away")
	assert.Zero(t, plain.Count())
}

func TestDetectSignals_CurrencyAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"space separated", "10.00 20.00", 2},
		{"quantity price total", "2 x 1,50 3,00", 2},
		{"zero amounts ignored", "0.00 0,00 12.50", 1},
		{"part of a date", "12.03.2024", 0},
		{"too many integer digits", "1234567.89", 0},
		{"three decimals", "1.234", 0},
		{"trailing full stop", "total 9.99.", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectSignals(tt.input).CurrencyAmounts)
		})
	}
}

func TestDetectSignals_ISODate(t *testing.T) {
	sig := DetectSignals("printed 2024-03-12")
	assert.True(t, sig.HasDate)
	assert.Zero(t, sig.CurrencyAmounts)
}

func TestScore_BoostApplied(t *testing.T) {
	s := New(DefaultConfig())
	got := s.Score(receiptText, []float64{80, 80})

	assert.InDelta(t, 0.8, got.Raw, 1e-9)
	assert.InDelta(t, 0.8*1.08, got.Final, 1e-9)
	assert.True(t, got.Boosted)
}

func TestScore_BoostBoundedAndCapped(t *testing.T) {
	s := New(Config{Boost: 0.5})
	assert.InDelta(t, MaxBoost, s.Boost(), 1e-9)

	got := s.Score(receiptText, []float64{95})
	assert.InDelta(t, 1.0, got.Final, 1e-9)
	assert.LessOrEqual(t, got.Final, got.Raw*(1+MaxBoost))
}

func TestScore_NoBoostWithoutSignals(t *testing.T) {
	s := New(DefaultConfig())
	got := s.Score("hello world this line is definitely longer than forty runes", []float64{60})
	assert.InDelta(t, 0.6, got.Final, 1e-9)
	assert.False(t, got.Boosted)
}

func TestScore_ZeroConfidenceStaysZero(t *testing.T) {
	s := New(DefaultConfig())
	got := s.Score(receiptText, []float64{0, 0})
	assert.Zero(t, got.Final)
	assert.False(t, got.Boosted)
}

func TestNew_NegativeBoostDisabled(t *testing.T) {
	s := New(Config{Boost: -1, MinSignals: 0})
	assert.Zero(t, s.Boost())
	got := s.Score(receiptText, []float64{50})
	assert.InDelta(t, 0.5, got.Final, 1e-9)
}
