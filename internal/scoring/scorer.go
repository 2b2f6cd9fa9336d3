// Package scoring turns raw per-token engine confidences into a single
// normalized score and applies a bounded receipt-plausibility boost.
package scoring

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxBoost is the largest relative boost the scorer will ever apply.
	MaxBoost = 0.10

	// DefaultBoost is the relative boost applied when enough signals are present.
	DefaultBoost = 0.08

	// DefaultMinSignals is the number of structured-document signals needed for a boost.
	DefaultMinSignals = 2

	shortLineRunes    = 40
	minShortLines     = 3
	minCurrencyAmount = 2
)

var (
	amountPattern = regexp.MustCompile(`\d{1,6}[.,]\d{2}`)
	datePattern   = regexp.MustCompile(`\b(?:\d{1,2}[./-]\d{1,2}[./-](?:\d{4}|\d{2})|\d{4}-\d{2}-\d{2})\b`)
)

// Config controls the plausibility boost.
type Config struct {
	Boost      float64 `json:"boost" yaml:"boost"`
	MinSignals int     `json:"min_signals" yaml:"min_signals"`
}

// DefaultConfig returns the default scorer settings.
func DefaultConfig() Config {
	return Config{Boost: DefaultBoost, MinSignals: DefaultMinSignals}
}

// Signals lists which structured-document hints were found in a text.
type Signals struct {
	// CurrencyAmounts counts positive money amounts. Zero amounts are ignored.
	CurrencyAmounts int  `json:"currency_amounts"`
	HasDate         bool `json:"has_date"`
	ShortLines      int  `json:"short_lines"`
}

// Count returns how many distinct signals are present.
func (s Signals) Count() int {
	n := 0
	if s.CurrencyAmounts >= minCurrencyAmount {
		n++
	}
	if s.HasDate {
		n++
	}
	if s.ShortLines >= minShortLines {
		n++
	}
	return n
}

// Score is the outcome of scoring one engine invocation.
type Score struct {
	Raw     float64 `json:"raw"`
	Final   float64 `json:"final"`
	Boosted bool    `json:"boosted"`
	Signals Signals `json:"signals"`
}

// Scorer converts token confidences into a normalized confidence in [0,1].
// It is stateless and safe for concurrent use.
type Scorer struct {
	boost      float64
	minSignals int
}

// New creates a scorer. The boost is clamped to [0, MaxBoost].
func New(cfg Config) *Scorer {
	boost := cfg.Boost
	if boost < 0 {
		boost = 0
	}
	if boost > MaxBoost {
		boost = MaxBoost
	}
	minSignals := cfg.MinSignals
	if minSignals <= 0 {
		minSignals = DefaultMinSignals
	}
	return &Scorer{boost: boost, minSignals: minSignals}
}

// Boost returns the effective relative boost.
func (s *Scorer) Boost() float64 { return s.boost }

// Average returns mean(confidences > 0)/100, or 0 when none cleared zero.
// Confidences are expected on the 0-100 scale.
func Average(confidences []float64) float64 {
	var sum float64
	var n int
	for _, c := range confidences {
		if c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0
	}
	avg := sum / float64(n) / 100
	if avg > 1 {
		avg = 1
	}
	return avg
}

// Score computes the confidence for one engine output.
func (s *Scorer) Score(text string, confidences []float64) Score {
	raw := Average(confidences)
	sig := DetectSignals(text)
	out := Score{Raw: raw, Final: raw, Signals: sig}

	if raw > 0 && s.boost > 0 && sig.Count() >= s.minSignals {
		out.Final = raw * (1 + s.boost)
		if out.Final > 1 {
			out.Final = 1
		}
		out.Boosted = out.Final > raw
	}
	return out
}

// DetectSignals scans text for receipt-like structure.
func DetectSignals(text string) Signals {
	var sig Signals
	for _, loc := range amountPattern.FindAllStringIndex(text, -1) {
		if !isolatedAmount(text, loc[0], loc[1]) {
			continue
		}
		amount, err := decimal.NewFromString(strings.Replace(text[loc[0]:loc[1]], ",", ".", 1))
		if err == nil && amount.IsPositive() {
			sig.CurrencyAmounts++
		}
	}
	sig.HasDate = datePattern.MatchString(text)

	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && utf8.RuneCountInString(line) <= shortLineRunes {
			sig.ShortLines++
		}
	}
	return sig
}

// isolatedAmount reports whether text[start:end] is a whole number token, not
// a slice of a longer number, a date or a version string.
func isolatedAmount(text string, start, end int) bool {
	if start > 0 && isNumberRune(text[start-1]) {
		return false
	}
	if end < len(text) {
		next := text[end]
		if next >= '0' && next <= '9' {
			return false
		}
		if (next == '.' || next == ',') && end+1 < len(text) && text[end+1] >= '0' && text[end+1] <= '9' {
			return false
		}
	}
	return true
}

func isNumberRune(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == ','
}
