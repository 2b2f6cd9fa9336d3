package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

// ToJSON serializes an outcome to pretty JSON.
func ToJSON(o Outcome) (string, error) {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONOutcomes serializes multiple outcomes to pretty JSON.
func ToJSONOutcomes(outcomes []Outcome) (string, error) {
	b, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToYAML serializes one or more outcomes to YAML.
func ToYAML(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ToPlainText returns the recognized text followed by a one-line summary.
// precision is the number of decimals of the confidence.
func ToPlainText(o Outcome, precision int) string {
	if precision < 0 {
		precision = 2
	}
	var sb strings.Builder
	if o.Text != "" {
		sb.WriteString(o.Text)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "-- confidence=%s method=%s tier=%s engines=%s cache_hit=%t",
		strconv.FormatFloat(o.Confidence, 'f', precision, 64),
		o.VotingMethod, o.StrategyTierUsed, strings.Join(o.EnginesUsed, ","), o.CacheHit)
	if o.Partial {
		sb.WriteString(" partial=true")
	}
	if o.Error != "" {
		sb.WriteString(" error=")
		sb.WriteString(strconv.Quote(o.Error))
	}
	return sb.String()
}

// ToCSV exports one summary row per outcome with a header.
func ToCSV(names []string, outcomes []Outcome) (string, error) {
	if len(names) != len(outcomes) {
		return "", fmt.Errorf("got %d names for %d outcomes", len(names), len(outcomes))
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"file", "tier", "method", "confidence", "cache_hit", "elapsed_ms", "error", "text"})
	for i, o := range outcomes {
		_ = w.Write([]string{
			names[i],
			o.StrategyTierUsed,
			string(o.VotingMethod),
			fmt.Sprintf("%.3f", o.Confidence),
			strconv.FormatBool(o.CacheHit),
			strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
			o.Error,
			o.Text,
		})
	}
	w.Flush()
	return buf.String(), w.Error()
}

// ValidateOutcome performs simple consistency checks.
func ValidateOutcome(o Outcome) error {
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", o.Confidence)
	}
	if o.Error != "" && (o.Text != "" || o.Confidence != 0) {
		return fmt.Errorf("failed outcome carries text or confidence")
	}
	switch o.VotingMethod {
	case voting.MethodNoResults, voting.MethodSingleEngine, voting.MethodBestBelowThreshold,
		voting.MethodSimpleVoting, voting.MethodWeightedVoting:
	default:
		return fmt.Errorf("unknown voting method %q", o.VotingMethod)
	}
	if o.Error == "" && o.VotingMethod == voting.MethodNoResults {
		return fmt.Errorf("successful outcome without results")
	}
	return nil
}
