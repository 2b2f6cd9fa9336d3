// Package voting reconciles the transcriptions of several engines into one
// text using confidence-weighted, line-level plurality voting.
package voting

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Method names how a voted result was produced.
type Method string

const (
	MethodNoResults          Method = "no_results"
	MethodSingleEngine       Method = "single_engine"
	MethodBestBelowThreshold Method = "best_below_threshold"
	MethodSimpleVoting       Method = "simple_voting"
	MethodWeightedVoting     Method = "weighted_voting"
)

// weightEpsilon is the tolerance under which two summed line weights tie.
const weightEpsilon = 1e-9

// Ballot is one engine's successful transcription together with the
// engine's static voting policy.
type Ballot struct {
	Engine     string
	Text       string
	Confidence float64
	// Weight is the configured priority weight of the engine.
	Weight float64
	// Threshold is the engine's minimum confidence for taking part in a vote.
	Threshold float64
}

// Result is the reconciled output of a voting round.
type Result struct {
	Text        string   `json:"text"`
	Confidence  float64  `json:"confidence"`
	Method      Method   `json:"method"`
	EnginesUsed []string `json:"engines_used"`
	EngineCount int      `json:"engine_count"`
}

// Vote reconciles the given ballots. Ballots with blank text are ignored.
// The result is deterministic for a given set of ballots regardless of
// their order.
func Vote(ballots []Ballot) Result {
	valid := make([]Ballot, 0, len(ballots))
	for _, b := range ballots {
		if strings.TrimSpace(b.Text) != "" {
			valid = append(valid, b)
		}
	}
	byPriority(valid)

	switch len(valid) {
	case 0:
		return Result{Method: MethodNoResults, EnginesUsed: []string{}}
	case 1:
		return Result{
			Text:        valid[0].Text,
			Confidence:  valid[0].Confidence,
			Method:      MethodSingleEngine,
			EnginesUsed: []string{valid[0].Engine},
			EngineCount: 1,
		}
	}

	qualifying := make([]Ballot, 0, len(valid))
	for _, b := range valid {
		if b.Confidence >= b.Threshold {
			qualifying = append(qualifying, b)
		}
	}

	if len(qualifying) == 0 {
		best := valid[0]
		for _, b := range valid[1:] {
			// valid is already in priority order, so strict > keeps the higher-priority engine on ties.
			if b.Confidence > best.Confidence {
				best = b
			}
		}
		return Result{
			Text:        best.Text,
			Confidence:  best.Confidence,
			Method:      MethodBestBelowThreshold,
			EnginesUsed: []string{best.Engine},
			EngineCount: 1,
		}
	}

	weights := make([]float64, len(qualifying))
	var total float64
	for i, b := range qualifying {
		w := b.Weight * b.Confidence
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}

	method := MethodWeightedVoting
	if total <= 0 {
		method = MethodSimpleVoting
		for i := range weights {
			weights[i] = 1
		}
	}

	texts := make([]string, len(qualifying))
	used := make([]string, len(qualifying))
	var confSum float64
	for i, b := range qualifying {
		texts[i] = b.Text
		used[i] = b.Engine
		confSum += b.Confidence
	}

	return Result{
		Text:        voteLines(texts, weights),
		Confidence:  confSum / float64(len(qualifying)),
		Method:      method,
		EnginesUsed: used,
		EngineCount: len(qualifying),
	}
}

// byPriority orders ballots by weight descending, then engine name.
func byPriority(ballots []Ballot) {
	slices.SortStableFunc(ballots, func(a, b Ballot) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return cmp.Compare(a.Engine, b.Engine)
	})
}

// voteLines aligns texts by line index and picks, per index, the line with the
// highest summed weight. texts must be in priority order; ties go to the
// line first proposed by the higher-priority engine.
func voteLines(texts []string, weights []float64) string {
	lines := make([][]string, len(texts))
	maxLines := 0
	for i, t := range texts {
		lines[i] = SplitLines(t)
		maxLines = max(maxLines, len(lines[i]))
	}

	out := make([]string, 0, maxLines)
	for idx := range maxLines {
		tally := make(map[string]float64, len(texts))
		order := make([]string, 0, len(texts))
		for e := range texts {
			line := ""
			if idx < len(lines[e]) {
				line = lines[e][idx]
			}
			if _, seen := tally[line]; !seen {
				order = append(order, line)
			}
			tally[line] += weights[e]
		}

		winner := order[0]
		for _, cand := range order[1:] {
			if tally[cand] > tally[winner]+weightEpsilon {
				winner = cand
			}
		}
		out = append(out, winner)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// SplitLines splits text into NFC-normalized lines with trailing whitespace removed.
func SplitLines(text string) []string {
	raw := strings.Split(norm.NFC.String(text), "\n")
	for i, l := range raw {
		raw[i] = strings.TrimRight(l, " \t\r")
	}
	for len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	return raw
}
