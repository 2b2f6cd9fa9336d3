package pipeline

import (
	"time"

	"github.com/MeKo-Tech/receipt-ocr/internal/preprocess"
	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

// Options are the per-request knobs of Recognize.
type Options struct {
	// Languages are hints passed to every engine. Empty uses each engine's defaults.
	Languages []string
	// Deadline caps the total time spent across all tiers. Zero means the
	// sum of the tier deadlines.
	Deadline time.Duration
	// SkipCache bypasses the cache lookup. A successful result is still stored.
	SkipCache bool
	// RequestID is echoed in the outcome and logs. Generated when empty.
	RequestID string
}

// AttemptStatus is the final state of one tier attempt.
type AttemptStatus string

const (
	StatusSuccess AttemptStatus = "success"
	StatusTimeout AttemptStatus = "timeout"
	StatusError   AttemptStatus = "error"
	StatusSkipped AttemptStatus = "skipped"
)

// EngineStatus is the state of one engine within a tier attempt.
type EngineStatus string

const (
	EngineOK        EngineStatus = "ok"
	EngineFailed    EngineStatus = "error"
	EngineAbandoned EngineStatus = "abandoned"
)

// EngineReport describes one engine invocation inside a tier attempt.
type EngineReport struct {
	Engine     string        `json:"engine" yaml:"engine"`
	Status     EngineStatus  `json:"status" yaml:"status"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
	Boosted    bool          `json:"boosted,omitempty" yaml:"boosted,omitempty"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// AttemptReport describes one rung of the strategy ladder.
type AttemptReport struct {
	Tier     string         `json:"tier" yaml:"tier"`
	Status   AttemptStatus  `json:"status" yaml:"status"`
	Deadline time.Duration  `json:"deadline" yaml:"deadline"`
	Elapsed  time.Duration  `json:"elapsed" yaml:"elapsed"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Engines  []EngineReport `json:"engines,omitempty" yaml:"engines,omitempty"`
}

// Outcome is the result of one recognition request. It is always well
// formed: on total failure Text is empty, Confidence is 0 and Error is set.
type Outcome struct {
	RequestID        string                  `json:"request_id" yaml:"request_id"`
	Text             string                  `json:"text" yaml:"text"`
	Confidence       float64                 `json:"confidence" yaml:"confidence"`
	EnginesUsed      []string                `json:"engines_used" yaml:"engines_used"`
	VotingMethod     voting.Method           `json:"voting_method" yaml:"voting_method"`
	StrategyTierUsed string                  `json:"strategy_tier_used" yaml:"strategy_tier_used"`
	Elapsed          time.Duration           `json:"elapsed" yaml:"elapsed"`
	CacheHit         bool                    `json:"cache_hit" yaml:"cache_hit"`
	Partial          bool                    `json:"partial,omitempty" yaml:"partial,omitempty"`
	FailedAttempts   int                     `json:"failed_attempts" yaml:"failed_attempts"`
	Error            string                  `json:"error,omitempty" yaml:"error,omitempty"`
	Input            preprocess.Metadata     `json:"input" yaml:"input"`
	Preparation      []preprocess.StepReport `json:"preparation,omitempty" yaml:"preparation,omitempty"`
	Attempts         []AttemptReport         `json:"attempts,omitempty" yaml:"attempts,omitempty"`

	// Err is the underlying error behind Error.
	Err error `json:"-" yaml:"-"`
}

// OK reports whether the request produced text.
func (o Outcome) OK() bool { return o.Err == nil && o.Error == "" }

// outcomeLabel is the metrics label of an outcome.
func (o Outcome) outcomeLabel() string {
	switch {
	case o.CacheHit:
		return "cache_hit"
	case !o.OK():
		return "failure"
	case o.Partial:
		return "partial"
	default:
		return "success"
	}
}
