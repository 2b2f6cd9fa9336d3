// Package pipeline implements multi-engine receipt recognition: a ladder of
// strategy tiers with growing deadlines, a parallel engine fan-out per tier,
// line-level voting, a resource guard and a content-addressed result cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/receipt-ocr/internal/cache"
	"github.com/MeKo-Tech/receipt-ocr/internal/common"
	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
	"github.com/MeKo-Tech/receipt-ocr/internal/mempool"
	"github.com/MeKo-Tech/receipt-ocr/internal/metrics"
	"github.com/MeKo-Tech/receipt-ocr/internal/preprocess"
	"github.com/MeKo-Tech/receipt-ocr/internal/scoring"
	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

// TierConfig is one strategy tier.
type TierConfig struct {
	Name     string            `json:"name"`
	Deadline time.Duration     `json:"deadline"`
	Recipe   preprocess.Recipe `json:"recipe"`
	// SkipUnderPressure lets the resource guard refuse this tier while the
	// process is above its global memory ceiling.
	SkipUnderPressure bool `json:"skip_under_pressure"`
}

// Config holds configuration for the recognition pipeline.
type Config struct {
	Tiers           []TierConfig
	Limits          ResourceLimits
	CacheMaxEntries int
	Scoring         scoring.Config
	CollectGrace    time.Duration
	WarnFraction    float64
}

// DefaultTiers returns the quick, standard and comprehensive tiers.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Name:     "quick",
			Deadline: 2 * time.Second,
			Recipe: preprocess.Recipe{
				{Name: "grayscale"},
				{Name: "resample", Params: map[string]float64{"min_long_edge": 1000, "max_long_edge": 2200}},
			},
		},
		{
			Name:     "standard",
			Deadline: 5 * time.Second,
			Recipe: preprocess.Recipe{
				{Name: "grayscale"},
				{Name: "deskew", Params: map[string]float64{"max_angle": 10, "min_angle": 0.5}},
				{Name: "denoise", Params: map[string]float64{"radius": 1}},
				{Name: "resample", Params: map[string]float64{"min_long_edge": 1400, "max_long_edge": 2600}},
			},
		},
		{
			Name:              "comprehensive",
			Deadline:          12 * time.Second,
			SkipUnderPressure: true,
			Recipe: preprocess.Recipe{
				{Name: "grayscale"},
				{Name: "deskew", Params: map[string]float64{"max_angle": 15, "min_angle": 0.3}},
				{Name: "denoise", Params: map[string]float64{"radius": 1}},
				{Name: "contrast", Params: map[string]float64{"window": 31, "strength": 0.6}},
				{Name: "sharpen", Params: map[string]float64{"sigma": 0.8}},
				{Name: "resample", Params: map[string]float64{"min_long_edge": 1800, "max_long_edge": 3200}},
			},
		},
	}
}

// DefaultConfig returns a default pipeline config.
func DefaultConfig() Config {
	return Config{
		Tiers:           DefaultTiers(),
		Limits:          DefaultResourceLimits(),
		CacheMaxEntries: 256,
		Scoring:         scoring.DefaultConfig(),
		CollectGrace:    DefaultCollectGrace,
		WarnFraction:    DefaultWarnFraction,
	}
}

// Validate checks the tier ladder and limits.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("%w: at least one strategy tier is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Tiers))
	var prev time.Duration
	for i, t := range c.Tiers {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: tier %d has no name", ErrInvalidConfig, i)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, t.Name)
		}
		seen[t.Name] = true
		if t.Deadline <= 0 {
			return fmt.Errorf("%w: tier %q deadline must be positive", ErrInvalidConfig, t.Name)
		}
		if t.Deadline < prev {
			return fmt.Errorf("%w: tier %q deadline %v is shorter than the previous tier's %v",
				ErrInvalidConfig, t.Name, t.Deadline, prev)
		}
		prev = t.Deadline
		if err := t.Recipe.Validate(); err != nil {
			return fmt.Errorf("%w: tier %q: %w", ErrInvalidConfig, t.Name, err)
		}
	}
	if c.Limits.PerAttemptMemoryMB < 0 || c.Limits.GlobalProcessMemoryMB < 0 || c.Limits.MaxConcurrentEngines < 0 {
		return fmt.Errorf("%w: resource limits must not be negative", ErrInvalidConfig)
	}
	if c.WarnFraction < 0 || c.WarnFraction > 1 {
		return fmt.Errorf("%w: warn fraction must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	backends []engine.Backend
	specs    []EngineSpec
	store    cache.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sampler  func() MemStats
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithTiers replaces the strategy ladder.
func (b *Builder) WithTiers(tiers ...TierConfig) *Builder {
	if len(tiers) > 0 {
		b.cfg.Tiers = tiers
	}
	return b
}

// WithEngine adds an engine. An empty EngineSpec.Name uses the backend name.
func (b *Builder) WithEngine(spec EngineSpec, backend engine.Backend) *Builder {
	if spec.Name == "" && backend != nil {
		spec.Name = backend.Name()
	}
	b.specs = append(b.specs, spec)
	b.backends = append(b.backends, backend)
	return b
}

// WithCache sets the result store. The pipeline closes it on Close.
func (b *Builder) WithCache(store cache.Store) *Builder {
	b.store = store
	return b
}

// WithCacheSize sets the capacity of the default in-memory cache.
func (b *Builder) WithCacheSize(n int) *Builder {
	b.cfg.CacheMaxEntries = n
	return b
}

// WithResourceLimits sets the resource guard limits.
func (b *Builder) WithResourceLimits(l ResourceLimits) *Builder {
	b.cfg.Limits = l
	return b
}

// WithScoring sets the scorer configuration.
func (b *Builder) WithScoring(s scoring.Config) *Builder {
	b.cfg.Scoring = s
	return b
}

// WithCollectGrace sets how long a timed-out tier may take to return what it collected.
func (b *Builder) WithCollectGrace(d time.Duration) *Builder {
	if d > 0 {
		b.cfg.CollectGrace = d
	}
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics sets the metrics collectors.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithMemorySampler replaces the memory sampler of the resource guard.
func (b *Builder) WithMemorySampler(f func() MemStats) *Builder {
	b.sampler = f
	return b
}

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.backends) == 0 {
		return nil, ErrNoEngines
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	scorer := scoring.New(b.cfg.Scoring)

	names := make(map[string]bool, len(b.specs))
	slots := make([]engineSlot, 0, len(b.specs))
	for i, spec := range b.specs {
		backend := b.backends[i]
		switch {
		case backend == nil:
			return nil, fmt.Errorf("%w: engine %d has no backend", ErrInvalidConfig, i)
		case names[spec.Name]:
			return nil, fmt.Errorf("%w: duplicate engine %q", ErrInvalidConfig, spec.Name)
		case spec.Weight < 0:
			return nil, fmt.Errorf("%w: engine %q weight must not be negative", ErrInvalidConfig, spec.Name)
		case spec.Threshold < 0 || spec.Threshold > 1:
			return nil, fmt.Errorf("%w: engine %q threshold must be within [0,1]", ErrInvalidConfig, spec.Name)
		}
		names[spec.Name] = true
		slots = append(slots, engineSlot{spec: spec, adapter: engine.NewAdapter(backend, scorer, logger)})
	}

	store := b.store
	if store == nil {
		mem, err := cache.NewMemory(b.cfg.CacheMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		store = mem
	}

	p := &Pipeline{
		cfg:      b.cfg,
		engines:  slots,
		stage:    preprocess.NewStage(logger),
		cache:    store,
		guard:    NewResourceGuard(b.cfg.Limits, b.sampler, logger, b.metrics),
		metrics:  b.metrics,
		logger:   logger,
		profiler: &Profiler{},
	}
	if n := b.cfg.Limits.MaxConcurrentEngines; n > 0 {
		p.sem = make(chan struct{}, n)
	}
	return p, nil
}

// Pipeline recognizes receipt images. It is safe for concurrent use.
type Pipeline struct {
	cfg      Config
	engines  []engineSlot
	stage    *preprocess.Stage
	cache    cache.Store
	guard    *ResourceGuard
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sem      chan struct{}
	profiler *Profiler
}

// tierResult is what one successful or partial tier produced.
type tierResult struct {
	voted       voting.Result
	preparation preprocess.Report
}

// Recognize turns image bytes into text. It never panics and always returns a
// well-formed outcome; failures are reported through Outcome.Error.
func (p *Pipeline) Recognize(ctx context.Context, data []byte, opts Options) Outcome {
	timer := common.NewNamedTimer("recognize")
	id := opts.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	logger := p.logger.With("request_id", id)

	out := p.recognize(ctx, data, opts, logger)
	out.RequestID = id
	out.Elapsed = timer.Stop()
	if out.EnginesUsed == nil {
		out.EnginesUsed = []string{}
	}

	p.metrics.Recognition(out.outcomeLabel(), out.Elapsed)
	p.profiler.Record(out)

	args := []any{
		"tier", out.StrategyTierUsed,
		"voting_method", out.VotingMethod,
		"confidence", out.Confidence,
		"cache_hit", out.CacheHit,
		"failed_attempts", out.FailedAttempts,
		"duration_ms", out.Elapsed.Milliseconds(),
	}
	if out.OK() {
		logger.Info("recognition finished", args...)
	} else {
		logger.Error("recognition failed", append(args, "error", out.Error)...)
	}
	return out
}

func (p *Pipeline) recognize(ctx context.Context, data []byte, opts Options, logger *slog.Logger) Outcome {
	key := cache.Key(data)
	if !opts.SkipCache {
		if entry, ok := p.lookup(ctx, key, logger); ok {
			return Outcome{
				Text:             entry.Result.Text,
				Confidence:       entry.Result.Confidence,
				EnginesUsed:      entry.Result.EnginesUsed,
				VotingMethod:     entry.Result.Method,
				StrategyTierUsed: entry.Tier,
				CacheHit:         true,
			}
		}
	}

	img, meta, err := preprocess.DecodeLimited(data, p.cfg.Limits.MaxInputPixels())
	if err != nil {
		return failed(Outcome{Input: meta}, err)
	}
	logger.Debug("input decoded", "format", meta.Format, "width", meta.Width, "height", meta.Height)

	attemptLog := newAttemptLog()
	expensive := make(map[string]bool, len(p.cfg.Tiers))
	attempts := make([]Attempt[tierResult], 0, len(p.cfg.Tiers))
	for _, tier := range p.cfg.Tiers {
		expensive[tier.Name] = tier.SkipUnderPressure
		attempts = append(attempts, Attempt[tierResult]{
			Name:        tier.Name,
			Deadline:    tier.Deadline,
			Description: strings.Join(tier.Recipe.Names(), " > "),
			Run: func(ctx context.Context) (tierResult, error) {
				return p.runTier(ctx, tier, img, opts.Languages, attemptLog, logger)
			},
		})
	}

	res, err := RunProgressive(ctx, ProgressiveOptions{
		Operation:    "recognize",
		Budget:       opts.Deadline,
		WarnFraction: p.cfg.WarnFraction,
		CollectGrace: p.cfg.CollectGrace,
		Admit: func(name string) error {
			return p.guard.Admit(name, expensive[name])
		},
		Logger:  logger,
		Metrics: p.metrics,
	}, attempts)

	out := Outcome{
		Input:          meta,
		FailedAttempts: res.FailedAttempts,
		Attempts:       attemptLog.annotate(res.Reports),
	}
	if err != nil {
		p.metrics.VotingMethod(string(voting.MethodNoResults))
		return failed(out, err)
	}

	v := res.Value
	out.Text = v.voted.Text
	out.Confidence = v.voted.Confidence
	out.EnginesUsed = v.voted.EnginesUsed
	out.VotingMethod = v.voted.Method
	out.StrategyTierUsed = res.Attempt
	out.Partial = res.Partial
	out.Preparation = v.preparation.Steps
	p.metrics.VotingMethod(string(v.voted.Method))

	if !res.Partial {
		p.store(ctx, key, cache.Entry{Result: v.voted, Tier: res.Attempt, InsertedAt: time.Now()}, logger)
	}
	return out
}

// runTier prepares the image for one tier and votes over the engines that
// answered before ctx is done.
func (p *Pipeline) runTier(ctx context.Context, tier TierConfig, img image.Image, langs []string,
	attemptLog *attemptLog, logger *slog.Logger,
) (tierResult, error) {
	budget := p.guard.Begin(tier.Name, tier.Deadline)
	defer budget.End()

	prepared, report, err := p.stage.Apply(ctx, img, tier.Recipe)
	if err != nil {
		return tierResult{}, fmt.Errorf("prepare %s: %w", tier.Name, err)
	}
	if skipped := report.Failed(); len(skipped) > 0 {
		logger.Debug("preparation steps skipped", "tier", tier.Name, "count", len(skipped))
	}

	results, reports, complete := p.fanOut(ctx, prepared, langs)
	attemptLog.set(tier.Name, reports)

	ballots := p.ballots(results)
	tr := tierResult{voted: voting.Vote(ballots), preparation: report}

	if !complete {
		if tr.voted.Method == voting.MethodNoResults {
			return tr, fmt.Errorf("tier %s: %w", tier.Name, ctx.Err())
		}
		return tr, fmt.Errorf("%w: %d of %d engines answered", ErrPartial, len(ballots), len(p.engines))
	}
	if tr.voted.Method == voting.MethodNoResults {
		if errs := engineErrors(results); errs != nil {
			return tr, fmt.Errorf("%w: %w", ErrNoResults, errs)
		}
		return tr, ErrNoResults
	}
	return tr, nil
}

func (p *Pipeline) lookup(ctx context.Context, key string, logger *slog.Logger) (cache.Entry, bool) {
	entry, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache lookup failed", "error", err)
		ok = false
	}
	p.metrics.CacheLookup(ok)
	return entry, ok
}

func (p *Pipeline) store(ctx context.Context, key string, entry cache.Entry, logger *slog.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := p.cache.Put(sctx, key, entry); err != nil {
		logger.Warn("cache store failed", "error", err)
	}
}

func failed(out Outcome, err error) Outcome {
	out.Text = ""
	out.Confidence = 0
	out.EnginesUsed = []string{}
	out.VotingMethod = voting.MethodNoResults
	out.Err = err
	out.Error = err.Error()
	return out
}

// Engines returns the names of the configured engines in priority order.
func (p *Pipeline) Engines() []string {
	names := make([]string, len(p.engines))
	for i, e := range p.engines {
		names[i] = e.spec.Name
	}
	return names
}

// Tiers returns the configured strategy tiers.
func (p *Pipeline) Tiers() []TierConfig {
	return append([]TierConfig(nil), p.cfg.Tiers...)
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Profile   map[string]any `json:"profile"`
	Resources ResourceStats  `json:"resources"`
	Pool      mempool.Stats  `json:"pool"`
}

// Stats returns cumulative counters of the pipeline.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Profile:   p.profiler.Snapshot(),
		Resources: p.guard.Stats(),
		Pool:      mempool.GetStats(),
	}
}

// Close releases engines and the cache. Background cleanups are awaited.
func (p *Pipeline) Close() error {
	var errs []error
	for _, e := range p.engines {
		if err := e.adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine %s: %w", e.spec.Name, err))
		}
	}
	if err := p.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	p.guard.Wait()
	return errors.Join(errs...)
}

// attemptLog collects engine reports per tier. Abandoned tiers may still
// write to it after the ladder moved on.
type attemptLog struct {
	mu      sync.Mutex
	engines map[string][]EngineReport
}

func newAttemptLog() *attemptLog {
	return &attemptLog{engines: make(map[string][]EngineReport)}
}

func (l *attemptLog) set(tier string, reports []EngineReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engines[tier] = reports
}

func (l *attemptLog) annotate(reports []AttemptReport) []AttemptReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AttemptReport, len(reports))
	for i, r := range reports {
		r.Engines = l.engines[r.Tier]
		out[i] = r
	}
	return out
}
