package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/receipt-ocr/internal/cache"
	"github.com/MeKo-Tech/receipt-ocr/internal/config"
	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
	"github.com/MeKo-Tech/receipt-ocr/internal/engine/openaivision"
	"github.com/MeKo-Tech/receipt-ocr/internal/engine/tesseract"
	"github.com/MeKo-Tech/receipt-ocr/internal/engine/vision"
	"github.com/MeKo-Tech/receipt-ocr/internal/metrics"
	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
)

// engineRegistry knows every backend compiled into the binary. Tests swap it.
var engineRegistry = newEngineRegistry()

func newEngineRegistry() *engine.Registry {
	r := engine.NewRegistry()
	r.Register(tesseract.Name, tesseract.Factory)
	r.Register(vision.Name, vision.Factory)
	r.Register(openaivision.Name, openaivision.Factory)
	return r
}

// buildPipeline starts every enabled engine that can be started and wires
// the configured cache. Engines that fail to start are skipped with a
// warning; it is an error only when none is left.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithLogger(logger).
		WithMetrics(m)

	var started []engine.Backend
	enabled := cfg.EnabledEngines()
	for _, name := range enabled {
		backend, err := engineRegistry.New(ctx, name, cfg.EngineSettings(name))
		if err != nil {
			logger.Warn("engine unavailable, skipping", "engine", name, "error", err)
			continue
		}
		started = append(started, backend)
		b.WithEngine(cfg.EngineSpec(name), backend)
	}
	if len(started) == 0 {
		return nil, fmt.Errorf("%w: none of the enabled engines (%s) could be started",
			pipeline.ErrNoEngines, strings.Join(enabled, ", "))
	}

	var store cache.Store
	if cfg.Cache.Backend == config.CacheBackendRedis {
		r := cfg.Cache.Redis
		rs, err := cache.DialRedis(ctx, r.Addr, r.Password, r.DB, cfg.RedisOptions())
		if err != nil {
			closeBackends(started)
			return nil, err
		}
		store = rs
		b.WithCache(store)
	}

	p, err := b.Build()
	if err != nil {
		closeBackends(started)
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	logger.Debug("pipeline ready", "engines", p.Engines(), "tiers", len(p.Tiers()), "cache", cfg.Cache.Backend)
	return p, nil
}

func closeBackends(backends []engine.Backend) {
	for _, b := range backends {
		if c, ok := b.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
