package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine/mock"
)

// recognitionWorld is the per-scenario state of the acceptance suite.
type recognitionWorld struct {
	t         *testing.T
	engines   []engineDef
	tiers     []TierConfig
	cacheSize int
	memory    *fakeMemory
	limits    ResourceLimits
	pipeline  *Pipeline
	last      Outcome
}

func (w *recognitionWorld) backend(name string) (*mock.Backend, error) {
	for _, e := range w.engines {
		if e.backend.EngineName == name {
			return e.backend, nil
		}
	}
	return nil, fmt.Errorf("no engine named %q", name)
}

func (w *recognitionWorld) anEngine(name string, weight, threshold float64, text string, confidence float64) error {
	w.engines = append(w.engines, eng(mock.New(name, text, confidence), weight, threshold))
	return nil
}

func (w *recognitionWorld) aBrokenEngine(name, message string) error {
	w.engines = append(w.engines, eng(&mock.Backend{EngineName: name, Err: errors.New(message)}, 1, 0))
	return nil
}

func (w *recognitionWorld) engineTakes(name string, ms int) error {
	b, err := w.backend(name)
	if err != nil {
		return err
	}
	b.Delay = time.Duration(ms) * time.Millisecond
	return nil
}

func (w *recognitionWorld) tiersWithDeadlines(list string) error {
	var deadlines []time.Duration
	for field := range strings.SplitSeq(list, ",") {
		ms, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return fmt.Errorf("bad deadline %q: %w", field, err)
		}
		deadlines = append(deadlines, time.Duration(ms)*time.Millisecond)
	}
	w.tiers = testTiers(deadlines...)
	return nil
}

func (w *recognitionWorld) aCacheOf(n int) error {
	w.cacheSize = n
	return nil
}

func (w *recognitionWorld) memoryLimitExceeded(mb int) error {
	w.memory = &fakeMemory{}
	w.memory.setMB(10, mb*8)
	w.limits = ResourceLimits{PerAttemptMemoryMB: mb}
	return nil
}

func (w *recognitionWorld) build() error {
	if w.pipeline != nil {
		return nil
	}
	b := testBuilder(w.tiers, w.engines...)
	if w.cacheSize > 0 {
		b.WithCacheSize(w.cacheSize)
	}
	if w.memory != nil {
		b.WithResourceLimits(w.limits).WithMemorySampler(w.memory.sample)
	}
	p, err := b.Build()
	if err != nil {
		return err
	}
	w.pipeline = p
	return nil
}

func (w *recognitionWorld) recognize(lines string, skipCache bool) error {
	if err := w.build(); err != nil {
		return err
	}
	var parts []string
	for l := range strings.SplitSeq(lines, ",") {
		parts = append(parts, strings.TrimSpace(l))
	}
	w.last = w.pipeline.Recognize(context.Background(), receipt(w.t, parts...), Options{SkipCache: skipCache})
	return nil
}

func (w *recognitionWorld) iRecognize(lines string) error { return w.recognize(lines, false) }

func (w *recognitionWorld) iRecognizeSkippingCache(lines string) error { return w.recognize(lines, true) }

func (w *recognitionWorld) succeeds() error {
	if !w.last.OK() {
		return fmt.Errorf("recognition failed: %s", w.last.Error)
	}
	return nil
}

func (w *recognitionWorld) failsWith(message string) error {
	if w.last.OK() {
		return errors.New("recognition unexpectedly succeeded")
	}
	if w.last.Text != "" || w.last.Confidence != 0 {
		return fmt.Errorf("failed outcome carries text %q at %.2f", w.last.Text, w.last.Confidence)
	}
	if !strings.Contains(w.last.Error, message) {
		return fmt.Errorf("error %q does not mention %q", w.last.Error, message)
	}
	return nil
}

func (w *recognitionWorld) textIs(text string) error {
	if w.last.Text != text {
		return fmt.Errorf("text is %q, want %q", w.last.Text, text)
	}
	return nil
}

func (w *recognitionWorld) votingMethodIs(method string) error {
	if string(w.last.VotingMethod) != method {
		return fmt.Errorf("voting method is %q, want %q", w.last.VotingMethod, method)
	}
	return nil
}

func (w *recognitionWorld) confidenceIs(want float64) error {
	if diff := w.last.Confidence - want; diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("confidence is %.4f, want %.4f", w.last.Confidence, want)
	}
	return nil
}

func (w *recognitionWorld) tierUsedIs(name string) error {
	if w.last.StrategyTierUsed != name {
		return fmt.Errorf("tier used is %q, want %q", w.last.StrategyTierUsed, name)
	}
	return nil
}

func (w *recognitionWorld) enginesUsedAre(list string) error {
	var want []string
	for name := range strings.SplitSeq(list, ",") {
		want = append(want, strings.TrimSpace(name))
	}
	got := slices.Clone(w.last.EnginesUsed)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return fmt.Errorf("engines used are %v, want %v", got, want)
	}
	return nil
}

func (w *recognitionWorld) attemptsFailed(n int) error {
	if w.last.FailedAttempts != n {
		return fmt.Errorf("%d attempts failed, want %d", w.last.FailedAttempts, n)
	}
	return nil
}

func (w *recognitionWorld) elapsedAtLeast(ms int) error {
	if want := time.Duration(ms) * time.Millisecond; w.last.Elapsed < want {
		return fmt.Errorf("elapsed %s, want at least %s", w.last.Elapsed, want)
	}
	return nil
}

func (w *recognitionWorld) cacheHolds(n int) error {
	if err := w.build(); err != nil {
		return err
	}
	got, err := w.pipeline.cache.Len(context.Background())
	if err != nil {
		return err
	}
	if got != n {
		return fmt.Errorf("cache holds %d entries, want %d", got, n)
	}
	return nil
}

func (w *recognitionWorld) isCacheHit() error {
	if !w.last.CacheHit {
		return errors.New("expected a cache hit")
	}
	return nil
}

func (w *recognitionWorld) isNotCacheHit() error {
	if w.last.CacheHit {
		return errors.New("expected a cache miss")
	}
	return nil
}

func (w *recognitionWorld) engineCalled(name string, n int) error {
	b, err := w.backend(name)
	if err != nil {
		return err
	}
	if got := b.Calls(); got != int64(n) {
		return fmt.Errorf("engine %q was called %d times, want %d", name, got, n)
	}
	return nil
}

func (w *recognitionWorld) breachesRecorded(n int) error {
	w.pipeline.guard.Wait()
	if got := w.pipeline.Stats().Resources.Breaches; got < n {
		return fmt.Errorf("%d breaches recorded, want at least %d", got, n)
	}
	return nil
}

func initializeRecognitionScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(sc *godog.ScenarioContext) {
		w := &recognitionWorld{t: t}

		sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
			if w.pipeline != nil {
				_ = w.pipeline.Close()
			}
			return ctx, err
		})

		sc.Step(`^an engine "([^"]*)" with weight ([\d.]+) and threshold ([\d.]+) answering "([^"]*)" at confidence ([\d.]+)$`, w.anEngine)
		sc.Step(`^a broken engine "([^"]*)" failing with "([^"]*)"$`, w.aBrokenEngine)
		sc.Step(`^engine "([^"]*)" takes (\d+) milliseconds$`, w.engineTakes)
		sc.Step(`^strategy tiers with deadlines "([^"]*)"$`, w.tiersWithDeadlines)
		sc.Step(`^a cache of (\d+) entries$`, w.aCacheOf)
		sc.Step(`^a per-attempt memory limit of (\d+) MB that every attempt exceeds$`, w.memoryLimitExceeded)

		sc.Step(`^I recognize the receipt "([^"]*)"$`, w.iRecognize)
		sc.Step(`^I recognize the receipt "([^"]*)" skipping the cache$`, w.iRecognizeSkippingCache)

		sc.Step(`^the recognition succeeds$`, w.succeeds)
		sc.Step(`^the recognition fails with "([^"]*)"$`, w.failsWith)
		sc.Step(`^the text is "([^"]*)"$`, w.textIs)
		sc.Step(`^the voting method is "([^"]*)"$`, w.votingMethodIs)
		sc.Step(`^the confidence is ([\d.]+)$`, w.confidenceIs)
		sc.Step(`^the tier used is "([^"]*)"$`, w.tierUsedIs)
		sc.Step(`^the engines used are "([^"]*)"$`, w.enginesUsedAre)
		sc.Step(`^(\d+) attempts? failed$`, w.attemptsFailed)
		sc.Step(`^the elapsed time is at least (\d+) milliseconds$`, w.elapsedAtLeast)
		sc.Step(`^the cache holds (\d+) entries$`, w.cacheHolds)
		sc.Step(`^the last result is a cache hit$`, w.isCacheHit)
		sc.Step(`^the last result is not a cache hit$`, w.isNotCacheHit)
		sc.Step(`^engine "([^"]*)" was called (\d+) times?$`, w.engineCalled)
		sc.Step(`^at least (\d+) resource breach(?:es)? (?:was|were) recorded$`, w.breachesRecorded)
	}
}

func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("acceptance features skipped in short mode")
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}

	files, err := filepath.Glob(filepath.Join("features", "*.feature"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no feature files found: %v", err)
	}

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".feature"), func(t *testing.T) {
			suite := godog.TestSuite{
				ScenarioInitializer: initializeRecognitionScenario(t),
				Options: &godog.Options{
					Format:   format,
					Tags:     os.Getenv("GODOG_TAGS"),
					Paths:    []string{file},
					TestingT: t,
				},
			}
			if suite.Run() != 0 {
				t.Fatal("feature scenarios failed")
			}
		})
	}
}
