package pipeline

import (
	"context"
	"errors"
	"image"

	"github.com/MeKo-Tech/receipt-ocr/internal/engine"
	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

// EngineSpec is the voting policy of one enabled engine.
type EngineSpec struct {
	Name string `json:"name"`
	// Weight is the static priority weight used in weighted voting.
	Weight float64 `json:"priority_weight"`
	// Threshold is the minimum confidence for taking part in a vote.
	Threshold float64 `json:"min_confidence_threshold"`
	// Languages are used when the request carries no hints.
	Languages []string `json:"languages,omitempty"`
}

type engineSlot struct {
	spec    EngineSpec
	adapter *engine.Adapter
}

// fanOut runs every engine on img in its own goroutine and collects whatever
// finished before ctx is done. Engines still running at that point are
// abandoned; their late results are dropped. complete reports whether every
// engine answered.
func (p *Pipeline) fanOut(ctx context.Context, img image.Image, langs []string) (results []engine.Result, reports []EngineReport, complete bool) {
	type indexed struct {
		index  int
		result engine.Result
	}
	out := make(chan indexed, len(p.engines))

	for i, slot := range p.engines {
		go func() {
			if err := p.acquire(ctx); err != nil {
				out <- indexed{i, engine.Result{Engine: slot.spec.Name, Err: err}}
				return
			}
			defer p.release()

			hints := langs
			if len(hints) == 0 {
				hints = slot.spec.Languages
			}
			res := slot.adapter.Recognize(ctx, img, hints)
			res.Engine = slot.spec.Name
			out <- indexed{i, res}
		}()
	}

	got := make([]*engine.Result, len(p.engines))
	received := 0
collect:
	for received < len(p.engines) {
		select {
		case r := <-out:
			got[r.index] = &r.result
			received++
		case <-ctx.Done():
			break collect
		}
	}

	reports = make([]EngineReport, len(p.engines))
	for i, slot := range p.engines {
		name := slot.spec.Name
		r := got[i]
		switch {
		case r == nil:
			reports[i] = EngineReport{Engine: name, Status: EngineAbandoned, Error: ctx.Err().Error()}
			p.metrics.EngineInvocation(name, string(EngineAbandoned), 0)
		case r.OK():
			results = append(results, *r)
			reports[i] = EngineReport{Engine: name, Status: EngineOK, Confidence: r.Confidence, Boosted: r.Boosted, Elapsed: r.Elapsed}
			p.metrics.EngineInvocation(name, string(EngineOK), r.Confidence)
		default:
			results = append(results, *r)
			reports[i] = EngineReport{Engine: name, Status: EngineFailed, Elapsed: r.Elapsed, Error: r.Err.Error()}
			p.metrics.EngineInvocation(name, string(EngineFailed), 0)
		}
	}
	return results, reports, received == len(p.engines)
}

// acquire takes a slot of the process-wide engine semaphore.
func (p *Pipeline) acquire(ctx context.Context) error {
	if p.sem == nil {
		return nil
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) release() {
	if p.sem != nil {
		<-p.sem
	}
}

// ballots turns successful engine results into voting ballots.
func (p *Pipeline) ballots(results []engine.Result) []voting.Ballot {
	specs := make(map[string]EngineSpec, len(p.engines))
	for _, s := range p.engines {
		specs[s.spec.Name] = s.spec
	}
	out := make([]voting.Ballot, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			continue
		}
		spec := specs[r.Engine]
		out = append(out, voting.Ballot{
			Engine:     r.Engine,
			Text:       r.Text,
			Confidence: r.Confidence,
			Weight:     spec.Weight,
			Threshold:  spec.Threshold,
		})
	}
	return out
}

// engineErrors joins the errors of failed engine results.
func engineErrors(results []engine.Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
