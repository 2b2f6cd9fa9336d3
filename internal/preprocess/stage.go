// Package preprocess decodes receipt images and applies the deterministic,
// tier-specific preparation recipes that run before recognition.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"time"
)

// StepError records a transform that failed and was skipped.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("transform %s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// StepReport describes how one step went.
type StepReport struct {
	Name     string        `json:"name"`
	Applied  bool          `json:"applied"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report summarizes a recipe application.
type Report struct {
	Steps []StepReport `json:"steps"`
}

// Failed returns the steps that were skipped because they failed.
func (r Report) Failed() []StepReport {
	var out []StepReport
	for _, s := range r.Steps {
		if !s.Applied {
			out = append(out, s)
		}
	}
	return out
}

// Stage applies recipes. It holds no per-call state and is safe for concurrent use.
type Stage struct {
	logger *slog.Logger
}

// NewStage creates a preparation stage; a nil logger uses slog.Default().
func NewStage(logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{logger: logger}
}

// Apply runs recipe on img. Every transform fails soft: on error or panic the
// pre-transform image is kept. Only context cancellation aborts the run, in
// which case the image prepared so far is returned with ctx.Err().
func (s *Stage) Apply(ctx context.Context, img image.Image, recipe Recipe) (image.Image, Report, error) {
	var report Report
	cur := ToGray(img)

	for _, step := range recipe {
		if err := ctx.Err(); err != nil {
			return cur, report, err
		}

		start := time.Now()
		next, err := s.run(step, cur)
		sr := StepReport{Name: step.Name, Duration: time.Since(start)}
		if err != nil {
			sr.Error = err.Error()
			s.logger.Warn("preparation step failed, keeping previous image",
				"step", step.Name, "error", err)
		} else {
			sr.Applied = true
			cur = next
		}
		report.Steps = append(report.Steps, sr)
	}
	return cur, report, nil
}

func (s *Stage) run(step Step, img *image.Gray) (out *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &StepError{Step: step.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	t, ok := transforms[step.Name]
	if !ok {
		return nil, &StepError{Step: step.Name, Err: errors.New("unknown transform")}
	}
	out, err = t.fn(img, step)
	if err != nil {
		return nil, &StepError{Step: step.Name, Err: err}
	}
	if out == nil || out.Bounds().Empty() {
		return nil, &StepError{Step: step.Name, Err: errors.New("transform produced an empty image")}
	}
	return out, nil
}

// ToGray converts any image to *image.Gray with its origin at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && isCompact(g) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// isCompact reports whether g starts at the origin and its Pix holds exactly its pixels.
func isCompact(g *image.Gray) bool {
	b := g.Bounds()
	return b.Min == (image.Point{}) && g.Stride == b.Dx() && len(g.Pix) == b.Dx()*b.Dy()
}
