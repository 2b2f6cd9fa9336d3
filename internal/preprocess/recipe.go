package preprocess

import (
	"fmt"
	"image"
	"sort"
	"strings"
)

// Step is one named transform with numeric parameters.
type Step struct {
	Name   string             `mapstructure:"name" yaml:"name" json:"name"`
	Params map[string]float64 `mapstructure:"params" yaml:"params,omitempty" json:"params,omitempty"`
}

// Param returns the named parameter or def when it is unset.
func (s Step) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// Recipe is an ordered list of transforms applied by a strategy tier.
type Recipe []Step

// transformFunc applies one step to a grayscale image.
type transformFunc func(img *image.Gray, step Step) (*image.Gray, error)

type transform struct {
	fn     transformFunc
	params []string
}

var transforms = map[string]transform{
	"grayscale": {fn: normalizeLevels, params: []string{"clip"}},
	"deskew":    {fn: deskew, params: []string{"max_angle", "min_angle", "step"}},
	"denoise":   {fn: denoise, params: []string{"radius"}},
	"contrast":  {fn: localContrast, params: []string{"window", "strength"}},
	"threshold": {fn: adaptiveThreshold, params: []string{"window", "offset"}},
	"sharpen":   {fn: sharpen, params: []string{"sigma"}},
	"resample":  {fn: resample, params: []string{"min_long_edge", "max_long_edge"}},
}

// KnownSteps lists the transform names a recipe may use.
func KnownSteps() []string {
	names := make([]string, 0, len(transforms))
	for n := range transforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every step and parameter is known.
func (r Recipe) Validate() error {
	for i, s := range r {
		t, ok := transforms[s.Name]
		if !ok {
			return fmt.Errorf("step %d: unknown transform %q (known: %s)", i, s.Name, strings.Join(KnownSteps(), ", "))
		}
		for p := range s.Params {
			if !containsString(t.params, p) {
				return fmt.Errorf("step %d (%s): unknown parameter %q", i, s.Name, p)
			}
		}
	}
	if err := r.validateRanges(); err != nil {
		return err
	}
	return nil
}

func (r Recipe) validateRanges() error {
	for i, s := range r {
		switch s.Name {
		case "resample":
			lo, hi := s.Param("min_long_edge", 0), s.Param("max_long_edge", 0)
			if lo < 0 || hi < 0 || (hi > 0 && lo > hi) {
				return fmt.Errorf("step %d (resample): invalid band [%v, %v]", i, lo, hi)
			}
		case "deskew":
			if s.Param("max_angle", defaultMaxSkew) <= 0 || s.Param("max_angle", defaultMaxSkew) > 45 {
				return fmt.Errorf("step %d (deskew): max_angle must be in (0, 45]", i)
			}
		case "contrast":
			if st := s.Param("strength", defaultContrastStrength); st < 0 || st > 1 {
				return fmt.Errorf("step %d (contrast): strength must be in [0, 1]", i)
			}
		}
	}
	return nil
}

// Names returns the step names in order.
func (r Recipe) Names() []string {
	out := make([]string, len(r))
	for i, s := range r {
		out[i] = s.Name
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
