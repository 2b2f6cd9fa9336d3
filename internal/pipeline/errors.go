package pipeline

import "errors"

var (
	// ErrNoResults is returned by a tier in which no engine produced text.
	ErrNoResults = errors.New("no engine produced a result")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid pipeline config")
	// ErrNoEngines is returned by Build when no engine was added.
	ErrNoEngines = errors.New("at least one engine is required")
)
