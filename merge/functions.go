package merge

import (
	"github.com/RuiFG/streaming-merge/accumulation"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/pkg/errors"
)

// Functions are the user functions of a merge operator, one set per input stream
// plus the shared accumulator lifecycle.
type Functions[IN1, IN2 any, KEY comparable, ACC, OUT any] struct {
	Extractor1   func(IN1) int64
	Extractor2   func(IN2) int64
	KeySelector1 func(IN1) KEY
	KeySelector2 func(IN2) KEY

	Initializer func() ACC
	Accumulate1 func(ACC, IN1) (ACC, error)
	Accumulate2 func(ACC, IN2) (ACC, error)
	// Combine is only required by merging window assigners.
	Combine           func(ACC, ACC) (ACC, error)
	Finalize          func(window.Window, KEY, ACC) (OUT, error)
	OnFinalizeFailure func(window.Window, KEY, error)
}

func (f Functions[IN1, IN2, KEY, ACC, OUT]) validate() error {
	switch {
	case f.Extractor1 == nil || f.Extractor2 == nil:
		return errors.Wrap(ErrMissingConfiguration, "both timestamp extractors are required")
	case f.KeySelector1 == nil || f.KeySelector2 == nil:
		return errors.Wrap(ErrMissingConfiguration, "both key selectors are required")
	case f.Initializer == nil:
		return errors.Wrap(ErrMissingConfiguration, "initializer can't be nil")
	case f.Accumulate1 == nil || f.Accumulate2 == nil:
		return errors.Wrap(ErrMissingConfiguration, "both accumulate functions are required")
	case f.Finalize == nil:
		return errors.Wrap(ErrMissingConfiguration, "finalize can't be nil")
	}
	return nil
}

// WithAccumulation fills the accumulator lifecycle of fns from m.
func WithAccumulation[IN1, IN2 any, KEY comparable, ACC, OUT any](fns Functions[IN1, IN2, KEY, ACC, OUT],
	m accumulation.Merge[IN1, IN2, ACC, OUT]) Functions[IN1, IN2, KEY, ACC, OUT] {
	fns.Initializer = m.Initial
	fns.Accumulate1 = m.Accumulate1
	fns.Accumulate2 = m.Accumulate2
	fns.Combine = m.Combine
	fns.Finalize = func(_ window.Window, _ KEY, acc ACC) (OUT, error) {
		return m.Output(acc)
	}
	return fns
}

// WithNonKeySelector puts every tuple of both streams under one key.
func WithNonKeySelector[IN1, IN2, ACC, OUT any](fns Functions[IN1, IN2, struct{}, ACC, OUT]) Functions[IN1, IN2, struct{}, ACC, OUT] {
	nonKey := struct{}{}
	fns.KeySelector1 = func(IN1) struct{} { return nonKey }
	fns.KeySelector2 = func(IN2) struct{} { return nonKey }
	return fns
}
