// Package merge merges two independently arriving streams into one windowed,
// watermark driven output stream.
package merge

import (
	"strconv"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/store"
	"github.com/RuiFG/streaming-merge/watermark"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

const streams = 2

type Checkpoint[KEY comparable, ACC any] struct {
	Watermarks watermark.Tracker
	Engine     window.Checkpoint[KEY, ACC]
}

// Operator accumulates tuples of two streams into one state per (window, key).
// Methods must be called from a single goroutine.
type Operator[IN1, IN2 any, KEY comparable, ACC, OUT any] struct {
	fns        Functions[IN1, IN2, KEY, ACC, OUT]
	settings   *window.Settings
	engine     *window.Engine[KEY, ACC, OUT]
	watermarks *watermark.Tracker
	logger     log.Logger
	failure    error

	droppedTuples        [streams]tally.Counter
	regressiveWatermarks [streams]tally.Counter
}

// New configures a merge operator. The functions are validated by Open.
func New[IN1, IN2 any, KEY comparable, ACC, OUT any](fns Functions[IN1, IN2, KEY, ACC, OUT], opts ...window.Option) (*Operator[IN1, IN2, KEY, ACC, OUT], error) {
	settings, err := window.NewSettings(append([]window.Option{window.WithName("merge")}, opts...)...)
	if err != nil {
		return nil, err
	}
	settings.Logger = settings.Logger.Named(settings.Name)
	settings.Scope = settings.Scope.Tagged(map[string]string{"operator": settings.Name})
	o := &Operator[IN1, IN2, KEY, ACC, OUT]{
		fns:        fns,
		settings:   settings,
		watermarks: watermark.NewTracker(streams),
		logger:     settings.Logger,
	}
	for i := 0; i < streams; i++ {
		scope := settings.Scope.Tagged(map[string]string{"stream": strconv.Itoa(i + 1)})
		o.droppedTuples[i] = scope.Counter("dropped_tuples")
		o.regressiveWatermarks[i] = scope.Counter("regressive_watermarks")
	}
	return o, nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Open(collector element.Collector[OUT]) (err error) {
	if collector == nil {
		return errors.Wrap(ErrMissingConfiguration, "collector can't be nil")
	}
	if err = o.fns.validate(); err != nil {
		return err
	}
	if o.engine, err = window.NewEngine[KEY, ACC, OUT](o.settings, window.EngineFunctions[KEY, ACC, OUT]{
		Initializer:       o.fns.Initializer,
		Combine:           o.fns.Combine,
		Finalize:          o.fns.Finalize,
		OnFinalizeFailure: o.fns.OnFinalizeFailure,
	}); err != nil {
		return errors.WithMessage(err, "failed to open merge operator")
	}
	o.engine.Open(collector)
	o.logger.Infow("merge operator opened", "lateness", o.settings.AllowedLateness, "policy", o.settings.LatenessPolicy.String())
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Close() error {
	o.engine = nil
	return nil
}

// Failed returns the latched merge failure, if any.
func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Failed() error {
	return o.failure
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Name() string {
	return o.settings.Name
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Watermark(stream int) element.Watermark {
	return element.Watermark(o.watermarks.Watermark(stream))
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) CombinedWatermark() element.Watermark {
	return element.Watermark(o.watermarks.Combined())
}

// Store exposes the accumulator store, valid after Open.
func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Store() *window.Store[KEY, ACC] {
	if o.engine == nil {
		return nil
	}
	return o.engine.Store()
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) State(w window.Window) (window.State, bool) {
	if o.engine == nil {
		return window.State{}, false
	}
	return o.engine.State(w)
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) accumulate1(in IN1) func(ACC) (ACC, error) {
	return func(acc ACC) (ACC, error) { return o.fns.Accumulate1(acc, in) }
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) accumulate2(in IN2) func(ACC) (ACC, error) {
	return func(acc ACC) (ACC, error) { return o.fns.Accumulate2(acc, in) }
}

// MergeStream1 folds a first stream tuple into the accumulator of (w, key) and evaluates
// the triggers of w. A window already past cleanup is not touched.
func (o *Operator[IN1, IN2, KEY, ACC, OUT]) MergeStream1(w window.Window, key KEY, in IN1) error {
	if err := o.ready(); err != nil {
		return err
	}
	return o.merge(1, w, key, o.accumulate1(in))
}

// MergeStream2 folds a second stream tuple into the accumulator of (w, key).
func (o *Operator[IN1, IN2, KEY, ACC, OUT]) MergeStream2(w window.Window, key KEY, in IN2) error {
	if err := o.ready(); err != nil {
		return err
	}
	return o.merge(2, w, key, o.accumulate2(in))
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) merge(stream int, w window.Window, key KEY, merge func(ACC) (ACC, error)) error {
	admission, err := o.engine.Merge(w, key, merge)
	if err != nil {
		return o.fail(stream, w.MaxTimestamp(), key, err)
	}
	if admission == window.Late {
		o.droppedTuples[stream-1].Inc(1)
		o.logger.Debugw("dropped tuple for retired window", "stream", stream, "window", w.String())
	}
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) fail(stream int, timestamp int64, key KEY, err error) error {
	o.failure = &FailedError{Stream: stream, Timestamp: timestamp, Key: key, Err: err}
	o.logger.Errorw("merge failed, rejecting further input", "stream", stream, "timestamp", timestamp, "key", key, "error", err)
	return o.failure
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ready() error {
	if o.failure != nil {
		return o.failure
	}
	if o.engine == nil {
		return ErrNotOpened
	}
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ProcessEvent1(event *element.Event[IN1]) error {
	if err := o.ready(); err != nil {
		return err
	}
	if event == nil {
		return errors.New("nil event on stream 1")
	}
	return o.process(1, o.fns.Extractor1(event.Value), o.fns.KeySelector1(event.Value), o.accumulate1(event.Value))
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ProcessEvent2(event *element.Event[IN2]) error {
	if err := o.ready(); err != nil {
		return err
	}
	if event == nil {
		return errors.New("nil event on stream 2")
	}
	return o.process(2, o.fns.Extractor2(event.Value), o.fns.KeySelector2(event.Value), o.accumulate2(event.Value))
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) boundary(stream int) int64 {
	wm := o.watermarks.Watermark(stream)
	if o.settings.LatenessPolicy == window.Combined {
		wm = o.watermarks.Combined()
	}
	return window.Boundary(wm, o.settings.AllowedLateness)
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) process(stream int, timestamp int64, key KEY, merge func(ACC) (ACC, error)) error {
	boundary := o.boundary(stream)
	admission, err := o.engine.Process(timestamp, key, boundary, merge)
	if err != nil {
		return o.fail(stream, timestamp, key, err)
	}
	switch admission {
	case window.Late:
		o.droppedTuples[stream-1].Inc(1)
		o.logger.Debugw("dropped late tuple", "stream", stream, "timestamp", timestamp, "boundary", boundary)
	case window.Unassigned:
		o.logger.Debugw("tuple has no window", "stream", stream, "timestamp", timestamp)
	}
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ProcessWatermark1(wm element.Watermark) error {
	return o.processWatermark(1, wm)
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ProcessWatermark2(wm element.Watermark) error {
	return o.processWatermark(2, wm)
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) processWatermark(stream int, wm element.Watermark) error {
	if err := o.ready(); err != nil {
		return err
	}
	advanced, changed := o.watermarks.Advance(stream, int64(wm))
	if !advanced {
		o.regressiveWatermarks[stream-1].Inc(1)
		o.logger.Debugw("ignored regressive watermark", "stream", stream,
			"watermark", int64(wm), "current", o.watermarks.Watermark(stream))
		return nil
	}
	if changed {
		o.engine.AdvanceWatermark(o.watermarks.Combined())
	}
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ProcessElement1(e element.Element) error {
	switch value := e.(type) {
	case *element.Event[IN1]:
		return o.ProcessEvent1(value)
	case element.Watermark:
		return o.ProcessWatermark1(value)
	default:
		return errors.Errorf("unsupported element %T on stream 1", e)
	}
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) ProcessElement2(e element.Element) error {
	switch value := e.(type) {
	case *element.Event[IN2]:
		return o.ProcessEvent2(value)
	case element.Watermark:
		return o.ProcessWatermark2(value)
	default:
		return errors.Errorf("unsupported element %T on stream 2", e)
	}
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) OnProcessingTime(now int64) error {
	if err := o.ready(); err != nil {
		return err
	}
	o.engine.OnProcessingTime(now)
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Snapshot() (Checkpoint[KEY, ACC], error) {
	if err := o.ready(); err != nil {
		return Checkpoint[KEY, ACC]{}, err
	}
	return Checkpoint[KEY, ACC]{Watermarks: o.watermarks.Snapshot(), Engine: o.engine.Snapshot()}, nil
}

// Restore replaces the operator state and clears a latched failure.
func (o *Operator[IN1, IN2, KEY, ACC, OUT]) Restore(checkpoint Checkpoint[KEY, ACC]) error {
	if o.engine == nil {
		return ErrNotOpened
	}
	watermarks := watermark.NewTracker(streams)
	if err := watermarks.Restore(checkpoint.Watermarks); err != nil {
		return err
	}
	if err := o.engine.Restore(checkpoint.Engine); err != nil {
		return err
	}
	o.watermarks = watermarks
	o.failure = nil
	return nil
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) SnapshotState() ([]byte, error) {
	checkpoint, err := o.Snapshot()
	if err != nil {
		return nil, err
	}
	return store.GobEncode(checkpoint)
}

func (o *Operator[IN1, IN2, KEY, ACC, OUT]) RestoreState(state []byte) error {
	checkpoint, err := store.GobDecode[Checkpoint[KEY, ACC]](state)
	if err != nil {
		return errors.WithMessage(err, "failed to restore merge operator")
	}
	return o.Restore(checkpoint)
}
