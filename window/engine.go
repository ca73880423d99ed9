package window

import (
	"math"
	"sort"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

// Admission is the outcome of offering a tuple to the engine.
type Admission int

const (
	Admitted Admission = iota
	// Late means every window of the tuple was already past the lateness boundary.
	Late
	// Unassigned means the assigner produced no window for the tuple.
	Unassigned
)

type EngineFunctions[KEY comparable, ACC, OUT any] struct {
	Initializer func() ACC
	// Combine merges two accumulators of the same key, required for merging assigners.
	Combine  func(ACC, ACC) (ACC, error)
	Finalize func(Window, KEY, ACC) (OUT, error)
	// OnFinalizeFailure is called for every key whose Finalize failed, may be nil.
	OnFinalizeFailure func(Window, KEY, error)
}

type engineMetrics struct {
	firedWindows     tally.Counter
	retiredWindows   tally.Counter
	emittedTuples    tally.Counter
	finalizeFailures tally.Counter
	activeWindows    tally.Gauge
}

// Engine owns window state, trigger bookkeeping and event time timers for one operator.
// It is driven by a single goroutine.
type Engine[KEY comparable, ACC, OUT any] struct {
	settings  *Settings
	fns       EngineFunctions[KEY, ACC, OUT]
	store     *Store[KEY, ACC]
	states    map[Window]*State
	timers    *timerQueue
	watermark int64
	collector element.Collector[OUT]
	logger    log.Logger
	metrics   engineMetrics
}

func NewEngine[KEY comparable, ACC, OUT any](settings *Settings, fns EngineFunctions[KEY, ACC, OUT]) (*Engine[KEY, ACC, OUT], error) {
	if settings == nil || settings.Assigner == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "window settings need an assigner")
	}
	if fns.Initializer == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "initializer can't be nil")
	}
	if fns.Finalize == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "finalize can't be nil")
	}
	if settings.Assigner.IsMerging() && fns.Combine == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "merging window assigner needs a combine function")
	}
	logger, scope := settings.Logger, settings.Scope
	if logger == nil {
		logger = log.Global()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Engine[KEY, ACC, OUT]{
		settings:  settings,
		fns:       fns,
		store:     NewStore[KEY, ACC](fns.Initializer),
		states:    map[Window]*State{},
		timers:    newTimerQueue(),
		watermark: math.MinInt64,
		collector: &element.NoopCollector[OUT]{},
		logger:    logger,
		metrics: engineMetrics{
			firedWindows:     scope.Counter("fired_windows"),
			retiredWindows:   scope.Counter("retired_windows"),
			emittedTuples:    scope.Counter("emitted_tuples"),
			finalizeFailures: scope.Counter("finalize_failures"),
			activeWindows:    scope.Gauge("active_windows"),
		},
	}, nil
}

func (e *Engine[KEY, ACC, OUT]) Open(collector element.Collector[OUT]) {
	if collector != nil {
		e.collector = collector
	}
}

func (e *Engine[KEY, ACC, OUT]) Settings() *Settings {
	return e.settings
}

func (e *Engine[KEY, ACC, OUT]) Store() *Store[KEY, ACC] {
	return e.store
}

func (e *Engine[KEY, ACC, OUT]) CurrentWatermark() int64 {
	return e.watermark
}

func (e *Engine[KEY, ACC, OUT]) State(w Window) (State, bool) {
	state, ok := e.states[w]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Windows returns every live window, ordered by end then start.
func (e *Engine[KEY, ACC, OUT]) Windows() []Window {
	windows := make([]Window, 0, len(e.states))
	for w := range e.states {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].less(windows[j]) })
	return windows
}

// Process assigns timestamp to windows, skips the ones already late at boundary and
// applies merge to the accumulator of key in each remaining window.
func (e *Engine[KEY, ACC, OUT]) Process(timestamp int64, key KEY, boundary int64, merge func(ACC) (ACC, error)) (Admission, error) {
	windows := e.settings.Assigner.AssignWindows(timestamp)
	if len(windows) == 0 {
		return Unassigned, nil
	}
	if IsLate(e.settings.Assigner, timestamp, boundary) {
		return Late, nil
	}
	admitted := false
	for _, w := range windows {
		if IsWindowLate(w, boundary) {
			continue
		}
		admission, err := e.Merge(w, key, merge)
		if err != nil {
			return Admitted, err
		}
		admitted = admitted || admission == Admitted
	}
	if !admitted {
		return Late, nil
	}
	return Admitted, nil
}

// Merge applies merge to the accumulator of key in w and evaluates the window triggers.
// A window already past its cleanup time is left untouched and reported as Late.
func (e *Engine[KEY, ACC, OUT]) Merge(w Window, key KEY, merge func(ACC) (ACC, error)) (Admission, error) {
	if cleanupTime(w, e.settings.AllowedLateness) <= e.watermark {
		return Late, nil
	}
	if e.settings.Assigner.IsMerging() {
		var err error
		if w, err = e.mergeWindows(w, key); err != nil {
			return Admitted, err
		}
	}
	state := e.ensureState(w)
	if err := e.store.Merge(w, key, merge); err != nil {
		return Admitted, errors.WithMessagef(err, "failed to merge into window %s", w)
	}
	state.TupleCount++
	state.Pending = true
	e.onElement(w, state)
	return Admitted, nil
}

func (e *Engine[KEY, ACC, OUT]) onElement(w Window, state *State) {
	trigger := e.settings.Trigger
	switch state.Lifecycle {
	case Open:
		if trigger.EarlyFiringCount > 0 && state.TupleCount >= trigger.EarlyFiringCount {
			e.fire(w, state, false)
		}
	case FiringEligible:
		if trigger.OnTime {
			e.fire(w, state, false)
			state.Lifecycle = Fired
		}
	case Fired:
		if trigger.LateFiringCount > 0 && state.TupleCount >= trigger.LateFiringCount {
			e.fire(w, state, false)
		}
	}
}

// mergeWindows folds every window of key that intersects w into one window and moves the
// combined accumulator there.
func (e *Engine[KEY, ACC, OUT]) mergeWindows(w Window, key KEY) (Window, error) {
	var sources []Window
	merged := w
	for _, candidate := range e.store.Windows() {
		if _, ok := e.store.Get(candidate, key); ok && candidate.Intersects(merged) {
			sources = append(sources, candidate)
			merged = merged.Cover(candidate)
		}
	}
	if len(sources) == 0 || (len(sources) == 1 && sources[0] == merged) {
		return merged, nil
	}
	var (
		combined    ACC
		hasCombined bool
		tuples      int
		firings     int
	)
	for _, source := range sources {
		acc, _ := e.store.Get(source, key)
		if !hasCombined {
			combined, hasCombined = acc, true
		} else {
			var err error
			if combined, err = e.fns.Combine(combined, acc); err != nil {
				return merged, errors.WithMessagef(err, "failed to combine session window %s into %s", source, merged)
			}
		}
		e.store.Remove(source, key)
		state, ok := e.states[source]
		if ok && state.Firings > firings {
			firings = state.Firings
		}
		// a source window still holding other keys keeps its count
		if source != merged && len(e.store.Keys(source)) == 0 {
			if ok {
				tuples += state.TupleCount
			}
			e.dropWindow(source)
		}
	}
	state := e.ensureState(merged)
	state.TupleCount += tuples
	if firings > state.Firings {
		state.Firings = firings
	}
	e.store.Put(merged, key, combined)
	e.logger.Debugw("merged session windows", "key", key, "window", merged.String(), "sources", len(sources))
	return merged, nil
}

func (e *Engine[KEY, ACC, OUT]) ensureState(w Window) *State {
	if state, ok := e.states[w]; ok {
		return state
	}
	state := &State{Lifecycle: Open}
	e.states[w] = state
	if !w.IsGlobal() {
		if w.End > e.watermark {
			e.timers.PushTimer(Timer{Window: w, Kind: OnTimeTimer, Timestamp: w.End})
		} else {
			state.Lifecycle = FiringEligible
		}
	}
	e.timers.PushTimer(Timer{Window: w, Kind: CleanupTimer, Timestamp: cleanupTime(w, e.settings.AllowedLateness)})
	e.metrics.activeWindows.Update(float64(len(e.states)))
	return state
}

func (e *Engine[KEY, ACC, OUT]) dropWindow(w Window) {
	e.store.RemoveWindow(w)
	e.timers.RemoveWindow(w)
	delete(e.states, w)
	e.metrics.activeWindows.Update(float64(len(e.states)))
}

// AdvanceWatermark runs every timer due at watermark and forwards the watermark downstream.
// A watermark that does not advance is ignored.
func (e *Engine[KEY, ACC, OUT]) AdvanceWatermark(watermark int64) {
	if watermark <= e.watermark {
		return
	}
	e.watermark = watermark
	for {
		timer, ok := e.timers.PeekTimer()
		if !ok || timer.Timestamp > watermark {
			break
		}
		e.timers.PopTimer()
		e.onEventTime(timer)
	}
	e.collector.EmitWatermark(element.Watermark(watermark))
}

func (e *Engine[KEY, ACC, OUT]) onEventTime(timer Timer) {
	state, ok := e.states[timer.Window]
	if !ok {
		return
	}
	switch timer.Kind {
	case OnTimeTimer:
		if state.Lifecycle != Open {
			return
		}
		if e.settings.Trigger.OnTime {
			e.fire(timer.Window, state, false)
			state.Lifecycle = Fired
		} else {
			state.Lifecycle = FiringEligible
		}
	case CleanupTimer:
		if state.Lifecycle == Open {
			state.Lifecycle = FiringEligible
		}
		if state.Firings == 0 || state.Pending {
			e.fire(timer.Window, state, true)
		}
		state.Lifecycle = Retired
		e.dropWindow(timer.Window)
		e.metrics.retiredWindows.Inc(1)
		e.logger.Debugw("window retired", "window", timer.Window.String(), "firings", state.Firings)
	}
}

// OnProcessingTime drives the periodic early firing. The first call only starts the period.
func (e *Engine[KEY, ACC, OUT]) OnProcessingTime(now int64) {
	period := e.settings.Trigger.EarlyFiringPeriod.Milliseconds()
	if period <= 0 {
		return
	}
	for _, w := range e.Windows() {
		state := e.states[w]
		if state.LastFiredAt == 0 {
			state.LastFiredAt = now
			continue
		}
		if state.Lifecycle == Open && state.Pending && now-state.LastFiredAt >= period {
			e.fire(w, state, false)
			state.LastFiredAt = now
		}
	}
}

func (e *Engine[KEY, ACC, OUT]) fire(w Window, state *State, final bool) {
	emitted := 0
	for _, key := range e.store.Keys(w) {
		acc, _ := e.store.Get(w, key)
		out, err := e.fns.Finalize(w, key, acc)
		if err != nil {
			e.metrics.finalizeFailures.Inc(1)
			e.logger.Warnw("failed to finalize accumulator, skipping key", "window", w.String(), "key", key, "error", err)
			if e.fns.OnFinalizeFailure != nil {
				e.fns.OnFinalizeFailure(w, key, err)
			}
			continue
		}
		e.collector.EmitEvent(&element.Event[OUT]{Value: out, Timestamp: w.MaxTimestamp(), HasTimestamp: true})
		emitted++
	}
	state.Firings++
	state.TupleCount = 0
	state.Pending = false
	if !final && e.settings.Trigger.Mode == Discarding {
		e.store.RemoveWindow(w)
	}
	e.metrics.firedWindows.Inc(1)
	e.metrics.emittedTuples.Inc(int64(emitted))
}
