package window

import "github.com/pkg/errors"

type KeyedAccumulator[KEY comparable, ACC any] struct {
	Key         KEY
	Accumulator ACC
}

type WindowCheckpoint[KEY comparable, ACC any] struct {
	Window       Window
	State        State
	Accumulators []KeyedAccumulator[KEY, ACC]
}

// Checkpoint is the complete engine state. Every field is exported so it can be gob encoded.
type Checkpoint[KEY comparable, ACC any] struct {
	Watermark int64
	Windows   []WindowCheckpoint[KEY, ACC]
	Timers    []Timer
}

func (e *Engine[KEY, ACC, OUT]) Snapshot() Checkpoint[KEY, ACC] {
	checkpoint := Checkpoint[KEY, ACC]{Watermark: e.watermark, Timers: e.timers.Timers()}
	for _, w := range e.Windows() {
		windowCheckpoint := WindowCheckpoint[KEY, ACC]{Window: w, State: *e.states[w]}
		for _, key := range e.store.Keys(w) {
			acc, _ := e.store.Get(w, key)
			windowCheckpoint.Accumulators = append(windowCheckpoint.Accumulators, KeyedAccumulator[KEY, ACC]{Key: key, Accumulator: acc})
		}
		checkpoint.Windows = append(checkpoint.Windows, windowCheckpoint)
	}
	return checkpoint
}

// Restore replaces all engine state with checkpoint.
func (e *Engine[KEY, ACC, OUT]) Restore(checkpoint Checkpoint[KEY, ACC]) error {
	store := NewStore[KEY, ACC](e.fns.Initializer)
	states := make(map[Window]*State, len(checkpoint.Windows))
	for _, windowCheckpoint := range checkpoint.Windows {
		if _, ok := states[windowCheckpoint.Window]; ok {
			return errors.Errorf("duplicate window %s in checkpoint", windowCheckpoint.Window)
		}
		state := windowCheckpoint.State
		states[windowCheckpoint.Window] = &state
		for _, keyed := range windowCheckpoint.Accumulators {
			store.Put(windowCheckpoint.Window, keyed.Key, keyed.Accumulator)
		}
	}
	timers := newTimerQueue()
	for _, timer := range checkpoint.Timers {
		if _, ok := states[timer.Window]; !ok {
			return errors.Errorf("timer for unknown window %s in checkpoint", timer.Window)
		}
		timers.PushTimer(timer)
	}
	e.store, e.states, e.timers = store, states, timers
	e.watermark = checkpoint.Watermark
	e.metrics.activeWindows.Update(float64(len(e.states)))
	return nil
}
