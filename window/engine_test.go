package window

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockCollector[T any] struct {
	events     []*element.Event[T]
	watermarks []element.Watermark
}

func (c *mockCollector[T]) EmitEvent(event *element.Event[T]) {
	c.events = append(c.events, event)
}

func (c *mockCollector[T]) EmitWatermark(watermark element.Watermark) {
	c.watermarks = append(c.watermarks, watermark)
}

func (c *mockCollector[T]) values() []T {
	var values []T
	for _, event := range c.events {
		values = append(values, event.Value)
	}
	return values
}

func (c *mockCollector[T]) timestamps() []int64 {
	var timestamps []int64
	for _, event := range c.events {
		timestamps = append(timestamps, event.Timestamp)
	}
	return timestamps
}

func counterValue(scope tally.TestScope, name string) int64 {
	var value int64
	for _, counter := range scope.Snapshot().Counters() {
		if counter.Name() == name {
			value += counter.Value()
		}
	}
	return value
}

func increment(acc int) (int, error) {
	return acc + 1, nil
}

func sumFunctions() EngineFunctions[string, int, string] {
	return EngineFunctions[string, int, string]{
		Initializer: func() int { return 0 },
		Combine:     func(a, b int) (int, error) { return a + b, nil },
		Finalize: func(_ Window, key string, acc int) (string, error) {
			return fmt.Sprintf("%s=%d", key, acc), nil
		},
	}
}

func newTestEngine(t *testing.T, fns EngineFunctions[string, int, string], opts ...Option) (*Engine[string, int, string], *mockCollector[string], tally.TestScope) {
	scope := tally.NewTestScope("", nil)
	settings, err := NewSettings(append([]Option{WithMetricsScope(scope), WithLogger(log.Nop())}, opts...)...)
	require.NoError(t, err)
	engine, err := NewEngine[string, int, string](settings, fns)
	require.NoError(t, err)
	collector := &mockCollector[string]{}
	engine.Open(collector)
	return engine, collector, scope
}

func TestEngineDefaultPolicyFiresOnceAtLatenessExpiry(t *testing.T) {
	engine, collector, scope := newTestEngine(t, sumFunctions(),
		WithTumbling(10*time.Millisecond, 0), WithAllowedLateness(5*time.Millisecond))

	admission, err := engine.Process(3, "a", math.MinInt64, increment)
	require.NoError(t, err)
	assert.Equal(t, Admitted, admission)
	state, ok := engine.State(Window{0, 10})
	require.True(t, ok)
	assert.Equal(t, Open, state.Lifecycle)

	engine.AdvanceWatermark(10)
	state, _ = engine.State(Window{0, 10})
	assert.Equal(t, FiringEligible, state.Lifecycle)
	assert.Empty(t, collector.events)

	engine.AdvanceWatermark(14)
	admission, err = engine.Process(4, "a", Boundary(14, 5), increment)
	require.NoError(t, err)
	assert.Equal(t, Admitted, admission)
	assert.Empty(t, collector.events)

	engine.AdvanceWatermark(15)
	assert.Equal(t, []string{"a=2"}, collector.values())
	assert.Equal(t, []int64{9}, collector.timestamps())
	_, ok = engine.State(Window{0, 10})
	assert.False(t, ok)
	assert.Equal(t, []element.Watermark{10, 14, 15}, collector.watermarks)

	admission, err = engine.Process(5, "a", Boundary(15, 5), increment)
	require.NoError(t, err)
	assert.Equal(t, Late, admission)
	assert.Empty(t, engine.Windows())

	engine.AdvanceWatermark(15)
	engine.AdvanceWatermark(100)
	assert.Len(t, collector.events, 1)
	assert.Equal(t, int64(1), counterValue(scope, "fired_windows"))
	assert.Equal(t, int64(1), counterValue(scope, "retired_windows"))
	assert.Equal(t, int64(1), counterValue(scope, "emitted_tuples"))
}

func TestEngineEmitsKeysInInsertionOrder(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(), WithTumbling(10*time.Millisecond, 0))
	for _, key := range []string{"b", "a", "c", "a"} {
		_, err := engine.Process(1, key, math.MinInt64, increment)
		require.NoError(t, err)
	}
	engine.AdvanceWatermark(10)
	assert.Equal(t, []string{"b=1", "a=2", "c=1"}, collector.values())
}

func TestEngineOnTimeAndLateFiring(t *testing.T) {
	t.Run("late firing count", func(t *testing.T) {
		engine, collector, _ := newTestEngine(t, sumFunctions(),
			WithTumbling(10*time.Millisecond, 0), WithAllowedLateness(10*time.Millisecond),
			WithOnTimeFiring(), WithLateFiringCount(1))
		_, err := engine.Process(1, "a", math.MinInt64, increment)
		require.NoError(t, err)
		engine.AdvanceWatermark(10)
		assert.Equal(t, []string{"a=1"}, collector.values())
		state, _ := engine.State(Window{0, 10})
		assert.Equal(t, Fired, state.Lifecycle)

		admission, err := engine.Process(2, "a", Boundary(10, 10), increment)
		require.NoError(t, err)
		assert.Equal(t, Admitted, admission)
		assert.Equal(t, []string{"a=1", "a=2"}, collector.values())

		engine.AdvanceWatermark(20)
		assert.Equal(t, []string{"a=1", "a=2"}, collector.values())
	})
	t.Run("final firing for pending contributions", func(t *testing.T) {
		engine, collector, _ := newTestEngine(t, sumFunctions(),
			WithTumbling(10*time.Millisecond, 0), WithAllowedLateness(10*time.Millisecond), WithOnTimeFiring())
		_, err := engine.Process(1, "a", math.MinInt64, increment)
		require.NoError(t, err)
		engine.AdvanceWatermark(10)
		_, err = engine.Process(2, "a", Boundary(10, 10), increment)
		require.NoError(t, err)
		assert.Equal(t, []string{"a=1"}, collector.values())
		engine.AdvanceWatermark(20)
		assert.Equal(t, []string{"a=1", "a=2"}, collector.values())
	})
	t.Run("window created after its end fires immediately", func(t *testing.T) {
		engine, collector, _ := newTestEngine(t, sumFunctions(),
			WithTumbling(10*time.Millisecond, 0), WithAllowedLateness(10*time.Millisecond), WithOnTimeFiring())
		engine.AdvanceWatermark(12)
		_, err := engine.Process(4, "a", Boundary(12, 10), increment)
		require.NoError(t, err)
		assert.Equal(t, []string{"a=1"}, collector.values())
		state, _ := engine.State(Window{0, 10})
		assert.Equal(t, Fired, state.Lifecycle)
	})
}

func TestEngineDiscardingEarlyFiring(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(),
		WithTumbling(10*time.Millisecond, 0), WithEarlyFiringCount(2), WithAccumulationMode(Discarding))
	for ts := int64(1); ts <= 3; ts++ {
		_, err := engine.Process(ts, "a", math.MinInt64, increment)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a=2"}, collector.values())
	acc, _ := engine.Store().Get(Window{0, 10}, "a")
	assert.Equal(t, 1, acc)

	engine.AdvanceWatermark(10)
	assert.Equal(t, []string{"a=2", "a=1"}, collector.values())
}

func TestEngineAccumulatingEarlyFiring(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(), WithGlobal(), WithEarlyFiringCount(2))
	for ts := int64(1); ts <= 4; ts++ {
		_, err := engine.Process(ts, "a", math.MinInt64, increment)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a=2", "a=4"}, collector.values())

	engine.AdvanceWatermark(math.MaxInt64)
	assert.Equal(t, []string{"a=2", "a=4"}, collector.values())
	assert.Empty(t, engine.Windows())

	admission, err := engine.Process(5, "a", Boundary(math.MaxInt64, 0), increment)
	require.NoError(t, err)
	assert.Equal(t, Late, admission)
}

func TestEngineEarlyFiringPeriod(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(),
		WithTumbling(10*time.Millisecond, 0), WithEarlyFiringPeriod(100*time.Millisecond))
	_, err := engine.Process(1, "a", math.MinInt64, increment)
	require.NoError(t, err)

	engine.OnProcessingTime(1000)
	engine.OnProcessingTime(1050)
	assert.Empty(t, collector.events)
	engine.OnProcessingTime(1100)
	assert.Equal(t, []string{"a=1"}, collector.values())
	engine.OnProcessingTime(1300)
	assert.Len(t, collector.events, 1)

	engine.AdvanceWatermark(10)
	assert.Len(t, collector.events, 1)
}

func TestEngineFinalizeFailureSkipsKey(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var failed []string
	fns := sumFunctions()
	fns.Finalize = func(_ Window, key string, acc int) (string, error) {
		if key == "bad" {
			return "", errors.New("cannot finalize")
		}
		return fmt.Sprintf("%s=%d", key, acc), nil
	}
	fns.OnFinalizeFailure = func(w Window, key string, err error) {
		failed = append(failed, fmt.Sprintf("%s %s %v", w, key, err))
	}
	engine, collector, scope := newTestEngine(t, fns, WithTumbling(10*time.Millisecond, 0), WithLogger(log.New(core)))
	for _, key := range []string{"bad", "good"} {
		_, err := engine.Process(1, key, math.MinInt64, increment)
		require.NoError(t, err)
	}
	engine.AdvanceWatermark(10)
	assert.Equal(t, []string{"good=1"}, collector.values())
	assert.Equal(t, []string{"[0, 10) bad cannot finalize"}, failed)
	assert.Equal(t, int64(1), counterValue(scope, "finalize_failures"))
	assert.Equal(t, 1, logs.FilterMessage("failed to finalize accumulator, skipping key").Len())
}

func TestEngineSessionWindows(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(), WithSession(5*time.Millisecond))
	for _, input := range []struct {
		ts  int64
		key string
	}{{1, "a"}, {4, "a"}, {20, "a"}, {2, "b"}} {
		_, err := engine.Process(input.ts, input.key, math.MinInt64, increment)
		require.NoError(t, err)
	}
	assert.Equal(t, []Window{{2, 7}, {1, 9}, {20, 25}}, engine.Windows())

	engine.AdvanceWatermark(30)
	assert.Equal(t, []string{"b=1", "a=2", "a=1"}, collector.values())
	assert.Equal(t, []int64{6, 8, 24}, collector.timestamps())

	settings, err := NewSettings(WithSession(time.Millisecond))
	require.NoError(t, err)
	fns := sumFunctions()
	fns.Combine = nil
	_, err = NewEngine[string, int, string](settings, fns)
	assert.True(t, errors.Is(err, ErrMissingConfiguration))
}

func TestEngineSessionMergeKeepsOtherKeysCount(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(), WithSession(5*time.Millisecond), WithEarlyFiringCount(3))
	for _, input := range []struct {
		ts  int64
		key string
	}{{1, "a"}, {1, "b"}, {4, "a"}} {
		_, err := engine.Process(input.ts, input.key, math.MinInt64, increment)
		require.NoError(t, err)
	}
	assert.Empty(t, collector.events)
	assert.Equal(t, []Window{{1, 6}, {1, 9}}, engine.Windows())
	shared, ok := engine.State(Window{1, 6})
	require.True(t, ok)
	assert.Equal(t, 2, shared.TupleCount)
	merged, ok := engine.State(Window{1, 9})
	require.True(t, ok)
	assert.Equal(t, 1, merged.TupleCount)

	_, err := engine.Process(6, "a", math.MinInt64, increment)
	require.NoError(t, err)
	_, err = engine.Process(7, "a", math.MinInt64, increment)
	require.NoError(t, err)
	assert.Equal(t, []string{"a=4"}, collector.values())
}

func TestEngineMergeExplicitWindow(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(), WithTumbling(10*time.Millisecond, 0))
	w := Window{Start: 0, End: 10}
	admission, err := engine.Merge(w, "a", increment)
	require.NoError(t, err)
	assert.Equal(t, Admitted, admission)
	state, ok := engine.State(w)
	require.True(t, ok)
	assert.Equal(t, Open, state.Lifecycle)
	require.Len(t, engine.Snapshot().Windows, 1)

	engine.AdvanceWatermark(10)
	assert.Equal(t, []string{"a=1"}, collector.values())
	assert.Empty(t, engine.Windows())

	admission, err = engine.Merge(w, "a", increment)
	require.NoError(t, err)
	assert.Equal(t, Late, admission)
	assert.Empty(t, engine.Windows())
}

func TestEngineSlidingSkipsLateWindows(t *testing.T) {
	engine, collector, _ := newTestEngine(t, sumFunctions(), WithSliding(10*time.Millisecond, 5*time.Millisecond, 0))
	_, err := engine.Process(7, "a", math.MinInt64, increment)
	require.NoError(t, err)
	engine.AdvanceWatermark(10)
	assert.Equal(t, []string{"a=1"}, collector.values())

	admission, err := engine.Process(7, "b", 10, increment)
	require.NoError(t, err)
	assert.Equal(t, Admitted, admission)
	assert.Equal(t, []Window{{5, 15}}, engine.Windows())

	engine.AdvanceWatermark(15)
	assert.Equal(t, []string{"a=1", "a=1", "b=1"}, collector.values())
	assert.Equal(t, []int64{9, 14, 14}, collector.timestamps())
}

func TestEngineUnassignedAndMergeFailure(t *testing.T) {
	bounded, err := Bounded(Global(), 0, 10)
	require.NoError(t, err)
	engine, _, _ := newTestEngine(t, sumFunctions(), WithAssigner(bounded))
	admission, err := engine.Process(50, "a", math.MinInt64, increment)
	require.NoError(t, err)
	assert.Equal(t, Unassigned, admission)
	assert.Empty(t, engine.Windows())

	failure := errors.New("bad tuple")
	_, err = engine.Process(5, "a", math.MinInt64, func(int) (int, error) { return 0, failure })
	assert.True(t, errors.Is(err, failure))
	_, ok := engine.Store().Get(GlobalWindow(), "a")
	assert.False(t, ok)
}

func TestEngineLateTupleDoesNotTouchState(t *testing.T) {
	engine, _, _ := newTestEngine(t, sumFunctions(), WithTumbling(10*time.Millisecond, 0))
	_, err := engine.Process(15, "a", math.MinInt64, increment)
	require.NoError(t, err)
	engine.AdvanceWatermark(10)
	before := engine.Snapshot()

	admission, err := engine.Process(3, "a", Boundary(10, 0), increment)
	require.NoError(t, err)
	assert.Equal(t, Late, admission)
	assert.Equal(t, before, engine.Snapshot())
}

func TestEngineSnapshotRestore(t *testing.T) {
	options := []Option{WithTumbling(10*time.Millisecond, 0), WithAllowedLateness(5 * time.Millisecond), WithOnTimeFiring()}
	type step struct {
		ts        int64
		key       string
		watermark int64
	}
	steps := []step{
		{ts: 1, key: "a"}, {ts: 12, key: "b"}, {watermark: 10}, {ts: 3, key: "a"},
		{ts: 14, key: "a"}, {watermark: 16}, {ts: 25, key: "c"}, {watermark: 40},
	}
	run := func(engine *Engine[string, int, string], steps []step) {
		for _, s := range steps {
			if s.key == "" {
				engine.AdvanceWatermark(s.watermark)
				continue
			}
			_, err := engine.Process(s.ts, s.key, Boundary(engine.CurrentWatermark(), 5), increment)
			require.NoError(t, err)
		}
	}

	uninterrupted, expected, _ := newTestEngine(t, sumFunctions(), options...)
	run(uninterrupted, steps)

	first, collector, _ := newTestEngine(t, sumFunctions(), options...)
	run(first, steps[:4])
	payload, err := store.GobEncode(first.Snapshot())
	require.NoError(t, err)
	checkpoint, err := store.GobDecode[Checkpoint[string, int]](payload)
	require.NoError(t, err)

	second, resumed, _ := newTestEngine(t, sumFunctions(), options...)
	require.NoError(t, second.Restore(checkpoint))
	assert.Equal(t, first.Snapshot(), second.Snapshot())
	run(second, steps[4:])

	assert.Equal(t, expected.values(), append(collector.values(), resumed.values()...))
	assert.Equal(t, expected.timestamps(), append(collector.timestamps(), resumed.timestamps()...))
}

func TestEngineRestoreRejectsInconsistentCheckpoint(t *testing.T) {
	engine, _, _ := newTestEngine(t, sumFunctions(), WithTumbling(10*time.Millisecond, 0))
	err := engine.Restore(Checkpoint[string, int]{Timers: []Timer{{Window: Window{0, 10}, Timestamp: 10}}})
	assert.Error(t, err)
	err = engine.Restore(Checkpoint[string, int]{Windows: []WindowCheckpoint[string, int]{{Window: Window{0, 10}}, {Window: Window{0, 10}}}})
	assert.Error(t, err)
}

func TestSettingsRequireAssigner(t *testing.T) {
	_, err := NewSettings()
	assert.True(t, errors.Is(err, ErrMissingConfiguration))
	_, err = NewSettings(WithTumbling(time.Microsecond, 0))
	assert.Error(t, err)
	_, err = NewSettings(WithGlobal(), WithAllowedLateness(-time.Second))
	assert.Error(t, err)
	_, err = NewSettings(WithGlobal(), WithLatenessPolicy(LatenessPolicy(7)))
	assert.Error(t, err)
	settings, err := NewSettings(WithGlobal(), WithName("join"), WithLatenessPolicy(Combined))
	require.NoError(t, err)
	assert.Equal(t, "join", settings.Name)
	assert.Equal(t, Combined, settings.LatenessPolicy)
	assert.Equal(t, Accumulating, settings.Trigger.Mode)
}
