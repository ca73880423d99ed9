package watermark

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTrackerInit(t *testing.T) {
	tracker := NewTracker(2)
	assert.Equal(t, int64(math.MinInt64), tracker.Combined())
	assert.Equal(t, int64(math.MinInt64), tracker.Watermark(1))
	assert.Equal(t, 2, tracker.Inputs())
}

func TestTrackerTwoInputAdvance(t *testing.T) {
	tracker := NewTracker(2)
	advanced, changed := tracker.Advance(1, 10)
	assert.True(t, advanced)
	assert.False(t, changed)
	assert.Equal(t, int64(math.MinInt64), tracker.Combined())

	advanced, changed = tracker.Advance(2, 5)
	assert.True(t, advanced)
	assert.True(t, changed)
	assert.Equal(t, int64(5), tracker.Combined())

	advanced, changed = tracker.Advance(1, 10)
	assert.False(t, advanced)
	assert.False(t, changed)

	advanced, changed = tracker.Advance(1, 3)
	assert.False(t, advanced)
	assert.False(t, changed)
	assert.Equal(t, int64(10), tracker.Watermark(1))

	_, changed = tracker.Advance(2, 20)
	assert.True(t, changed)
	assert.Equal(t, int64(10), tracker.Combined())
}

func TestTrackerMonotonicAndMin(t *testing.T) {
	tracker := NewTracker(2)
	r := rand.New(rand.NewSource(7))
	last := []int64{math.MinInt64, math.MinInt64}
	lastCombined := tracker.Combined()
	for i := 0; i < 1000; i++ {
		input := r.Intn(2) + 1
		tracker.Advance(input, r.Int63n(500))
		assert.GreaterOrEqual(t, tracker.Watermark(input), last[input-1])
		last[input-1] = tracker.Watermark(input)
		minimum := tracker.Watermark(1)
		if tracker.Watermark(2) < minimum {
			minimum = tracker.Watermark(2)
		}
		assert.Equal(t, minimum, tracker.Combined())
		assert.GreaterOrEqual(t, tracker.Combined(), lastCombined)
		lastCombined = tracker.Combined()
	}
}

func TestTrackerSnapshotRestore(t *testing.T) {
	tracker := NewTracker(2)
	tracker.Advance(1, 7)
	tracker.Advance(2, 9)
	state := tracker.Snapshot()
	tracker.Advance(1, 100)

	restored := NewTracker(2)
	require.NoError(t, restored.Restore(state))
	assert.Equal(t, int64(7), restored.Combined())
	assert.Equal(t, int64(9), restored.Watermark(2))
	assert.Equal(t, int64(7), state.PartialTimestamps[0])

	assert.Error(t, NewTracker(1).Restore(state))
}
