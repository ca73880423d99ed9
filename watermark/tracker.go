package watermark

import (
	"math"

	"github.com/pkg/errors"
)

// Tracker keeps one monotonic watermark per input and their minimum.
// Inputs are numbered from 1.
type Tracker struct {
	CombinedTimestamp int64
	PartialTimestamps []int64
}

func NewTracker(inputs int) *Tracker {
	partials := make([]int64, inputs)
	for i := range partials {
		partials[i] = math.MinInt64
	}
	return &Tracker{CombinedTimestamp: math.MinInt64, PartialTimestamps: partials}
}

func (t *Tracker) Inputs() int {
	return len(t.PartialTimestamps)
}

// Advance moves the watermark of input forward. Equal or smaller timestamps are ignored
// and reported as not advanced.
func (t *Tracker) Advance(input int, timestamp int64) (advanced bool, combinedChanged bool) {
	if timestamp <= t.PartialTimestamps[input-1] {
		return false, false
	}
	t.PartialTimestamps[input-1] = timestamp
	return true, t.updateCombined()
}

func (t *Tracker) updateCombined() bool {
	var minimum int64 = math.MaxInt64
	for _, partial := range t.PartialTimestamps {
		if partial < minimum {
			minimum = partial
		}
	}
	if minimum > t.CombinedTimestamp {
		t.CombinedTimestamp = minimum
		return true
	}
	return false
}

func (t *Tracker) Combined() int64 {
	return t.CombinedTimestamp
}

func (t *Tracker) Watermark(input int) int64 {
	return t.PartialTimestamps[input-1]
}

func (t *Tracker) Snapshot() Tracker {
	partials := make([]int64, len(t.PartialTimestamps))
	copy(partials, t.PartialTimestamps)
	return Tracker{CombinedTimestamp: t.CombinedTimestamp, PartialTimestamps: partials}
}

func (t *Tracker) Restore(state Tracker) error {
	if len(state.PartialTimestamps) != len(t.PartialTimestamps) {
		return errors.Errorf("watermark state has %d inputs, expected %d",
			len(state.PartialTimestamps), len(t.PartialTimestamps))
	}
	copy(t.PartialTimestamps, state.PartialTimestamps)
	t.CombinedTimestamp = math.MinInt64
	t.updateCombined()
	if state.CombinedTimestamp > t.CombinedTimestamp {
		t.CombinedTimestamp = state.CombinedTimestamp
	}
	return nil
}
