package window

import (
	"fmt"
	"math"
)

// Window is the half-open event time interval [Start, End) in milliseconds.
type Window struct {
	Start int64
	End   int64
}

var globalWindow = Window{Start: math.MinInt64, End: math.MaxInt64}

func GlobalWindow() Window {
	return globalWindow
}

func (w Window) MaxTimestamp() int64 {
	return w.End - 1
}

func (w Window) IsGlobal() bool {
	return w == globalWindow
}

func (w Window) Contains(timestamp int64) bool {
	return timestamp >= w.Start && timestamp < w.End
}

// Intersects reports whether the two windows overlap or touch.
func (w Window) Intersects(other Window) bool {
	return w.Start <= other.End && w.End >= other.Start
}

// Cover returns the smallest window containing both.
func (w Window) Cover(other Window) Window {
	cover := w
	if other.Start < cover.Start {
		cover.Start = other.Start
	}
	if other.End > cover.End {
		cover.End = other.End
	}
	return cover
}

func (w Window) String() string {
	if w.IsGlobal() {
		return "[global)"
	}
	return fmt.Sprintf("[%d, %d)", w.Start, w.End)
}

// less orders windows by end, then start.
func (w Window) less(other Window) bool {
	if w.End != other.End {
		return w.End < other.End
	}
	return w.Start < other.Start
}

func getWindowStartWithOffset(timestamp int64, offset int64, windowSize int64) int64 {
	remainder := (timestamp - offset) % windowSize
	// handle both positive and negative cases
	if remainder < 0 {
		return timestamp - (remainder + windowSize)
	}
	return timestamp - remainder
}
