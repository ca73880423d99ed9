package window

import (
	"fmt"
	"math"
)

// LatenessPolicy selects which watermark decides whether a tuple is late.
type LatenessPolicy int

const (
	// PerStream judges a tuple against the watermark of the stream it arrived on.
	PerStream LatenessPolicy = iota
	// Combined judges every tuple against the combined watermark.
	Combined
)

func (p LatenessPolicy) String() string {
	switch p {
	case PerStream:
		return "per-stream"
	case Combined:
		return "combined"
	default:
		return fmt.Sprintf("LatenessPolicy(%d)", int(p))
	}
}

// Boundary is watermark - allowedLateness. A watermark of MinInt64 marks nothing late.
func Boundary(watermark int64, allowedLateness int64) int64 {
	if watermark == math.MinInt64 {
		return math.MinInt64
	}
	return saturatingAdd(watermark, -allowedLateness)
}

// IsWindowLate reports whether w can no longer accept contributions at boundary.
func IsWindowLate(w Window, boundary int64) bool {
	if w.IsGlobal() || boundary == math.MinInt64 {
		return false
	}
	return w.End <= boundary
}

// IsLate reports whether every window assigned to timestamp is already late.
// A timestamp with no windows is not late, it is simply ignored.
func IsLate(assigner Assigner, timestamp int64, boundary int64) bool {
	windows := assigner.AssignWindows(timestamp)
	if len(windows) == 0 {
		return false
	}
	latest := windows[0]
	for _, w := range windows[1:] {
		if latest.less(w) {
			latest = w
		}
	}
	return IsWindowLate(latest, boundary)
}

// cleanupTime is the watermark at which w is retired.
func cleanupTime(w Window, allowedLateness int64) int64 {
	if w.IsGlobal() {
		return math.MaxInt64
	}
	return saturatingAdd(w.End, allowedLateness)
}
