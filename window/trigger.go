package window

import (
	"fmt"
	"time"
)

type AccumulationMode int

const (
	// Accumulating keeps accumulators across firings of the same window.
	Accumulating AccumulationMode = iota
	// Discarding clears a window's accumulators after every non-final firing.
	Discarding
)

func (m AccumulationMode) String() string {
	switch m {
	case Accumulating:
		return "accumulating"
	case Discarding:
		return "discarding"
	default:
		return fmt.Sprintf("AccumulationMode(%d)", int(m))
	}
}

// Trigger describes when a window emits in addition to its final firing at
// watermark >= End + allowed lateness.
type Trigger struct {
	// OnTime fires once when the watermark passes the window end.
	OnTime bool
	// EarlyFiringCount fires an open window every N admitted tuples, 0 disables.
	EarlyFiringCount int
	// EarlyFiringPeriod fires open windows on processing time, 0 disables.
	EarlyFiringPeriod time.Duration
	// LateFiringCount fires a window every N admitted tuples after its on-time firing, 0 disables.
	LateFiringCount int
	Mode            AccumulationMode
}

type Lifecycle int

const (
	Open Lifecycle = iota
	FiringEligible
	Fired
	Retired
)

func (l Lifecycle) String() string {
	switch l {
	case Open:
		return "open"
	case FiringEligible:
		return "firing-eligible"
	case Fired:
		return "fired"
	case Retired:
		return "retired"
	default:
		return fmt.Sprintf("Lifecycle(%d)", int(l))
	}
}

// State is the per window trigger bookkeeping.
type State struct {
	Lifecycle Lifecycle
	// TupleCount counts admitted tuples since the last firing.
	TupleCount int
	// Pending is set when contributions arrived since the last firing.
	Pending     bool
	LastFiredAt int64
	Firings     int
}
