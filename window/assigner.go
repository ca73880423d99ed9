package window

import (
	"math"

	"github.com/pkg/errors"
)

var ErrInvalidAssigner = errors.New("invalid window assigner")

// Assigner maps an event timestamp to the windows it belongs to.
type Assigner interface {
	AssignWindows(timestamp int64) []Window
	// IsMerging reports whether assigned windows of the same key are merged when they overlap.
	IsMerging() bool
}

type tumblingAssigner struct {
	size   int64
	offset int64
}

func (t *tumblingAssigner) AssignWindows(timestamp int64) []Window {
	start := getWindowStartWithOffset(timestamp, t.offset, t.size)
	return []Window{{Start: start, End: saturatingAdd(start, t.size)}}
}

func (t *tumblingAssigner) IsMerging() bool {
	return false
}

func Tumbling(size int64, offset int64) (Assigner, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidAssigner, "tumbling size should be greater than 0, got %d", size)
	}
	return &tumblingAssigner{size: size, offset: offset % size}, nil
}

type slidingAssigner struct {
	size   int64
	slide  int64
	offset int64
}

func (s *slidingAssigner) AssignWindows(timestamp int64) []Window {
	windows := make([]Window, 0, s.size/s.slide+1)
	lastStart := getWindowStartWithOffset(timestamp, s.offset, s.slide)
	lowest := saturatingAdd(timestamp, -s.size)
	for start := lastStart; start > lowest; start -= s.slide {
		windows = append(windows, Window{Start: start, End: saturatingAdd(start, s.size)})
		if start < math.MinInt64+s.slide {
			break
		}
	}
	return windows
}

func (s *slidingAssigner) IsMerging() bool {
	return false
}

func Sliding(size int64, slide int64, offset int64) (Assigner, error) {
	if size <= 0 || slide <= 0 {
		return nil, errors.Wrapf(ErrInvalidAssigner, "sliding size and slide should be greater than 0, got %d and %d", size, slide)
	}
	if slide > size {
		return nil, errors.Wrapf(ErrInvalidAssigner, "sliding slide %d should not exceed size %d", slide, size)
	}
	return &slidingAssigner{size: size, slide: slide, offset: offset % slide}, nil
}

type sessionAssigner struct {
	gap int64
}

func (s *sessionAssigner) AssignWindows(timestamp int64) []Window {
	return []Window{{Start: timestamp, End: saturatingAdd(timestamp, s.gap)}}
}

func (s *sessionAssigner) IsMerging() bool {
	return true
}

func Session(gap int64) (Assigner, error) {
	if gap <= 0 {
		return nil, errors.Wrapf(ErrInvalidAssigner, "session gap should be greater than 0, got %d", gap)
	}
	return &sessionAssigner{gap: gap}, nil
}

type globalAssigner struct{}

func (globalAssigner) AssignWindows(_ int64) []Window {
	return []Window{globalWindow}
}

func (globalAssigner) IsMerging() bool {
	return false
}

func Global() Assigner {
	return globalAssigner{}
}

type boundedAssigner struct {
	Assigner
	from, to int64
}

func (b *boundedAssigner) AssignWindows(timestamp int64) []Window {
	if timestamp < b.from || timestamp >= b.to {
		return nil
	}
	return b.Assigner.AssignWindows(timestamp)
}

// Bounded only assigns timestamps inside [from, to); others get no window at all.
func Bounded(assigner Assigner, from, to int64) (Assigner, error) {
	if assigner == nil {
		return nil, errors.Wrap(ErrInvalidAssigner, "bounded assigner needs an inner assigner")
	}
	if from >= to {
		return nil, errors.Wrapf(ErrInvalidAssigner, "bounded range [%d, %d) is empty", from, to)
	}
	return &boundedAssigner{Assigner: assigner, from: from, to: to}, nil
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
