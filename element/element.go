package element

import "fmt"

type Type uint

const (
	EventElement Type = iota
	WatermarkElement
)

func (t Type) String() string {
	switch t {
	case EventElement:
		return "event"
	case WatermarkElement:
		return "watermark"
	default:
		return fmt.Sprintf("unknown(%d)", uint(t))
	}
}

// Element is either an *Event or a Watermark flowing through an input.
type Element interface {
	Type() Type
}

type Collector[T any] interface {
	EmitEvent(event *Event[T])
	EmitWatermark(watermark Watermark)
}

type NoopCollector[T any] struct{}

func (n *NoopCollector[T]) EmitEvent(_ *Event[T]) {}

func (n *NoopCollector[T]) EmitWatermark(_ Watermark) {}

// CollectorFuncs adapts a pair of functions to Collector.
type CollectorFuncs[T any] struct {
	OnEvent     func(event *Event[T])
	OnWatermark func(watermark Watermark)
}

func (c CollectorFuncs[T]) EmitEvent(event *Event[T]) {
	if c.OnEvent != nil {
		c.OnEvent(event)
	}
}

func (c CollectorFuncs[T]) EmitWatermark(watermark Watermark) {
	if c.OnWatermark != nil {
		c.OnWatermark(watermark)
	}
}

// Positioned tags an element with the source position right after it,
// a source restarted from that position replays nothing already consumed.
type Positioned struct {
	Element
	Position int64
}
