package element

import "math"

// Watermark asserts that no further event with an event time at or below it is expected.
type Watermark int64

const (
	MinWatermark Watermark = math.MinInt64
	MaxWatermark Watermark = math.MaxInt64
)

func (w Watermark) Type() Type {
	return WatermarkElement
}
