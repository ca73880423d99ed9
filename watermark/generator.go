package watermark

import (
	"math"
	"time"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/pkg/errors"
)

type Emitter interface {
	EmitWatermarkTimestamp(watermarkTimestamp int64)
}

// Generator derives implicit watermarks for a source that carries none.
type Generator interface {
	OnEvent(timestamp int64, emitter Emitter)
	OnPeriodicEmit(emitter Emitter)
}

type boundedOutOfOrdernessGenerator struct {
	maxTimestamp     int64
	outOfOrdernessMs int64
}

func (b *boundedOutOfOrdernessGenerator) OnEvent(timestamp int64, _ Emitter) {
	if timestamp > b.maxTimestamp {
		b.maxTimestamp = timestamp
	}
}

func (b *boundedOutOfOrdernessGenerator) OnPeriodicEmit(emitter Emitter) {
	if b.maxTimestamp == math.MinInt64 {
		return
	}
	emitter.EmitWatermarkTimestamp(b.maxTimestamp - b.outOfOrdernessMs - 1)
}

// BoundedOutOfOrderness emits max seen timestamp - outOfOrderness - 1.
func BoundedOutOfOrderness(outOfOrderness time.Duration) (Generator, error) {
	if outOfOrderness < 0 {
		return nil, errors.Errorf("outOfOrderness should not be negative, got %s", outOfOrderness)
	}
	return &boundedOutOfOrdernessGenerator{
		maxTimestamp:     math.MinInt64,
		outOfOrdernessMs: outOfOrderness.Milliseconds(),
	}, nil
}

type noWatermarksGenerator struct{}

func (noWatermarksGenerator) OnEvent(_ int64, _ Emitter) {}

func (noWatermarksGenerator) OnPeriodicEmit(_ Emitter) {}

func NoWatermarks() Generator {
	return noWatermarksGenerator{}
}

// ElementEmitter forwards only advancing watermarks to emit.
type ElementEmitter struct {
	emit                      func(element.Element)
	currentWatermarkTimestamp int64
}

func NewElementEmitter(emit func(element.Element)) *ElementEmitter {
	return &ElementEmitter{emit: emit, currentWatermarkTimestamp: math.MinInt64}
}

func (c *ElementEmitter) EmitWatermarkTimestamp(watermarkTimestamp int64) {
	if watermarkTimestamp <= c.currentWatermarkTimestamp {
		return
	}
	c.currentWatermarkTimestamp = watermarkTimestamp
	c.emit(element.Watermark(watermarkTimestamp))
}

func (c *ElementEmitter) Current() int64 {
	return c.currentWatermarkTimestamp
}
