package codec

import (
	"context"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/watermark"
	"github.com/uber-go/tally/v4"
)

// Stream turns the raw lines of one source into elements on out,
// deriving implicit watermarks from event timestamps with generator.
type Stream struct {
	ctx       context.Context
	logger    log.Logger
	out       chan<- element.Element
	generator watermark.Generator
	emitter   *watermark.ElementEmitter
	position  int64
	sendErr   error

	records        tally.Counter
	malformed      tally.Counter
	emitWatermarks tally.Counter
}

func NewStream(ctx context.Context, logger log.Logger, scope tally.Scope, out chan<- element.Element, generator watermark.Generator) *Stream {
	if generator == nil {
		generator = watermark.NoWatermarks()
	}
	s := &Stream{
		ctx:            ctx,
		logger:         logger,
		out:            out,
		generator:      generator,
		records:        scope.Counter("source_records"),
		malformed:      scope.Counter("malformed_records"),
		emitWatermarks: scope.Counter("source_watermarks"),
	}
	s.emitter = watermark.NewElementEmitter(func(e element.Element) {
		s.emitWatermarks.Inc(1)
		s.send(element.Positioned{Element: e, Position: s.position})
	})
	return s
}

func (s *Stream) send(e element.Element) {
	if s.sendErr != nil {
		return
	}
	select {
	case <-s.ctx.Done():
		s.sendErr = s.ctx.Err()
	case s.out <- e:
	}
}

// Line decodes line and sends it tagged with position, the source position right after line.
// Malformed lines are skipped. It only fails when ctx is done.
func (s *Stream) Line(line []byte, position int64) error {
	s.position = position
	e, err := Decode(line)
	if err != nil {
		s.malformed.Inc(1)
		s.logger.Warnw("skip malformed record.", "position", position, "err", err)
		return s.sendErr
	}
	s.records.Inc(1)
	switch v := e.(type) {
	case *element.Event[Record]:
		s.generator.OnEvent(v.Timestamp, s.emitter)
		s.send(element.Positioned{Element: v, Position: position})
	case element.Watermark:
		s.emitter.EmitWatermarkTimestamp(int64(v))
	}
	return s.sendErr
}

// Periodic lets the generator emit its current watermark.
func (s *Stream) Periodic() error {
	s.generator.OnPeriodicEmit(s.emitter)
	return s.sendErr
}

// End flushes every window of the source with the max watermark.
func (s *Stream) End() error {
	s.emitter.EmitWatermarkTimestamp(int64(element.MaxWatermark))
	return s.sendErr
}
