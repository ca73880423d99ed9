package codec

import (
	"io"

	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var ErrUnknownRecord = errors.New("unknown record")

// Record is one keyed measurement of an input stream.
type Record struct {
	Key       string  `json:"key"`
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

type wireRecord struct {
	Key       *string `json:"key"`
	Timestamp *int64  `json:"ts"`
	Value     float64 `json:"value"`
	Watermark *int64  `json:"watermark"`
}

// Decode parses one NDJSON line into an *element.Event[Record] or an element.Watermark.
// {"key":"a","ts":3,"value":1.5} is an event, {"watermark":10} is a watermark.
func Decode(line []byte) (element.Element, error) {
	var wire wireRecord
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, errors.WithMessage(err, "failed to unmarshal record")
	}
	switch {
	case wire.Watermark != nil:
		return element.Watermark(*wire.Watermark), nil
	case wire.Key != nil && wire.Timestamp != nil:
		return element.NewEvent(Record{Key: *wire.Key, Timestamp: *wire.Timestamp, Value: wire.Value}, *wire.Timestamp), nil
	default:
		return nil, errors.Wrapf(ErrUnknownRecord, "%q", line)
	}
}

// Output is one fired window result.
type Output[V any] struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Key   string `json:"key"`
	Value V      `json:"value"`
}

func NewOutput[V any](w window.Window, key string, value V) Output[V] {
	return Output[V]{Start: w.Start, End: w.End, Key: key, Value: value}
}

type watermarkRecord struct {
	Watermark int64 `json:"watermark"`
}

// Sink writes outputs as NDJSON, and watermarks too when enabled so the output can feed another merge.
type Sink[V any] struct {
	logger     log.Logger
	encoder    *json.Encoder
	watermarks bool
	err        error
}

func NewSink[V any](logger log.Logger, w io.Writer, watermarks bool) *Sink[V] {
	return &Sink[V]{logger: logger.Named("sink"), encoder: json.NewEncoder(w), watermarks: watermarks}
}

func (s *Sink[V]) write(v any) {
	if err := s.encoder.Encode(v); err != nil {
		s.logger.Warnw("failed to write record.", "err", err)
		if s.err == nil {
			s.err = err
		}
	}
}

func (s *Sink[V]) EmitEvent(event *element.Event[Output[V]]) {
	s.write(event.Value)
}

func (s *Sink[V]) EmitWatermark(watermark element.Watermark) {
	if s.watermarks && watermark != element.MaxWatermark {
		s.write(watermarkRecord{Watermark: int64(watermark)})
	}
}

// Err returns the first write error.
func (s *Sink[V]) Err() error {
	return s.err
}
