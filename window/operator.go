package window

import (
	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/store"
	"github.com/RuiFG/streaming-merge/watermark"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

// Functions are the user functions of a single input windowed operator.
type Functions[IN any, KEY comparable, ACC, OUT any] struct {
	// TimestampExtractor may be nil, the event timestamp is used then.
	TimestampExtractor func(IN) int64
	KeySelector        func(IN) KEY
	Initializer        func() ACC
	Accumulate         func(ACC, IN) (ACC, error)
	Combine            func(ACC, ACC) (ACC, error)
	Finalize           func(Window, KEY, ACC) (OUT, error)
	OnFinalizeFailure  func(Window, KEY, error)
}

type OperatorCheckpoint[KEY comparable, ACC any] struct {
	Watermarks watermark.Tracker
	Engine     Checkpoint[KEY, ACC]
}

// Operator is a single input windowed aggregation built on Engine.
type Operator[IN any, KEY comparable, ACC, OUT any] struct {
	fns        Functions[IN, KEY, ACC, OUT]
	engine     *Engine[KEY, ACC, OUT]
	watermarks *watermark.Tracker
	logger     log.Logger

	droppedTuples        tally.Counter
	regressiveWatermarks tally.Counter
}

func NewOperator[IN any, KEY comparable, ACC, OUT any](fns Functions[IN, KEY, ACC, OUT], opts ...Option) (*Operator[IN, KEY, ACC, OUT], error) {
	settings, err := NewSettings(opts...)
	if err != nil {
		return nil, err
	}
	if fns.KeySelector == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "key selector can't be nil")
	}
	if fns.Accumulate == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "accumulate can't be nil")
	}
	settings.Logger = settings.Logger.Named(settings.Name)
	settings.Scope = settings.Scope.Tagged(map[string]string{"operator": settings.Name})
	engine, err := NewEngine[KEY, ACC, OUT](settings, EngineFunctions[KEY, ACC, OUT]{
		Initializer:       fns.Initializer,
		Combine:           fns.Combine,
		Finalize:          fns.Finalize,
		OnFinalizeFailure: fns.OnFinalizeFailure,
	})
	if err != nil {
		return nil, err
	}
	return &Operator[IN, KEY, ACC, OUT]{
		fns:                  fns,
		engine:               engine,
		watermarks:           watermark.NewTracker(1),
		logger:               settings.Logger,
		droppedTuples:        settings.Scope.Counter("dropped_tuples"),
		regressiveWatermarks: settings.Scope.Counter("regressive_watermarks"),
	}, nil
}

func (o *Operator[IN, KEY, ACC, OUT]) Open(collector element.Collector[OUT]) error {
	if collector == nil {
		return errors.Wrap(ErrMissingConfiguration, "collector can't be nil")
	}
	o.engine.Open(collector)
	return nil
}

func (o *Operator[IN, KEY, ACC, OUT]) Close() error {
	return nil
}

func (o *Operator[IN, KEY, ACC, OUT]) Engine() *Engine[KEY, ACC, OUT] {
	return o.engine
}

func (o *Operator[IN, KEY, ACC, OUT]) ProcessEvent(event *element.Event[IN]) error {
	timestamp := event.Timestamp
	if o.fns.TimestampExtractor != nil {
		timestamp = o.fns.TimestampExtractor(event.Value)
	} else if !event.HasTimestamp {
		return errors.Errorf("event without timestamp and no timestamp extractor")
	}
	key := o.fns.KeySelector(event.Value)
	boundary := Boundary(o.watermarks.Watermark(1), o.engine.Settings().AllowedLateness)
	admission, err := o.engine.Process(timestamp, key, boundary, func(acc ACC) (ACC, error) {
		return o.fns.Accumulate(acc, event.Value)
	})
	if err != nil {
		return err
	}
	if admission == Late {
		o.droppedTuples.Inc(1)
		o.logger.Debugw("dropped late tuple", "timestamp", timestamp, "boundary", boundary)
	}
	return nil
}

func (o *Operator[IN, KEY, ACC, OUT]) ProcessWatermark(wm element.Watermark) error {
	advanced, changed := o.watermarks.Advance(1, int64(wm))
	if !advanced {
		o.regressiveWatermarks.Inc(1)
		o.logger.Debugw("ignored regressive watermark", "watermark", int64(wm), "current", o.watermarks.Watermark(1))
		return nil
	}
	if changed {
		o.engine.AdvanceWatermark(o.watermarks.Combined())
	}
	return nil
}

func (o *Operator[IN, KEY, ACC, OUT]) ProcessElement(e element.Element) error {
	switch value := e.(type) {
	case *element.Event[IN]:
		return o.ProcessEvent(value)
	case element.Watermark:
		return o.ProcessWatermark(value)
	default:
		return errors.Errorf("unsupported element %T", e)
	}
}

func (o *Operator[IN, KEY, ACC, OUT]) OnProcessingTime(now int64) error {
	o.engine.OnProcessingTime(now)
	return nil
}

func (o *Operator[IN, KEY, ACC, OUT]) Snapshot() OperatorCheckpoint[KEY, ACC] {
	return OperatorCheckpoint[KEY, ACC]{Watermarks: o.watermarks.Snapshot(), Engine: o.engine.Snapshot()}
}

func (o *Operator[IN, KEY, ACC, OUT]) Restore(checkpoint OperatorCheckpoint[KEY, ACC]) error {
	if err := o.watermarks.Restore(checkpoint.Watermarks); err != nil {
		return err
	}
	return o.engine.Restore(checkpoint.Engine)
}

func (o *Operator[IN, KEY, ACC, OUT]) SnapshotState() ([]byte, error) {
	return store.GobEncode(o.Snapshot())
}

func (o *Operator[IN, KEY, ACC, OUT]) RestoreState(state []byte) error {
	checkpoint, err := store.GobDecode[OperatorCheckpoint[KEY, ACC]](state)
	if err != nil {
		return errors.WithMessage(err, "failed to restore window operator")
	}
	return o.Restore(checkpoint)
}
