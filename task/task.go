package task

import (
	"context"
	"time"

	"github.com/RuiFG/streaming-merge/common/safe"
	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/store"
	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	operatorStateKey  = "operator"
	positionsStateKey = "positions"
)

var ErrAlreadyRunning = errors.New("task is already running")

type Options struct {
	Name string
	//ProcessingTimeInterval <= 0 disables processing time callbacks
	ProcessingTimeInterval time.Duration
	//CheckpointInterval <= 0 disables periodic checkpoints, a final one is still taken when inputs end
	CheckpointInterval time.Duration
	//Backend is closed by the task, nil means an in memory backend
	Backend store.Backend
	//NodeID seeds the checkpoint id generator, 0..1023
	NodeID int64
	Logger log.Logger
	Scope  tally.Scope
	Now    func() time.Time
}

type Task struct {
	Options
	logger   log.Logger
	operator Operator
	inputs   []<-chan element.Element
	manager  *store.Manager
	node     *snowflake.Node
	running  *atomic.Bool

	//positions of the last processed element.Positioned per input, -1 if unknown
	positions []int64

	checkpointRequests chan chan checkpointResult
	lastCheckpoint     *atomic.Int64

	processedElements  tally.Counter
	checkpoints        tally.Counter
	checkpointFailures tally.Counter
}

type checkpointResult struct {
	id  int64
	err error
}

// New binds an opened operator to its input channels, input i of the operator reads inputs[i-1],
// and restores the operator from the latest checkpoint of the backend.
func New(options Options, operator Operator, inputs ...<-chan element.Element) (*Task, error) {
	if operator == nil {
		return nil, errors.New("operator can't be nil")
	}
	if len(inputs) == 0 || len(inputs) > 2 {
		return nil, errors.Errorf("task supports one or two inputs, got %d", len(inputs))
	}
	if options.Name == "" {
		options.Name = "task"
	}
	if options.Backend == nil {
		options.Backend = store.NewMemoryBackend(1)
	}
	if options.Logger == nil {
		options.Logger = log.Global()
	}
	if options.Scope == nil {
		options.Scope = tally.NoopScope
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	node, err := snowflake.NewNode(options.NodeID)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create checkpoint id generator")
	}
	scope := options.Scope.Tagged(map[string]string{"task": options.Name})
	t := &Task{
		Options:            options,
		logger:             options.Logger.Named(options.Name + ".task"),
		operator:           operator,
		inputs:             inputs,
		node:               node,
		running:            atomic.NewBool(false),
		checkpointRequests: make(chan chan checkpointResult),
		lastCheckpoint:     atomic.NewInt64(0),
		processedElements:  scope.Counter("processed_elements"),
		checkpoints:        scope.Counter("checkpoints"),
		checkpointFailures: scope.Counter("checkpoint_failures"),
		positions:          make([]int64, len(inputs)),
	}
	for i := range t.positions {
		t.positions[i] = -1
	}
	if err = t.restore(); err != nil {
		return nil, errors.WithMessage(err, "failed to restore task")
	}
	return t, nil
}

func (t *Task) Name() string {
	return t.Options.Name
}

func (t *Task) Running() bool {
	return t.running.Load()
}

// LastCheckpoint returns the id of the latest persisted checkpoint, 0 if none.
func (t *Task) LastCheckpoint() int64 {
	return t.lastCheckpoint.Load()
}

// Position returns the restored source position of input, false if the input starts fresh.
// Sources read it before Run.
func (t *Task) Position(input int) (int64, bool) {
	if input < 1 || input > len(t.positions) || t.positions[input-1] < 0 {
		return 0, false
	}
	return t.positions[input-1], true
}

// Checkpoint asks the running loop to take a checkpoint between two elements and waits for it.
func (t *Task) Checkpoint(ctx context.Context) (int64, error) {
	reply := make(chan checkpointResult, 1)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case t.checkpointRequests <- reply:
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case result := <-reply:
		return result.id, result.err
	}
}

func (t *Task) restore() error {
	manager, err := store.NewManager(t.Name(), t.Backend)
	if err != nil {
		return err
	}
	t.manager = manager
	state, ok := manager.Controller(t.Name()).Load(operatorStateKey)
	if !ok {
		t.logger.Info("no checkpoint found, starting fresh.")
		return nil
	}
	if err = safe.Run(func() error {
		return t.operator.RestoreState(state.Payload)
	}); err != nil {
		return errors.WithMessage(err, "failed to restore operator state")
	}
	if state, ok = manager.Controller(t.Name()).Load(positionsStateKey); ok {
		positions, err := store.GobDecode[[]int64](state.Payload)
		if err != nil {
			return errors.WithMessage(err, "failed to restore source positions")
		}
		copy(t.positions, positions)
	}
	t.logger.Infow("restored from latest checkpoint.", "positions", t.positions)
	return nil
}

func (t *Task) checkpoint() (int64, error) {
	id := t.node.Generate().Int64()
	err := safe.Run(func() error {
		payload, err := t.operator.SnapshotState()
		if err != nil {
			return err
		}
		positions, err := store.GobEncode(t.positions)
		if err != nil {
			return err
		}
		controller := t.manager.Controller(t.Name())
		controller.Store(operatorStateKey, store.State{Type: store.GobState, Payload: payload})
		controller.Store(positionsStateKey, store.State{Type: store.GobState, Payload: positions})
		if err = t.manager.Save(id); err != nil {
			return err
		}
		return t.Backend.Persist(id)
	})
	if err != nil {
		t.checkpointFailures.Inc(1)
		t.logger.Warnw("failed to checkpoint.", "id", id, "err", err)
		return 0, errors.WithMessagef(err, "failed to checkpoint %d", id)
	}
	t.checkpoints.Inc(1)
	t.lastCheckpoint.Store(id)
	t.logger.Debugw("checkpoint persisted.", "id", id)
	return id, nil
}

func (t *Task) process(e element.Element, input int) error {
	t.processedElements.Inc(1)
	positioned, ok := e.(element.Positioned)
	if ok {
		e = positioned.Element
	}
	if err := safe.Run(func() error {
		return t.operator.ProcessElement(e, input)
	}); err != nil {
		return err
	}
	if ok {
		t.positions[input-1] = positioned.Position
	}
	return nil
}

func ticker(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Run drives the operator until ctx is done, the operator fails or every input is closed.
// Closing every input takes a final checkpoint.
// The operator and the backend are closed on return.
func (t *Task) Run(ctx context.Context) (err error) {
	if !t.running.CAS(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		t.running.Store(false)
		err = multierr.Combine(err, t.operator.Close(), t.Backend.Close())
	}()
	t.logger.Info("staring...")

	processingTime, stopProcessingTime := ticker(t.ProcessingTimeInterval)
	defer stopProcessingTime()
	checkpointTime, stopCheckpointTime := ticker(t.CheckpointInterval)
	defer stopCheckpointTime()

	in1 := t.inputs[0]
	var in2 <-chan element.Element
	if len(t.inputs) > 1 {
		in2 = t.inputs[1]
	}
	for in1 != nil || in2 != nil {
		select {
		case <-ctx.Done():
			t.logger.Info("context done, stopping.")
			return nil
		case e, ok := <-in1:
			if !ok {
				in1 = nil
				continue
			}
			if err = t.process(e, 1); err != nil {
				return err
			}
		case e, ok := <-in2:
			if !ok {
				in2 = nil
				continue
			}
			if err = t.process(e, 2); err != nil {
				return err
			}
		case <-processingTime:
			if err = safe.Run(func() error {
				return t.operator.OnProcessingTime(t.Now().UnixMilli())
			}); err != nil {
				return err
			}
		case <-checkpointTime:
			_, _ = t.checkpoint()
		case reply := <-t.checkpointRequests:
			id, cerr := t.checkpoint()
			reply <- checkpointResult{id: id, err: cerr}
		}
	}
	t.logger.Info("all inputs closed, taking final checkpoint.")
	_, err = t.checkpoint()
	return err
}
