package task

import (
	"github.com/RuiFG/streaming-merge/element"
	"github.com/pkg/errors"
)

// Operator is the untyped view of an opened operator that a Task drives.
// Inputs are numbered from 1.
type Operator interface {
	ProcessElement(e element.Element, input int) error
	OnProcessingTime(now int64) error
	SnapshotState() ([]byte, error)
	RestoreState(state []byte) error
	Close() error
}

type OneInputOperator interface {
	ProcessElement(e element.Element) error
	OnProcessingTime(now int64) error
	SnapshotState() ([]byte, error)
	RestoreState(state []byte) error
	Close() error
}

type TwoInputOperator interface {
	ProcessElement1(e element.Element) error
	ProcessElement2(e element.Element) error
	OnProcessingTime(now int64) error
	SnapshotState() ([]byte, error)
	RestoreState(state []byte) error
	Close() error
}

type oneInput struct {
	OneInputOperator
}

func (o oneInput) ProcessElement(e element.Element, input int) error {
	if input != 1 {
		return errors.Errorf("one input operator can't process input %d", input)
	}
	return o.OneInputOperator.ProcessElement(e)
}

type twoInput struct {
	TwoInputOperator
}

func (o twoInput) ProcessElement(e element.Element, input int) error {
	switch input {
	case 1:
		return o.ProcessElement1(e)
	case 2:
		return o.ProcessElement2(e)
	default:
		return errors.Errorf("two input operator can't process input %d", input)
	}
}

// OneInput adapts a windowed single input operator.
func OneInput(operator OneInputOperator) Operator {
	return oneInput{operator}
}

// TwoInput adapts a merge operator, input 1 and input 2 go to stream 1 and stream 2.
func TwoInput(operator TwoInputOperator) Operator {
	return twoInput{operator}
}
