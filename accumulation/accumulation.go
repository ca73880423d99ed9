// Package accumulation provides ready-made accumulations for merging two streams.
package accumulation

// Merge folds tuples of two streams into one accumulator per window and key.
type Merge[IN1, IN2, ACC, OUT any] interface {
	Initial() ACC
	Accumulate1(acc ACC, in IN1) (ACC, error)
	Accumulate2(acc ACC, in IN2) (ACC, error)
	// Combine merges two accumulators of the same key, used by merging windows.
	Combine(a, b ACC) (ACC, error)
	Output(acc ACC) (OUT, error)
}

type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Sum adds the values of both streams.
type Sum[IN1, IN2 any, N Number] struct {
	Value1 func(IN1) N
	Value2 func(IN2) N
}

func (s Sum[IN1, IN2, N]) Initial() N {
	return 0
}

func (s Sum[IN1, IN2, N]) Accumulate1(acc N, in IN1) (N, error) {
	return acc + s.Value1(in), nil
}

func (s Sum[IN1, IN2, N]) Accumulate2(acc N, in IN2) (N, error) {
	return acc + s.Value2(in), nil
}

func (s Sum[IN1, IN2, N]) Combine(a, b N) (N, error) {
	return a + b, nil
}

func (s Sum[IN1, IN2, N]) Output(acc N) (N, error) {
	return acc, nil
}

type Counts struct {
	First  int64
	Second int64
}

// Count counts the tuples of each stream separately.
type Count[IN1, IN2 any] struct{}

func (Count[IN1, IN2]) Initial() Counts {
	return Counts{}
}

func (Count[IN1, IN2]) Accumulate1(acc Counts, _ IN1) (Counts, error) {
	acc.First++
	return acc, nil
}

func (Count[IN1, IN2]) Accumulate2(acc Counts, _ IN2) (Counts, error) {
	acc.Second++
	return acc, nil
}

func (Count[IN1, IN2]) Combine(a, b Counts) (Counts, error) {
	return Counts{First: a.First + b.First, Second: a.Second + b.Second}, nil
}

func (Count[IN1, IN2]) Output(acc Counts) (Counts, error) {
	return acc, nil
}

type Group[IN1, IN2 any] struct {
	First  []IN1
	Second []IN2
}

// CoGroup collects the tuples of both streams in arrival order.
type CoGroup[IN1, IN2 any] struct{}

func (CoGroup[IN1, IN2]) Initial() Group[IN1, IN2] {
	return Group[IN1, IN2]{}
}

func (CoGroup[IN1, IN2]) Accumulate1(acc Group[IN1, IN2], in IN1) (Group[IN1, IN2], error) {
	acc.First = append(acc.First, in)
	return acc, nil
}

func (CoGroup[IN1, IN2]) Accumulate2(acc Group[IN1, IN2], in IN2) (Group[IN1, IN2], error) {
	acc.Second = append(acc.Second, in)
	return acc, nil
}

func (CoGroup[IN1, IN2]) Combine(a, b Group[IN1, IN2]) (Group[IN1, IN2], error) {
	return Group[IN1, IN2]{
		First:  append(append([]IN1{}, a.First...), b.First...),
		Second: append(append([]IN2{}, a.Second...), b.Second...),
	}, nil
}

func (CoGroup[IN1, IN2]) Output(acc Group[IN1, IN2]) (Group[IN1, IN2], error) {
	return acc, nil
}

// InnerJoin emits Join(a, b) for every pair of tuples of the two streams.
type InnerJoin[IN1, IN2, OUT any] struct {
	CoGroup[IN1, IN2]
	Join func(IN1, IN2) OUT
}

func (j InnerJoin[IN1, IN2, OUT]) Output(acc Group[IN1, IN2]) ([]OUT, error) {
	joined := make([]OUT, 0, len(acc.First)*len(acc.Second))
	for _, first := range acc.First {
		for _, second := range acc.Second {
			joined = append(joined, j.Join(first, second))
		}
	}
	return joined, nil
}
