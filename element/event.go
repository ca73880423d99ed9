package element

type Event[T any] struct {
	//keep in mind that it is not thread-safe when you modify
	Value        T
	Timestamp    int64
	HasTimestamp bool
}

func (e *Event[T]) Type() Type {
	return EventElement
}

// NewEvent returns an event carrying an explicit event time.
func NewEvent[T any](value T, timestamp int64) *Event[T] {
	return &Event[T]{Value: value, Timestamp: timestamp, HasTimestamp: true}
}
