package window

import "container/heap"

type TimerKind int

const (
	// OnTimeTimer fires at the window end.
	OnTimeTimer TimerKind = iota
	// CleanupTimer fires at window end + allowed lateness and retires the window.
	CleanupTimer
)

// Timer is an event time callback for a window.
type Timer struct {
	Window    Window
	Kind      TimerKind
	Timestamp int64
}

func (t Timer) less(other Timer) bool {
	if t.Timestamp != other.Timestamp {
		return t.Timestamp < other.Timestamp
	}
	if t.Window != other.Window {
		return t.Window.less(other.Window)
	}
	return t.Kind < other.Kind
}

// timerQueue is a min heap of timers ordered by timestamp, window and kind,
// using dedupeMap to prevent the same Timer from being inserted twice.
type timerQueue struct {
	items     []Timer
	dedupeMap map[Timer]struct{}
}

func newTimerQueue() *timerQueue {
	return &timerQueue{dedupeMap: map[Timer]struct{}{}}
}

//---------------------------------------------------------------------------------
//Warning: Do not call directly, expose the function only for the heap package to use
//---------------------------------------------------------------------------------

func (t *timerQueue) Less(i, j int) bool {
	return t.items[i].less(t.items[j])
}

func (t *timerQueue) Swap(i, j int) {
	t.items[i], t.items[j] = t.items[j], t.items[i]
}

func (t *timerQueue) Push(x any) {
	t.items = append(t.items, x.(Timer))
}

func (t *timerQueue) Pop() any {
	old := t.items
	n := len(old)
	x := old[n-1]
	t.items = old[0 : n-1]
	return x
}

//---------------------------------------------------------------------------------

func (t *timerQueue) Len() int {
	return len(t.items)
}

func (t *timerQueue) PushTimer(item Timer) {
	if _, ok := t.dedupeMap[item]; !ok {
		t.dedupeMap[item] = struct{}{}
		heap.Push(t, item)
	}
}

func (t *timerQueue) PopTimer() (Timer, bool) {
	if len(t.items) == 0 {
		return Timer{}, false
	}
	item := heap.Pop(t).(Timer)
	delete(t.dedupeMap, item)
	return item, true
}

func (t *timerQueue) PeekTimer() (Timer, bool) {
	if len(t.items) == 0 {
		return Timer{}, false
	}
	return t.items[0], true
}

func (t *timerQueue) Remove(timer Timer) bool {
	if _, ok := t.dedupeMap[timer]; !ok {
		return false
	}
	for index, item := range t.items {
		if item == timer {
			delete(t.dedupeMap, timer)
			heap.Remove(t, index)
			return true
		}
	}
	return false
}

// RemoveWindow drops every timer registered for w.
func (t *timerQueue) RemoveWindow(w Window) {
	for item := range t.dedupeMap {
		if item.Window == w {
			t.Remove(item)
		}
	}
}

// Timers returns all registered timers in firing order.
func (t *timerQueue) Timers() []Timer {
	clone := &timerQueue{items: make([]Timer, len(t.items)), dedupeMap: map[Timer]struct{}{}}
	copy(clone.items, t.items)
	timers := make([]Timer, 0, len(t.items))
	for clone.Len() > 0 {
		timers = append(timers, heap.Pop(clone).(Timer))
	}
	return timers
}
