package window

import "sort"

type bucket[KEY comparable, ACC any] struct {
	keys         []KEY
	accumulators map[KEY]ACC
}

// Store holds one accumulator per (window, key). Keys of a window keep insertion order.
// It is not safe for concurrent use.
type Store[KEY comparable, ACC any] struct {
	initializer func() ACC
	buckets     map[Window]*bucket[KEY, ACC]
}

func NewStore[KEY comparable, ACC any](initializer func() ACC) *Store[KEY, ACC] {
	return &Store[KEY, ACC]{initializer: initializer, buckets: map[Window]*bucket[KEY, ACC]{}}
}

// Merge applies fn to the accumulator of (w, key), creating it with the initializer first
// if needed. When fn fails the stored accumulator is left untouched.
func (s *Store[KEY, ACC]) Merge(w Window, key KEY, fn func(ACC) (ACC, error)) error {
	b, ok := s.buckets[w]
	if !ok {
		b = &bucket[KEY, ACC]{accumulators: map[KEY]ACC{}}
		s.buckets[w] = b
	}
	acc, exists := b.accumulators[key]
	if !exists {
		acc = s.initializer()
	}
	merged, err := fn(acc)
	if err != nil {
		if len(b.keys) == 0 {
			delete(s.buckets, w)
		}
		return err
	}
	if !exists {
		b.keys = append(b.keys, key)
	}
	b.accumulators[key] = merged
	return nil
}

func (s *Store[KEY, ACC]) Put(w Window, key KEY, acc ACC) {
	_ = s.Merge(w, key, func(ACC) (ACC, error) { return acc, nil })
}

func (s *Store[KEY, ACC]) Get(w Window, key KEY) (ACC, bool) {
	var acc ACC
	b, ok := s.buckets[w]
	if !ok {
		return acc, false
	}
	acc, ok = b.accumulators[key]
	return acc, ok
}

func (s *Store[KEY, ACC]) Remove(w Window, key KEY) {
	b, ok := s.buckets[w]
	if !ok {
		return
	}
	if _, ok = b.accumulators[key]; !ok {
		return
	}
	delete(b.accumulators, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
	if len(b.keys) == 0 {
		delete(s.buckets, w)
	}
}

func (s *Store[KEY, ACC]) RemoveWindow(w Window) {
	delete(s.buckets, w)
}

func (s *Store[KEY, ACC]) Keys(w Window) []KEY {
	b, ok := s.buckets[w]
	if !ok {
		return nil
	}
	keys := make([]KEY, len(b.keys))
	copy(keys, b.keys)
	return keys
}

// Windows returns the windows holding state, ordered by end then start.
func (s *Store[KEY, ACC]) Windows() []Window {
	windows := make([]Window, 0, len(s.buckets))
	for w := range s.buckets {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].less(windows[j]) })
	return windows
}

func (s *Store[KEY, ACC]) Len() int {
	return len(s.buckets)
}
