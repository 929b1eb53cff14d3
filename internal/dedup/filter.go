// Package dedup provides a bounded idempotency filter over event
// identity keys.
package dedup

import "sync"

const DefaultCapacity = 4096

// Filter records identity keys it has seen and answers whether a key
// should be processed. The record set is bounded: once capacity is
// reached the oldest recorded key is evicted, so a long-running session
// cannot grow it without limit.
type Filter struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
	head     int
}

func New(capacity int) *Filter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Filter{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// ShouldProcess returns true exactly once per key: the first call
// records the key and returns true, every later call returns false.
func (f *Filter) ShouldProcess(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[key]; ok {
		return false
	}

	if len(f.seen) >= f.capacity {
		oldest := f.order[f.head]
		delete(f.seen, oldest)
		f.order[f.head] = key
		f.head = (f.head + 1) % f.capacity
	} else {
		f.order = append(f.order, key)
	}
	f.seen[key] = struct{}{}
	return true
}

// Seen reports whether key has been recorded, without recording it.
func (f *Filter) Seen(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[key]
	return ok
}

// Len returns the number of recorded keys.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// Reset forgets all recorded keys.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]struct{}, f.capacity)
	f.order = f.order[:0]
	f.head = 0
}
