package metric

import "sync"

// DefaultWindowSize is the default cap of a retention window.
const DefaultWindowSize = 1000

// Window is a bounded FIFO of the most recent events. Appends past the cap evict the
// oldest entries. All methods are safe for concurrent use; readers get copies.
type Window struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewWindow creates a window holding at most capacity events.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{capacity: capacity}
}

// Append adds events in order and returns how many were evicted.
func (w *Window) Append(events []Event) int {
	if len(events) == 0 {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.events = append(w.events, events...)
	return w.trimLocked()
}

// Reset replaces the contents, keeping only the newest capacity events.
func (w *Window) Reset(events []Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.events = append(make([]Event, 0, len(events)), events...)
	w.trimLocked()
}

// Snapshot returns a copy of the retained events, oldest first. Attribute maps and
// pointer fields are shared with the window and must be treated as read-only.
func (w *Window) Snapshot() []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

// Len reports the number of retained events.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.events)
}

// Cap reports the window capacity.
func (w *Window) Cap() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.capacity
}

// Resize changes the capacity and returns how many events were evicted.
func (w *Window) Resize(capacity int) int {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.capacity = capacity
	return w.trimLocked()
}

func (w *Window) trimLocked() int {
	overflow := len(w.events) - w.capacity
	if overflow <= 0 {
		return 0
	}
	kept := make([]Event, w.capacity)
	copy(kept, w.events[overflow:])
	w.events = kept
	return overflow
}
