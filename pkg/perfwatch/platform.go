package perfwatch

import (
	"fmt"
	"math"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"time"
)

// ErrorInfo describes an error reported by the host or the application.
type ErrorInfo struct {
	Kind    string
	Message string
	Stack   string
	Source  string
	Line    int
	Column  int
	Context string
}

// Platform is the host capability surface the collector depends on.
type Platform interface {
	Now() time.Time
	Persist(key string, value []byte) error
	Retrieve(key string) ([]byte, error)
	// ObserveUnhandledErrors registers fn and returns a function that unregisters it.
	ObserveUnhandledErrors(fn func(ErrorInfo)) func()
	// MemoryUsage reports heap usage as a percentage, or nil when unknown.
	MemoryUsage() *float64
}

// HostPlatform is the Platform for a Go process. Persistence goes to a Store and
// panics recovered through Recover are reported as unhandled errors.
type HostPlatform struct {
	store Store

	mu        sync.Mutex
	observers map[int]func(ErrorInfo)
	nextID    int
}

// NewHostPlatform builds a HostPlatform on store. A nil store keeps data in memory.
func NewHostPlatform(store Store) *HostPlatform {
	if store == nil {
		store = NewMemoryStore()
	}
	return &HostPlatform{store: store, observers: make(map[int]func(ErrorInfo))}
}

// Now returns the wall clock time.
func (p *HostPlatform) Now() time.Time {
	return time.Now()
}

// Persist writes value under key.
func (p *HostPlatform) Persist(key string, value []byte) error {
	return p.store.Save(key, value)
}

// Retrieve reads the value stored under key. Missing keys return nil, nil.
func (p *HostPlatform) Retrieve(key string) ([]byte, error) {
	return p.store.Load(key)
}

// ObserveUnhandledErrors registers an observer for Report and Recover.
func (p *HostPlatform) ObserveUnhandledErrors(fn func(ErrorInfo)) func() {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
		})
	}
}

// Report delivers info to every registered observer.
func (p *HostPlatform) Report(info ErrorInfo) {
	p.mu.Lock()
	observers := make([]func(ErrorInfo), 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.mu.Unlock()

	for _, fn := range observers {
		fn(info)
	}
}

// Recover reports a panic to the observers and re-panics. Use it as
// `defer platform.Recover()` at the top of goroutines.
func (p *HostPlatform) Recover() {
	r := recover()
	if r == nil {
		return
	}
	p.Report(ErrorInfo{
		Kind:    "panic",
		Message: fmt.Sprint(r),
		Stack:   string(debug.Stack()),
	})
	panic(r)
}

// MemoryUsage reports live heap objects against GOMEMLIMIT, or against all memory
// mapped by the runtime when no limit is set. It reads runtime/metrics, which does
// not stop the world.
func (p *HostPlatform) MemoryUsage() *float64 {
	samples := []metrics.Sample{
		{Name: metricHeapObjects},
		{Name: metricMemLimit},
		{Name: metricMemTotal},
	}
	metrics.Read(samples)
	return heapPercent(sampleUint(samples[0]), sampleUint(samples[1]), sampleUint(samples[2]))
}

const (
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricMemLimit    = "/gc/gomemlimit:bytes"
	metricMemTotal    = "/memory/classes/total:bytes"
)

func sampleUint(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

// heapPercent is heap/limit as a percentage capped at 100. An unset limit
// (zero or math.MaxInt64) falls back to total. Nil when no denominator is known.
func heapPercent(heap, limit, total uint64) *float64 {
	denom := total
	if limit > 0 && limit < math.MaxInt64 {
		denom = limit
	}
	if denom == 0 {
		return nil
	}
	pct := math.Min(100, float64(heap)/float64(denom)*100)
	return &pct
}
