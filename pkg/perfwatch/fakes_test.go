package perfwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/utpal16raj09/PerformaMeter/pkg/logger"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every pending timer with duration d and returns how many ran.
func (s *fakeScheduler) fire(d time.Duration) int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

type fakePlatform struct {
	mu        sync.Mutex
	now       time.Time
	store     *MemoryStore
	observers []func(ErrorInfo)
	persisted int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{now: time.UnixMilli(1_700_000_000_000), store: NewMemoryStore()}
}

func (p *fakePlatform) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *fakePlatform) advance(d time.Duration) {
	p.mu.Lock()
	p.now = p.now.Add(d)
	p.mu.Unlock()
}

func (p *fakePlatform) Persist(key string, value []byte) error {
	p.mu.Lock()
	p.persisted++
	p.mu.Unlock()
	return p.store.Save(key, value)
}

func (p *fakePlatform) Retrieve(key string) ([]byte, error) {
	return p.store.Load(key)
}

func (p *fakePlatform) ObserveUnhandledErrors(fn func(ErrorInfo)) func() {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.observers = nil
		p.mu.Unlock()
	}
}

func (p *fakePlatform) raise(info ErrorInfo) {
	p.mu.Lock()
	observers := append([]func(ErrorInfo){}, p.observers...)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(info)
	}
}

func (p *fakePlatform) persistCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persisted
}

func (p *fakePlatform) MemoryUsage() *float64 {
	v := 42.0
	return &v
}

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.out <- append([]byte(nil), payload...)
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	fail   int
	dials  int
	dialed chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (LiveConn, error) {
	d.mu.Lock()
	d.dials++
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()
	conn := newFakeConn()
	d.dialed <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recordingTransport struct {
	batches chan metric.Batch
	err     error
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{batches: make(chan metric.Batch, 1024)}
}

func (r *recordingTransport) Send(ctx context.Context, batch metric.Batch) error {
	r.batches <- batch
	return r.err
}

func (r *recordingTransport) next(t *testing.T) metric.Batch {
	t.Helper()
	select {
	case batch := <-r.batches:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch delivery")
		return nil
	}
}

func (r *recordingTransport) none(t *testing.T) {
	t.Helper()
	select {
	case batch := <-r.batches:
		t.Fatalf("unexpected delivery of %d events", len(batch))
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	c         *Collector
	sched     *fakeScheduler
	platform  *fakePlatform
	dialer    *fakeDialer
	transport *recordingTransport
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		sched:     &fakeScheduler{},
		platform:  newFakePlatform(),
		dialer:    newFakeDialer(),
		transport: newRecordingTransport(),
	}
	c, err := New(opts,
		WithLogger(logger.Discard()),
		WithScheduler(h.sched),
		WithPlatform(h.platform),
		WithDialer(h.dialer),
		WithTransport(h.transport),
	)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	h.c = c
	t.Cleanup(c.Destroy)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextFrame(t *testing.T, conn *fakeConn) metric.Envelope {
	t.Helper()
	select {
	case raw := <-conn.out:
		env, err := metric.ParseEnvelope(raw)
		if err != nil {
			t.Fatalf("parse frame %s: %v", raw, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return metric.Envelope{}
	}
}

func nextConn(t *testing.T, d *fakeDialer) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.dialed:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}
