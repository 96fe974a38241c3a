package perfwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

const dialTimeout = 10 * time.Second

// ErrLiveUnavailable is returned by live sends while the link is not open.
var ErrLiveUnavailable = errors.New("perfwatch live link not open")

// LiveState is the state of a live link.
type LiveState int

const (
	StateDisconnected LiveState = iota
	StateConnecting
	StateOpen
)

func (s LiveState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// liveLink maintains one websocket connection with automatic reconnect.
//
// Every dial and every open connection is tagged with a generation. Close events
// and dial results from an older generation are ignored, so a stale socket can
// never schedule a reconnect. At most one reconnect timer is pending at a time and
// the link reports StateConnecting while it waits.
type liveLink struct {
	dialer Dialer
	sched  Scheduler
	log    *slog.Logger
	now    func() time.Time

	// hello builds the first frame written on every new connection.
	hello func() ([]byte, error)
	// onMessage receives every parsed frame other than ping.
	onMessage func(metric.Envelope)

	mu         sync.Mutex
	url        string
	interval   time.Duration
	state      LiveState
	conn       LiveConn
	gen        uint64
	manual     bool
	timer      Timer
	timerSeq   uint64
	cancelDial context.CancelFunc

	writeMu sync.Mutex
}

func newLiveLink(dialer Dialer, sched Scheduler, logger *slog.Logger, now func() time.Time) *liveLink {
	return &liveLink{dialer: dialer, sched: sched, log: logger, now: now}
}

// Configure replaces the target and clears a previous manual close. Any existing
// connection or pending reconnect is dropped.
func (l *liveLink) Configure(url string, interval time.Duration) {
	l.mu.Lock()
	conn := l.resetLocked()
	l.url = url
	l.interval = interval
	l.manual = false
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Connect starts a dial unless the link is busy, manually closed or unconfigured.
func (l *liveLink) Connect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.manual || l.url == "" || l.state != StateDisconnected {
		return
	}
	l.dialLocked()
}

// Close tears the link down and suppresses reconnects until Configure.
func (l *liveLink) Close() {
	l.mu.Lock()
	l.manual = true
	conn := l.resetLocked()
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// State reports the current link state.
func (l *liveLink) State() LiveState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Send writes one frame when the link is open.
func (l *liveLink) Send(payload []byte) error {
	l.mu.Lock()
	conn, gen := l.conn, l.gen
	open := l.state == StateOpen
	l.mu.Unlock()
	if !open || conn == nil {
		return ErrLiveUnavailable
	}

	l.writeMu.Lock()
	err := conn.WriteMessage(payload)
	l.writeMu.Unlock()
	if err != nil {
		l.closed(gen, conn, err)
		return err
	}
	return nil
}

// resetLocked drops the current connection, dial and timer and returns the
// connection for the caller to close outside the lock.
func (l *liveLink) resetLocked() LiveConn {
	l.gen++
	l.stopTimerLocked()
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	conn := l.conn
	l.conn = nil
	l.state = StateDisconnected
	return conn
}

func (l *liveLink) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerSeq++
}

func (l *liveLink) dialLocked() {
	l.state = StateConnecting
	l.gen++
	gen := l.gen
	url := l.url
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	l.cancelDial = cancel
	go l.dial(ctx, cancel, gen, url)
}

func (l *liveLink) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, url string) {
	defer cancel()

	conn, err := l.dialer.Dial(ctx, url)
	if err == nil {
		err = l.greet(conn)
		if err != nil {
			_ = conn.Close()
			conn = nil
		}
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	l.cancelDial = nil
	if err != nil {
		l.state = StateDisconnected
		l.scheduleReconnectLocked()
		l.mu.Unlock()
		l.log.Debug("live link dial failed", "url", url, "error", err)
		return
	}
	l.conn = conn
	l.state = StateOpen
	l.mu.Unlock()

	l.log.Debug("live link open", "url", url)
	go l.readLoop(conn, gen)
}

func (l *liveLink) greet(conn LiveConn) error {
	if l.hello == nil {
		return nil
	}
	frame, err := l.hello()
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.WriteMessage(frame)
}

func (l *liveLink) readLoop(conn LiveConn, gen uint64) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			l.closed(gen, conn, err)
			return
		}
		env, err := metric.ParseEnvelope(raw)
		if err != nil {
			l.log.Debug("live frame dropped", "error", err)
			continue
		}
		if env.Name() == metric.MessagePing {
			l.pong()
			continue
		}
		if l.onMessage != nil {
			l.onMessage(env)
		}
	}
}

func (l *liveLink) pong() {
	frame, err := metric.NewMessage(metric.MessagePong, metric.Pong{TS: l.now().UnixMilli()})
	if err != nil {
		return
	}
	if err := l.Send(frame); err != nil {
		l.log.Debug("pong not sent", "error", err)
	}
}

// closed handles the end of connection gen. Stale generations are ignored.
func (l *liveLink) closed(gen uint64, conn LiveConn, cause error) {
	l.mu.Lock()
	if gen != l.gen || l.state != StateOpen {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.state = StateDisconnected
	l.scheduleReconnectLocked()
	l.mu.Unlock()

	_ = conn.Close()
	l.log.Debug("live link closed", "error", cause)
}

func (l *liveLink) scheduleReconnectLocked() {
	if l.manual || l.timer != nil || l.url == "" {
		return
	}
	l.timerSeq++
	seq := l.timerSeq
	l.state = StateConnecting
	l.timer = l.sched.AfterFunc(l.interval, func() { l.reconnect(seq) })
}

func (l *liveLink) reconnect(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.timerSeq {
		return
	}
	l.timer = nil
	if l.manual {
		l.state = StateDisconnected
		return
	}
	l.dialLocked()
}
