package perfwatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

const testLiveURL = "ws://relay.test/ws"

func openHarness(t *testing.T) (*harness, *fakeConn) {
	t.Helper()
	h := newHarness(t, Options{LiveURL: testLiveURL, ReconnectInterval: 2 * time.Second})
	conn := nextConn(t, h.dialer)
	waitFor(t, "live link open", func() bool { return h.c.LiveState() == StateOpen })
	return h, conn
}

func TestLiveLinkSendsHelloThenBatches(t *testing.T) {
	h, conn := openHarness(t)

	hello := nextFrame(t, conn)
	if hello.Name() != metric.MessageHello || hello.Event != metric.MessageHello {
		t.Fatalf("expected hello event frame, got %#v", hello)
	}
	var body metric.Hello
	if err := json.Unmarshal(hello.Body(), &body); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if body.SessionID != h.c.SessionID() || body.TS == 0 {
		t.Fatalf("unexpected hello body %#v", body)
	}

	h.c.Track(metric.Event{Type: metric.TypeCustom, Name: "x"})
	h.c.Flush()

	frame := nextFrame(t, conn)
	if frame.Name() != metric.MessageMetricsBatch {
		t.Fatalf("expected metrics_batch, got %s", frame.Name())
	}
	events, err := metric.DecodeEvents(frame.Body())
	if err != nil || len(events) != 1 || events[0].Name != "x" {
		t.Fatalf("unexpected batch payload %s (%v)", frame.Body(), err)
	}
}

func TestLiveLinkAnswersPing(t *testing.T) {
	_, conn := openHarness(t)
	nextFrame(t, conn)

	for _, ping := range []string{`{"command":"ping"}`, `{"type":"ping"}`, `not json`, `{"event":"ping"}`} {
		conn.in <- []byte(ping)
	}

	for i := 0; i < 3; i++ {
		frame := nextFrame(t, conn)
		if frame.Name() != metric.MessagePong {
			t.Fatalf("expected pong, got %s", frame.Name())
		}
		var pong metric.Pong
		if err := json.Unmarshal(frame.Body(), &pong); err != nil || pong.TS == 0 {
			t.Fatalf("unexpected pong body %s", frame.Body())
		}
	}
}

func TestLiveLinkReconnectsOnceAfterUnexpectedClose(t *testing.T) {
	h, conn := openHarness(t)

	conn.Close()
	waitFor(t, "reconnect scheduled", func() bool { return h.sched.pending(2*time.Second) == 1 })
	if state := h.c.LiveState(); state != StateConnecting {
		t.Fatalf("expected connecting while waiting, got %s", state)
	}

	h.c.Track(metric.Event{Type: metric.TypeCustom})
	h.c.Flush()
	if n := h.sched.pending(2 * time.Second); n != 1 {
		t.Fatalf("expected a single pending reconnect, got %d", n)
	}

	h.sched.fire(2 * time.Second)
	next := nextConn(t, h.dialer)
	waitFor(t, "live link reopened", func() bool { return h.c.LiveState() == StateOpen })
	if frame := nextFrame(t, next); frame.Name() != metric.MessageHello {
		t.Fatalf("expected hello on reconnect, got %s", frame.Name())
	}
}

func TestLiveLinkRetriesFailedDial(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = 1
	h := &harness{sched: &fakeScheduler{}, platform: newFakePlatform(), dialer: dialer, transport: newRecordingTransport()}
	c, err := New(Options{LiveURL: testLiveURL},
		WithScheduler(h.sched), WithPlatform(h.platform), WithDialer(dialer), WithTransport(h.transport))
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	defer c.Destroy()

	waitFor(t, "retry scheduled", func() bool { return h.sched.pending(DefaultReconnectInterval) == 1 })
	h.sched.fire(DefaultReconnectInterval)
	nextConn(t, dialer)
	waitFor(t, "live link open", func() bool { return c.LiveState() == StateOpen })
	if n := dialer.dialCount(); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
}

func TestCloseLiveIsStickyUntilReconfigure(t *testing.T) {
	h, conn := openHarness(t)

	h.c.CloseLive()
	if !conn.isClosed() {
		t.Fatal("expected connection closed")
	}
	if state := h.c.LiveState(); state != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", state)
	}
	time.Sleep(20 * time.Millisecond)
	if n := h.sched.pending(2 * time.Second); n != 0 {
		t.Fatalf("expected no reconnect after manual close, got %d", n)
	}

	h.c.Track(metric.Event{Type: metric.TypeCustom})
	if batch := h.c.Flush(); len(batch) != 1 {
		t.Fatal("flush must still succeed while live link is closed")
	}

	if err := h.c.Reconfigure(Options{LiveURL: testLiveURL, ReconnectInterval: 2 * time.Second}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	nextConn(t, h.dialer)
	waitFor(t, "live link reopened", func() bool { return h.c.LiveState() == StateOpen })
}

func TestDestroyClosesLiveWithoutReconnect(t *testing.T) {
	h, conn := openHarness(t)

	h.c.Destroy()
	if !conn.isClosed() {
		t.Fatal("expected live connection closed")
	}
	time.Sleep(20 * time.Millisecond)
	if n := h.sched.pending(2 * time.Second); n != 0 {
		t.Fatalf("expected no reconnect after destroy, got %d", n)
	}
}
