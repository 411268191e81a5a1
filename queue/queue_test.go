package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu        sync.Mutex
	delivered []string
	times     []time.Time
	fail      map[string]bool
	ch        chan string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan string, 16), fail: make(map[string]bool)}
}

func (r *recordingSender) send(room, text string) error {
	r.mu.Lock()
	failed := r.fail[text]
	if !failed {
		r.delivered = append(r.delivered, text)
		r.times = append(r.times, time.Now())
	}
	r.mu.Unlock()

	r.ch <- text
	if failed {
		return errors.New("send failed")
	}
	return nil
}

func (r *recordingSender) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func (r *recordingSender) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delivered...), append([]time.Time(nil), r.times...)
}

func TestQueueFIFOWithThrottle(t *testing.T) {
	const wait = 30 * time.Millisecond

	sender := newRecordingSender()
	q := New("lobby", wait, sender.send, nil, zap.NewNop())
	q.Start()
	defer q.Stop()
	q.SetConnected(true)

	q.Push("m1")
	q.Push("m2")
	q.Push("m3")
	sender.waitFor(t, 3)

	delivered, times := sender.snapshot()
	assert.Equal(t, []string{"m1", "m2", "m3"}, delivered)

	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, wait, "delivery %d arrived %v after previous", i, gap)
	}
}

func TestQueueDisconnectSuspends(t *testing.T) {
	sender := newRecordingSender()
	q := New("lobby", time.Millisecond, sender.send, nil, zap.NewNop())
	q.Start()
	defer q.Stop()

	// Queue starts disconnected: nothing may be delivered.
	q.Push("held1")
	q.Push("held2")

	time.Sleep(50 * time.Millisecond)
	delivered, _ := sender.snapshot()
	assert.Empty(t, delivered, "suspended queue must not deliver")
	assert.Equal(t, 2, q.Pending())

	q.SetConnected(true)
	sender.waitFor(t, 2)

	delivered, _ = sender.snapshot()
	assert.Equal(t, []string{"held1", "held2"}, delivered, "resume delivers in original order")
	assert.Equal(t, 0, q.Pending())
}

func TestQueueContinuesAfterSendFailure(t *testing.T) {
	sender := newRecordingSender()
	sender.fail["bad"] = true

	q := New("lobby", time.Millisecond, sender.send, nil, zap.NewNop())
	q.Start()
	defer q.Stop()
	q.SetConnected(true)

	q.Push("ok1")
	q.Push("bad")
	q.Push("ok2")
	sender.waitFor(t, 3)

	delivered, _ := sender.snapshot()
	assert.Equal(t, []string{"ok1", "ok2"}, delivered, "failed message is skipped, not retried")
}

type recordingAudit struct {
	mu   sync.Mutex
	rows []string
}

func (a *recordingAudit) LogDelivery(id, room, text string, sentAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "" || room == "" {
		return errors.New("missing id or room")
	}
	a.rows = append(a.rows, room+"/"+text)
	return nil
}

func TestQueueAuditsDeliveries(t *testing.T) {
	sender := newRecordingSender()
	sender.fail["bad"] = true
	audit := &recordingAudit{}

	q := New("lobby", time.Millisecond, sender.send, audit, zap.NewNop())
	q.Start()
	defer q.Stop()
	q.SetConnected(true)

	q.Push("ok")
	q.Push("bad")
	sender.waitFor(t, 2)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	assert.Equal(t, []string{"lobby/ok"}, audit.rows, "only successful deliveries are audited")
}

func TestQueuePushNeverBlocks(t *testing.T) {
	q := New("lobby", time.Hour, func(room, text string) error { return nil }, nil, zap.NewNop())
	// No Start, no connection: Push must still return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.Push("m")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked")
	}
	assert.Equal(t, 1000, q.Pending())
}
