// Package queue implements the per-room throttled outbound delivery queue.
// Messages are delivered to the transport in submission order, at most once
// each, with at least the configured interval between consecutive sends.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender delivers one message to the transport.
type Sender func(room, text string) error

// DeliveryLog records successfully delivered messages. Best-effort.
type DeliveryLog interface {
	LogDelivery(id, room, text string, sentAt time.Time) error
}

// Message is one pending payload with a stable ID for the delivery log.
type Message struct {
	ID   string
	Text string
}

// Queue is the outbound queue for a single room. Push never blocks; a
// background loop drains the pending sequence while the queue is connected.
type Queue struct {
	room   string
	wait   time.Duration
	send   Sender
	audit  DeliveryLog // may be nil
	logger *zap.Logger

	mu        sync.Mutex
	pending   []Message
	connected bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func New(room string, wait time.Duration, send Sender, audit DeliveryLog, logger *zap.Logger) *Queue {
	return &Queue{
		room:   room,
		wait:   wait,
		send:   send,
		audit:  audit,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery loop. The queue starts disconnected; call
// SetConnected(true) once the room connection is up.
func (q *Queue) Start() {
	go q.run()
}

// Stop terminates the delivery loop. Pending messages are dropped.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.done) })
}

// Push appends a message to the tail of the pending sequence.
func (q *Queue) Push(text string) {
	q.mu.Lock()
	q.pending = append(q.pending, Message{ID: uuid.New().String(), Text: text})
	n := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("Message queued", zap.String("room", q.room), zap.Int("pending", n))
	q.signal()
}

// SetConnected suspends or resumes delivery. Suspending never discards
// pending messages; resuming picks up where the loop left off.
func (q *Queue) SetConnected(connected bool) {
	q.mu.Lock()
	q.connected = connected
	q.mu.Unlock()

	if connected {
		q.signal()
	}
}

// Pending returns the number of undelivered messages.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	for {
		msg, ok := q.next()
		if !ok {
			return
		}

		if err := q.send(q.room, msg.Text); err != nil {
			// At-most-once: a failed send is logged, never retried.
			q.logger.Error("Failed to deliver message",
				zap.String("room", q.room),
				zap.String("id", msg.ID),
				zap.Error(err))
		} else if q.audit != nil {
			if err := q.audit.LogDelivery(msg.ID, q.room, msg.Text, time.Now()); err != nil {
				q.logger.Warn("Failed to record delivery", zap.Error(err))
			}
		}

		select {
		case <-q.done:
			return
		case <-time.After(q.wait):
		}
	}
}

// next blocks until the queue is connected with a pending message, then pops
// the head. Returns false once the queue is stopped.
func (q *Queue) next() (Message, bool) {
	for {
		q.mu.Lock()
		if q.connected && len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-q.done:
			return Message{}, false
		case <-q.wake:
		}
	}
}
