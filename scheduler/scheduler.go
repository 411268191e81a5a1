// Package scheduler runs recurring tasks from a single loop over a priority
// queue of (due instant, task) pairs. The loop pops the earliest-due task,
// executes it, and reinserts it at whatever instant the task returns. This
// replaces one timer per task with one timer total and gives a single place
// to stop everything.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of scheduled work. Run is called at or after the task's due
// instant and returns the next instant the task should run; a zero time
// retires the task.
type Task interface {
	Name() string
	Run(now time.Time) time.Time
}

type entry struct {
	when time.Time
	seq  uint64 // insertion order, breaks ties for stable pop order
	task Task
}

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// panicRetryDelay is how long a task that panicked waits before its next
// attempt.
const panicRetryDelay = time.Minute

// Scheduler drives all registered tasks from one goroutine.
type Scheduler struct {
	logger *zap.Logger
	now    func() time.Time
	retry  time.Duration

	mu    sync.Mutex
	tasks taskHeap
	seq   uint64

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		now:    time.Now,
		retry:  panicRetryDelay,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// SetClock overrides the scheduler's time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// SetRetryDelay overrides the after-panic retry delay. Tests only.
func (s *Scheduler) SetRetryDelay(d time.Duration) { s.retry = d }

// Add schedules task to first run at when. An instant already in the past
// makes the task due immediately.
func (s *Scheduler) Add(when time.Time, task Task) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.tasks, &entry{when: when, seq: s.seq, task: task})
	s.mu.Unlock()

	s.logger.Debug("Task scheduled",
		zap.String("task", task.Name()),
		zap.Time("when", when))
	s.signal()
}

// Len returns the number of armed tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop terminates the loop. Armed tasks are discarded.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		now := s.now()

		s.mu.Lock()
		var next *entry
		if s.tasks.Len() > 0 {
			next = s.tasks[0]
			if !next.when.After(now) {
				heap.Pop(&s.tasks)
			} else {
				next = nil
			}
		}
		var wait <-chan time.Time
		if next == nil && s.tasks.Len() > 0 {
			wait = time.After(s.tasks[0].when.Sub(now))
		}
		s.mu.Unlock()

		if next != nil {
			s.fire(next, now)
			continue
		}

		if wait == nil {
			// Nothing armed; sleep until Add wakes us.
			select {
			case <-s.done:
				return
			case <-s.wake:
			}
			continue
		}

		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-wait:
		}
	}
}

// fire runs one due task and re-inserts it at the instant it returns. A
// panicking run never retires the task; it is re-armed after the retry delay
// so a recurring task keeps recurring.
func (s *Scheduler) fire(e *entry, now time.Time) {
	next, panicked := s.runTask(e.task, now)
	if panicked {
		next = now.Add(s.retry)
		s.logger.Warn("Re-arming panicked task",
			zap.String("task", e.task.Name()),
			zap.Time("retry_at", next))
	} else if next.IsZero() {
		s.logger.Debug("Task retired", zap.String("task", e.task.Name()))
		return
	}

	s.mu.Lock()
	s.seq++
	heap.Push(&s.tasks, &entry{when: next, seq: s.seq, task: e.task})
	s.mu.Unlock()
}

func (s *Scheduler) runTask(task Task, now time.Time) (next time.Time, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked",
				zap.String("task", task.Name()),
				zap.Any("panic", r))
			panicked = true
		}
	}()
	return task.Run(now), false
}
