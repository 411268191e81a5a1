package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedRun struct {
	name string
	at   time.Time
}

type testTask struct {
	name string
	next time.Time // returned from Run; zero retires
	runs *runLog
}

type runLog struct {
	mu   sync.Mutex
	runs []recordedRun
	ch   chan string
}

func newRunLog() *runLog {
	return &runLog{ch: make(chan string, 32)}
}

func (l *runLog) record(name string, at time.Time) {
	l.mu.Lock()
	l.runs = append(l.runs, recordedRun{name: name, at: at})
	l.mu.Unlock()
	l.ch <- name
}

func (l *runLog) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run %d of %d", i+1, n)
		}
	}
}

func (l *runLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.runs))
	for i, r := range l.runs {
		out[i] = r.name
	}
	return out
}

func (tt *testTask) Name() string { return tt.name }

func (tt *testTask) Run(now time.Time) time.Time {
	tt.runs.record(tt.name, now)
	return tt.next
}

func TestSchedulerRunsEarliestFirst(t *testing.T) {
	log := newRunLog()
	s := New(zap.NewNop())
	defer s.Stop()

	now := time.Now()
	s.Add(now.Add(30*time.Millisecond), &testTask{name: "later", runs: log})
	s.Add(now.Add(5*time.Millisecond), &testTask{name: "sooner", runs: log})
	s.Start()

	log.waitFor(t, 2)
	assert.Equal(t, []string{"sooner", "later"}, log.names())
}

func TestSchedulerPastInstantIsDueImmediately(t *testing.T) {
	log := newRunLog()
	s := New(zap.NewNop())
	defer s.Stop()
	s.Start()

	s.Add(time.Now().Add(-time.Hour), &testTask{name: "overdue", runs: log})
	log.waitFor(t, 1)
	assert.Equal(t, []string{"overdue"}, log.names())
}

func TestSchedulerReinsertsRecurringTask(t *testing.T) {
	log := newRunLog()
	s := New(zap.NewNop())
	defer s.Stop()

	// Each run reschedules itself in the past, so it stays due.
	task := &recurringTask{name: "tick", runs: log, times: 3}
	s.Add(time.Now(), task)
	s.Start()

	log.waitFor(t, 3)
	assert.Equal(t, []string{"tick", "tick", "tick"}, log.names())

	// After retiring, the heap drains.
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

type recurringTask struct {
	name  string
	runs  *runLog
	times int
}

func (r *recurringTask) Name() string { return r.name }

func (r *recurringTask) Run(now time.Time) time.Time {
	r.runs.record(r.name, now)
	r.times--
	if r.times <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Millisecond)
}

func TestSchedulerTieBreaksByInsertionOrder(t *testing.T) {
	log := newRunLog()
	s := New(zap.NewNop())
	defer s.Stop()

	when := time.Now().Add(10 * time.Millisecond)
	s.Add(when, &testTask{name: "first", runs: log})
	s.Add(when, &testTask{name: "second", runs: log})
	s.Add(when, &testTask{name: "third", runs: log})
	s.Start()

	log.waitFor(t, 3)
	assert.Equal(t, []string{"first", "second", "third"}, log.names())
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	log := newRunLog()
	s := New(zap.NewNop())
	defer s.Stop()

	now := time.Now()
	s.Add(now, &panicTask{})
	s.Add(now.Add(5*time.Millisecond), &testTask{name: "after", runs: log})
	s.Start()

	log.waitFor(t, 1)
	assert.Equal(t, []string{"after"}, log.names())
}

type panicTask struct{}

func (p *panicTask) Name() string            { return "panic" }
func (p *panicTask) Run(time.Time) time.Time { panic("boom") }

func TestSchedulerRetriesPanickedTask(t *testing.T) {
	log := newRunLog()
	s := New(zap.NewNop())
	defer s.Stop()
	s.SetRetryDelay(5 * time.Millisecond)

	// First run panics; the task must stay armed and run again.
	s.Add(time.Now(), &flakyTask{name: "flaky", runs: log})
	s.Start()

	log.waitFor(t, 1)
	assert.Equal(t, []string{"flaky"}, log.names())
}

type flakyTask struct {
	name  string
	runs  *runLog
	fired bool
}

func (f *flakyTask) Name() string { return f.name }

func (f *flakyTask) Run(now time.Time) time.Time {
	if !f.fired {
		f.fired = true
		panic("first run fails")
	}
	f.runs.record(f.name, now)
	return time.Time{}
}
