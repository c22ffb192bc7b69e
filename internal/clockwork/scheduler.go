// Package clockwork provides a single shared expiry scheduler backed by an
// injectable clock. Typing expiry, send-ack timeouts, cache TTLs and
// debounce windows all run off one timer instead of ad hoc per-entry timers,
// so tests can drive time with a mock clock.
package clockwork

import (
	"container/heap"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler runs callbacks at deadlines using one underlying timer armed for
// the earliest pending task.
type Scheduler struct {
	clk   clock.Clock
	mu    sync.Mutex
	tasks taskHeap
	timer *clock.Timer
	seq   int64
}

type task struct {
	deadline  time.Time
	fn        func()
	seq       int64
	index     int
	cancelled bool
}

// NewScheduler creates a scheduler on the given clock.
func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{clk: clk}
}

// Clock returns the scheduler's clock, shared by components that need Now().
func (s *Scheduler) Clock() clock.Clock {
	return s.clk
}

// Schedule runs fn after d. The returned cancel function is idempotent and
// prevents fn from running if it has not fired yet.
func (s *Scheduler) Schedule(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	s.seq++
	t := &task{deadline: s.clk.Now().Add(d), fn: fn, seq: s.seq}
	heap.Push(&s.tasks, t)
	if t.index == 0 {
		s.arm()
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.cancelled || t.index < 0 {
			return
		}
		t.cancelled = true
		heap.Remove(&s.tasks, t.index)
		s.arm()
	}
}

// Stop cancels all pending tasks and the underlying timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		t.cancelled = true
	}
	s.tasks = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// arm re-points the timer at the earliest deadline. Caller holds mu.
func (s *Scheduler) arm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.tasks) == 0 {
		return
	}
	d := s.tasks[0].deadline.Sub(s.clk.Now())
	if d < 0 {
		d = 0
	}
	s.timer = s.clk.AfterFunc(d, s.fire)
}

// fire pops and runs every task whose deadline has passed, then re-arms.
// Callbacks run outside the lock so they may schedule further tasks.
func (s *Scheduler) fire() {
	s.mu.Lock()
	now := s.clk.Now()
	var due []func()
	for len(s.tasks) > 0 && !s.tasks[0].deadline.After(now) {
		t := heap.Pop(&s.tasks).(*task)
		if !t.cancelled {
			due = append(due, t.fn)
		}
	}
	s.arm()
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// taskHeap orders tasks by deadline, then insertion order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
