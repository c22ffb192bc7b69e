package clockwork

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestScheduleFires(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	s.Schedule(5*time.Second, func() { fired.Add(1) })

	mock.Add(4 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("fired before deadline")
	}
	mock.Add(2 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}
}

func TestCancelPreventsFire(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	cancel := s.Schedule(time.Second, func() { fired.Add(1) })
	cancel()
	cancel() // idempotent

	mock.Add(2 * time.Second)
	if fired.Load() != 0 {
		t.Fatalf("cancelled task fired %d times", fired.Load())
	}
}

func TestEarlierTaskRearmsTimer(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var order []int
	s.Schedule(10*time.Second, func() { order = append(order, 10) })
	s.Schedule(2*time.Second, func() { order = append(order, 2) })

	mock.Add(3 * time.Second)
	if len(order) != 1 || order[0] != 2 {
		t.Fatalf("order = %v, want [2]", order)
	}
	mock.Add(8 * time.Second)
	if len(order) != 2 || order[1] != 10 {
		t.Fatalf("order = %v, want [2 10]", order)
	}
}

func TestCallbackMayReschedule(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	s.Schedule(time.Second, func() {
		s.Schedule(time.Second, func() { fired.Add(1) })
	})

	mock.Add(time.Second)
	mock.Add(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("chained task fired %d times, want 1", fired.Load())
	}
}

func TestStopDropsPending(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var fired atomic.Int32
	s.Schedule(time.Second, func() { fired.Add(1) })
	s.Stop()

	mock.Add(2 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("task fired after Stop")
	}
}
