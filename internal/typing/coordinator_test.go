package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/clockwork"
	"github.com/rbarbosa/chatsync/internal/wire"
)

type fakeSender struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSender) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newCoordinator(t *testing.T) (*Coordinator, *fakeSender, *clock.Mock, *bus.Bus) {
	t.Helper()
	mock := clock.NewMock()
	sched := clockwork.NewScheduler(mock)
	sender := &fakeSender{}
	b := bus.New()
	c := NewCoordinator(sched, sender, b, Windows{
		Debounce:     50 * time.Millisecond,
		IdleStop:     3 * time.Second,
		RemoteExpiry: 5 * time.Second,
	}, nil)
	t.Cleanup(c.Stop)
	return c, sender, mock, b
}

func TestRapidLocalSignalsCoalesce(t *testing.T) {
	c, sender, mock, _ := newCoordinator(t)

	// Five keystrokes within the debounce window.
	for i := 0; i < 5; i++ {
		c.NotifyLocalActivity("c1", "u2")
		mock.Add(5 * time.Millisecond)
	}

	if got := sender.sent(); len(got) != 1 || got[0] != wire.EvTypingStart {
		t.Errorf("sent = %v, want single typing_start", got)
	}
}

func TestSustainedTypingReEmitsStart(t *testing.T) {
	c, sender, mock, _ := newCoordinator(t)

	c.NotifyLocalActivity("c1", "u2")
	mock.Add(60 * time.Millisecond)
	c.NotifyLocalActivity("c1", "u2")

	if got := sender.sent(); len(got) != 2 {
		t.Errorf("sent = %v, want two typing_start after debounce elapsed", got)
	}
}

func TestIdleAutoStop(t *testing.T) {
	c, sender, mock, _ := newCoordinator(t)

	c.NotifyLocalActivity("c1", "u2")
	mock.Add(3 * time.Second)

	got := sender.sent()
	if len(got) != 2 || got[1] != wire.EvTypingStop {
		t.Errorf("sent = %v, want [typing_start typing_stop]", got)
	}
}

func TestExplicitStopCancelsIdleTimer(t *testing.T) {
	c, sender, mock, _ := newCoordinator(t)

	c.NotifyLocalActivity("c1", "u2")
	c.StopLocal("c1", "u2")
	mock.Add(10 * time.Second)

	got := sender.sent()
	if len(got) != 2 {
		t.Errorf("sent = %v, idle timer should not fire a second stop", got)
	}
}

func TestStopWithoutTypingIsNoop(t *testing.T) {
	c, sender, _, _ := newCoordinator(t)

	c.StopLocal("c1", "u2")
	if got := sender.sent(); len(got) != 0 {
		t.Errorf("sent = %v, want none", got)
	}
}

func waitTypingChanged(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no typing.changed event")
	}
}

func TestRemoteStartAndExplicitStop(t *testing.T) {
	c, _, _, b := newCoordinator(t)
	c.Start()

	ch, unsub := b.Subscribe("typing.", 16)
	defer unsub()

	b.Publish(bus.Event{Kind: bus.RemoteKind(wire.EvTypingStart), Payload: wire.Typing{UserID: "u2", Username: "alice", ConversationID: "c1"}})
	waitTypingChanged(t, ch)

	typists := c.Typists("c1")
	if len(typists) != 1 || typists[0].Username != "alice" {
		t.Fatalf("typists = %+v", typists)
	}

	b.Publish(bus.Event{Kind: bus.RemoteKind(wire.EvTypingStop), Payload: wire.Typing{UserID: "u2", ConversationID: "c1"}})
	waitTypingChanged(t, ch)

	if got := c.Typists("c1"); len(got) != 0 {
		t.Errorf("typists after stop = %+v, want none", got)
	}
}

func TestRemoteEntryExpiresWithoutStop(t *testing.T) {
	c, _, mock, b := newCoordinator(t)
	c.Start()

	ch, unsub := b.Subscribe("typing.", 16)
	defer unsub()

	b.Publish(bus.Event{Kind: bus.RemoteKind(wire.EvTypingStart), Payload: wire.Typing{UserID: "u2", ConversationID: "c1"}})
	waitTypingChanged(t, ch)

	// No typing_stop ever arrives; the expiry alone must remove the entry.
	mock.Add(5 * time.Second)
	waitTypingChanged(t, ch)

	if got := c.Typists("c1"); len(got) != 0 {
		t.Errorf("typists after expiry = %+v, want none", got)
	}
}

func TestRemoteRestartRearmsExpiry(t *testing.T) {
	c, _, mock, b := newCoordinator(t)
	c.Start()

	ch, unsub := b.Subscribe("typing.", 16)
	defer unsub()

	b.Publish(bus.Event{Kind: bus.RemoteKind(wire.EvTypingStart), Payload: wire.Typing{UserID: "u2", ConversationID: "c1"}})
	waitTypingChanged(t, ch)

	mock.Add(4 * time.Second)
	b.Publish(bus.Event{Kind: bus.RemoteKind(wire.EvTypingStart), Payload: wire.Typing{UserID: "u2", ConversationID: "c1"}})
	waitTypingChanged(t, ch)

	// Old expiry deadline passes; the refreshed entry must survive.
	mock.Add(2 * time.Second)
	if got := c.Typists("c1"); len(got) != 1 {
		t.Errorf("typists = %+v, want refreshed entry alive", got)
	}
}
