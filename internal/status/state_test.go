package status

import (
	"testing"

	"github.com/rbarbosa/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		walk []State
	}{
		{[]State{Connecting, Connected}},
		{[]State{Connecting, Connected, Reconnecting, Connecting}},
		{[]State{Connecting, Reconnecting, Failed, Connecting}},
		{[]State{Connecting, Connected, Disconnected}},
		{[]State{Connecting, Failed}},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, to := range tt.walk {
			if err := m.Transition(to); err != nil {
				t.Fatalf("walk %v: Transition(%s) from %s error = %v", tt.walk, to, m.Current(), err)
			}
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail; must go through CONNECTING")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED (should not have changed)", m.Current())
	}
}

func TestFailedRequiresManualReconnect(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Connecting)
	_ = m.Transition(Failed)

	if err := m.Transition(Reconnecting); err == nil {
		t.Fatal("Transition(FAILED -> RECONNECTING) should fail")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("Transition(FAILED -> CONNECTING) error = %v", err)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStatus {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConnStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}
