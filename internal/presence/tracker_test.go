package presence

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/wire"
)

func publishAndWait(t *testing.T, b *bus.Bus, kind string, payload any) {
	t.Helper()
	ch, unsub := b.Subscribe("presence.", 16)
	defer unsub()
	b.Publish(bus.Event{Kind: kind, Payload: payload})
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not process event")
	}
}

func startTracker(t *testing.T) (*Tracker, *bus.Bus, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	b := bus.New()
	tr := NewTracker(mock, b, nil)
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr, b, mock
}

func TestRosterSnapshotReplacesWholesale(t *testing.T) {
	tr, b, _ := startTracker(t)

	publishAndWait(t, b, bus.RemoteKind(wire.EvFullRoster), wire.Roster{
		Users: []wire.User{{ID: "u1", IsOnline: true}, {ID: "u2"}},
	})
	if !tr.Online("u1") {
		t.Error("u1 should be online")
	}

	// A second snapshot drops users absent from it.
	publishAndWait(t, b, bus.RemoteKind(wire.EvFullRoster), wire.Roster{
		Users: []wire.User{{ID: "u3", IsOnline: true}},
	})
	if tr.Online("u1") {
		t.Error("u1 should be gone after wholesale replacement")
	}
	if !tr.Online("u3") {
		t.Error("u3 should be online")
	}
}

func TestDiffForUnknownUserInserts(t *testing.T) {
	tr, b, _ := startTracker(t)

	publishAndWait(t, b, bus.RemoteKind(wire.EvStatusChanged), wire.User{ID: "u9", IsOnline: true})
	if !tr.Online("u9") {
		t.Error("diff for unknown user must insert")
	}
}

func TestStatusText(t *testing.T) {
	tr, b, mock := startTracker(t)

	seen := mock.Now().Add(-10 * time.Minute)
	publishAndWait(t, b, bus.RemoteKind(wire.EvFullRoster), wire.Roster{
		Users: []wire.User{
			{ID: "on", IsOnline: true},
			{ID: "recent", LastSeen: &seen},
		},
	})

	if got := tr.StatusText("on"); got != "Online" {
		t.Errorf("online status = %q", got)
	}
	if got := tr.StatusText("recent"); got != "Last seen 10m ago" {
		t.Errorf("recent status = %q", got)
	}
	if got := tr.StatusText("nobody"); got != "Offline" {
		t.Errorf("unknown status = %q", got)
	}
}

func TestSortedOnlineFirstThenLastSeen(t *testing.T) {
	tr, b, mock := startTracker(t)

	t1 := mock.Now().Add(-time.Hour)
	t2 := mock.Now().Add(-time.Minute)
	publishAndWait(t, b, bus.RemoteKind(wire.EvFullRoster), wire.Roster{
		Users: []wire.User{
			{ID: "old-offline", LastSeen: &t1},
			{ID: "online-a", IsOnline: true},
			{ID: "fresh-offline", LastSeen: &t2},
		},
	})

	got := tr.Sorted()
	want := []string{"online-a", "fresh-offline", "old-offline"}
	for i, id := range want {
		if got[i].UserID != id {
			t.Fatalf("position %d = %s, want %s (full order %v)", i, got[i].UserID, id, got)
		}
	}
}
