// Package presence maintains the online/offline/last-seen roster from full
// snapshots plus incremental diffs. It observes the bus and never touches
// the conversation store.
package presence

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/wire"
)

// Entry is one user's presence state.
type Entry struct {
	UserID   string
	Username string
	Online   bool
	LastSeen time.Time
}

// Tracker consumes full_roster and status_changed events. A snapshot
// replaces the roster wholesale; a diff replaces one entry, inserting if
// the user was previously unknown.
type Tracker struct {
	clk    clock.Clock
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	roster map[string]Entry

	unsub func()
}

// NewTracker creates an empty tracker.
func NewTracker(clk clock.Clock, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		clk:    clk,
		bus:    b,
		logger: logger,
		roster: make(map[string]Entry),
	}
}

// Start subscribes to inbound presence events.
func (t *Tracker) Start() {
	ch, unsub := t.bus.Subscribe("remote.", 128)
	t.unsub = unsub
	go func() {
		for evt := range ch {
			switch evt.Kind {
			case bus.RemoteKind(wire.EvFullRoster):
				t.handleRoster(evt.Payload)
			case bus.RemoteKind(wire.EvStatusChanged):
				t.handleDiff(evt.Payload)
			}
		}
	}()
}

// Stop unsubscribes from the bus.
func (t *Tracker) Stop() {
	if t.unsub != nil {
		t.unsub()
	}
}

func (t *Tracker) handleRoster(payload any) {
	var roster wire.Roster
	if !decode(payload, &roster, t.logger, "full_roster") {
		return
	}
	next := make(map[string]Entry, len(roster.Users))
	for _, u := range roster.Users {
		next[u.ID] = toEntry(u)
	}
	t.mu.Lock()
	t.roster = next
	t.mu.Unlock()
	t.bus.Publish(bus.Event{Kind: bus.KindPresenceChanged, Timestamp: t.clk.Now()})
}

func (t *Tracker) handleDiff(payload any) {
	var u wire.User
	if !decode(payload, &u, t.logger, "status_changed") {
		return
	}
	t.mu.Lock()
	// Unknown users are inserted, not dropped.
	t.roster[u.ID] = toEntry(u)
	t.mu.Unlock()
	t.bus.Publish(bus.Event{Kind: bus.KindPresenceChanged, Timestamp: t.clk.Now(), Payload: u.ID})
}

// Online reports whether the user is currently online.
func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roster[userID].Online
}

// StatusText derives the display status: "Online", a humanized relative
// last-seen time, or "Offline" when last-seen is unknown.
func (t *Tracker) StatusText(userID string) string {
	t.mu.RLock()
	e, ok := t.roster[userID]
	t.mu.RUnlock()
	if !ok || (!e.Online && e.LastSeen.IsZero()) {
		return "Offline"
	}
	if e.Online {
		return "Online"
	}
	return "Last seen " + humanize(t.clk.Now().Sub(e.LastSeen))
}

// Sorted returns the roster for display: online users first, ties broken by
// most recent last-seen descending, then by user id for stability.
func (t *Tracker) Sorted() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.roster))
	for _, e := range t.roster {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func toEntry(u wire.User) Entry {
	e := Entry{UserID: u.ID, Username: u.Username, Online: u.IsOnline}
	if u.LastSeen != nil {
		e.LastSeen = *u.LastSeen
	}
	return e
}

func humanize(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		n := int(d.Minutes())
		return fmt.Sprintf("%dm ago", n)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// decode unwraps a bus payload that may be raw JSON from the channel or an
// already-typed value from a local publisher (tests).
func decode[T any](payload any, out *T, logger *zap.Logger, what string) bool {
	switch v := payload.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(v, out); err != nil {
			if logger != nil {
				logger.Warn("malformed payload", zap.String("event", what), zap.Error(err))
			}
			return false
		}
		return true
	case T:
		*out = v
		return true
	case *T:
		*out = *v
		return true
	default:
		if logger != nil {
			logger.Warn("unexpected payload type", zap.String("event", what))
		}
		return false
	}
}
