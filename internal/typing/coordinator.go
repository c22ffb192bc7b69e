// Package typing debounces and batches local typing signals and expires
// remote typing state after inactivity. Expiry runs off the shared
// scheduler so lost typing_stop events self-heal without wall-clock waits
// in tests.
package typing

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/clockwork"
	"github.com/rbarbosa/chatsync/internal/wire"
)

// Sender is the outbound side of the duplex channel.
type Sender interface {
	Send(event string, payload any) error
}

// Entry is one remote peer's typing state.
type Entry struct {
	UserID         string
	Username       string
	ConversationID string
	LastSignalAt   time.Time
}

// Windows tune the coordinator.
type Windows struct {
	// Debounce coalesces rapid local signals into one outbound start.
	Debounce time.Duration
	// IdleStop auto-emits stop after local inactivity.
	IdleStop time.Duration
	// RemoteExpiry removes a remote entry even without an explicit stop.
	RemoteExpiry time.Duration
}

// Coordinator owns local outbound typing signalling and the remote
// TypingState map.
type Coordinator struct {
	sched   *clockwork.Scheduler
	sender  Sender
	bus     *bus.Bus
	logger  *zap.Logger
	windows Windows

	mu     sync.Mutex
	local  map[string]*localState // by conversation id
	remote map[string]*remoteState // by user id
	unsub  func()
}

type localState struct {
	peerID     string
	lastEmit   time.Time
	cancelIdle func()
}

type remoteState struct {
	entry        Entry
	cancelExpiry func()
}

// NewCoordinator creates a coordinator with the given windows.
func NewCoordinator(sched *clockwork.Scheduler, sender Sender, b *bus.Bus, windows Windows, logger *zap.Logger) *Coordinator {
	if windows.Debounce <= 0 {
		windows.Debounce = 50 * time.Millisecond
	}
	if windows.IdleStop <= 0 {
		windows.IdleStop = 3 * time.Second
	}
	if windows.RemoteExpiry <= 0 {
		windows.RemoteExpiry = 5 * time.Second
	}
	return &Coordinator{
		sched:   sched,
		sender:  sender,
		bus:     b,
		logger:  logger,
		windows: windows,
		local:   make(map[string]*localState),
		remote:  make(map[string]*remoteState),
	}
}

// Start subscribes to remote typing events.
func (c *Coordinator) Start() {
	ch, unsub := c.bus.Subscribe("remote.typing", 128)
	c.unsub = unsub
	go func() {
		for evt := range ch {
			var t wire.Typing
			if !decodeTyping(evt.Payload, &t) {
				continue
			}
			switch evt.Kind {
			case bus.RemoteKind(wire.EvTypingStart):
				c.remoteStart(t)
			case bus.RemoteKind(wire.EvTypingStop):
				c.remoteStop(t.UserID)
			}
		}
	}()
}

// Stop unsubscribes and clears all pending timers.
func (c *Coordinator) Stop() {
	if c.unsub != nil {
		c.unsub()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ls := range c.local {
		if ls.cancelIdle != nil {
			ls.cancelIdle()
		}
	}
	for _, rs := range c.remote {
		if rs.cancelExpiry != nil {
			rs.cancelExpiry()
		}
	}
	c.local = make(map[string]*localState)
	c.remote = make(map[string]*remoteState)
}

// NotifyLocalActivity is called on every local input change. The first
// signal emits typing_start; bursts within the debounce window are
// coalesced. The idle timer re-arms on every call and auto-emits stop,
// guarding against stuck typing state on the peer's side.
func (c *Coordinator) NotifyLocalActivity(convID, peerID string) {
	c.mu.Lock()
	ls, typing := c.local[convID]
	now := c.sched.Clock().Now()
	emit := !typing || now.Sub(ls.lastEmit) >= c.windows.Debounce
	if !typing {
		ls = &localState{peerID: peerID}
		c.local[convID] = ls
	}
	if emit {
		ls.lastEmit = now
	}
	if ls.cancelIdle != nil {
		ls.cancelIdle()
	}
	ls.cancelIdle = c.sched.Schedule(c.windows.IdleStop, func() {
		c.StopLocal(convID, peerID)
	})
	c.mu.Unlock()

	if emit {
		c.send(wire.EvTypingStart, convID, peerID)
	}
}

// StopLocal is called on submit, blur or input clear; it emits typing_stop
// and cancels the idle timer. No-op when not typing.
func (c *Coordinator) StopLocal(convID, peerID string) {
	c.mu.Lock()
	ls, typing := c.local[convID]
	if typing {
		if ls.cancelIdle != nil {
			ls.cancelIdle()
		}
		delete(c.local, convID)
	}
	c.mu.Unlock()

	if typing {
		c.send(wire.EvTypingStop, convID, peerID)
	}
}

// Typists returns the remote peers currently typing in a conversation.
func (c *Coordinator) Typists(convID string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, rs := range c.remote {
		if rs.entry.ConversationID == convID {
			out = append(out, rs.entry)
		}
	}
	return out
}

// remoteStart inserts or refreshes a peer's entry and re-arms its expiry.
// Expiry removal requires no further event: this is the self-healing path
// for dropped typing_stop.
func (c *Coordinator) remoteStart(t wire.Typing) {
	c.mu.Lock()
	if rs, ok := c.remote[t.UserID]; ok && rs.cancelExpiry != nil {
		rs.cancelExpiry()
	}
	rs := &remoteState{
		entry: Entry{
			UserID:         t.UserID,
			Username:       t.Username,
			ConversationID: t.ConversationID,
			LastSignalAt:   c.sched.Clock().Now(),
		},
	}
	rs.cancelExpiry = c.sched.Schedule(c.windows.RemoteExpiry, func() {
		c.remoteStop(t.UserID)
	})
	c.remote[t.UserID] = rs
	c.mu.Unlock()

	c.publishChanged(t.ConversationID)
}

// remoteStop removes the entry immediately, cancelling any pending expiry.
func (c *Coordinator) remoteStop(userID string) {
	c.mu.Lock()
	rs, ok := c.remote[userID]
	var convID string
	if ok {
		if rs.cancelExpiry != nil {
			rs.cancelExpiry()
		}
		convID = rs.entry.ConversationID
		delete(c.remote, userID)
	}
	c.mu.Unlock()

	if ok {
		c.publishChanged(convID)
	}
}

func (c *Coordinator) send(event, convID, peerID string) {
	err := c.sender.Send(event, wire.Typing{ConversationID: convID, RecipientID: peerID})
	if err != nil && c.logger != nil {
		c.logger.Debug("typing signal dropped", zap.String("event", event), zap.Error(err))
	}
}

func decodeTyping(payload any, out *wire.Typing) bool {
	switch v := payload.(type) {
	case json.RawMessage:
		return json.Unmarshal(v, out) == nil
	case wire.Typing:
		*out = v
		return true
	case *wire.Typing:
		*out = *v
		return true
	default:
		return false
	}
}

func (c *Coordinator) publishChanged(convID string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.KindTypingChanged,
		Timestamp: c.sched.Clock().Now(),
		Payload:   convID,
	})
}
