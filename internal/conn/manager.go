// Package conn owns the duplex channel lifecycle: authentication at connect
// time, disconnect classification, bounded reconnection, and fail-fast
// outbound sends. Inbound frames are republished on the bus under "remote.";
// nothing here mutates conversation state directly.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/status"
	"github.com/rbarbosa/chatsync/internal/wire"
)

// ErrNotConnected is returned by Send while the channel is down. Sends must
// fail fast, never queue silently.
var ErrNotConnected = errors.New("conn: not connected")

// DisconnectCause classifies why the channel dropped.
type DisconnectCause string

const (
	// CauseServer is a server-initiated close; reconnect immediately.
	CauseServer DisconnectCause = "server"
	// CauseNetwork is a transport failure; reconnect with backoff.
	CauseNetwork DisconnectCause = "network"
)

// Disconnect is the payload of conn.disconnected events.
type Disconnect struct {
	Cause DisconnectCause
}

// Credentials bind the channel to an authenticated user at connect time.
// There is no per-message authentication.
type Credentials struct {
	UserID string
	Token  string
}

// Options tune the reconnection policy.
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Manager owns one duplex channel. The zero value is not usable; construct
// with NewManager and start with Connect.
type Manager struct {
	url     string
	creds   Credentials
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a connection manager for the given channel URL.
func NewManager(url string, creds Credentials, opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	return &Manager{
		url:     url,
		creds:   creds,
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Connect starts the connect/reconnect loop. It returns once the loop is
// running; connection state is observable via conn.* bus events and the
// state machine.
func (m *Manager) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()
	go m.run(ctx)
}

// Disconnect tears the channel down and stops reconnecting.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	ws := m.ws
	done := m.done
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close()
	}
	if done != nil {
		<-done
	}
}

// Connected reports whether the channel is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ws != nil
}

// Send marshals and writes an outbound event. Returns ErrNotConnected
// immediately when the channel is down.
func (m *Manager) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	env := wire.Envelope{Event: event, Data: data}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ws == nil {
		return ErrNotConnected
	}
	if err := m.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// run is the connect/read/reconnect loop. Server-initiated closes reconnect
// immediately; network failures back off exponentially up to MaxAttempts,
// after which the manager surfaces a terminal failed state.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.InitialInterval
	bo.MaxInterval = m.opts.MaxInterval
	bo.MaxElapsedTime = 0
	attempts := 0

	for {
		if ctx.Err() != nil {
			m.transition(status.Disconnected)
			return
		}
		m.transition(status.Connecting)

		ws, err := m.dial(ctx)
		if err != nil {
			attempts++
			m.logger.Warn("connect attempt failed",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", m.opts.MaxAttempts),
				zap.Error(err))
			if attempts >= m.opts.MaxAttempts {
				m.transition(status.Failed)
				m.bus.Publish(bus.Event{Kind: bus.KindConnFailed, Timestamp: time.Now()})
				return
			}
			m.transition(status.Reconnecting)
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				m.transition(status.Disconnected)
				return
			}
			continue
		}

		attempts = 0
		bo.Reset()

		m.mu.Lock()
		m.ws = ws
		m.mu.Unlock()

		m.transition(status.Connected)
		m.logger.Info("channel connected", zap.String("url", m.url))
		m.bus.Publish(bus.Event{Kind: bus.KindConnConnected, Timestamp: time.Now()})

		// Announce presence; the server answers with a full roster snapshot,
		// replacing whatever diffs were lost while disconnected.
		if err := m.Send(wire.EvUpdateStatus, wire.UpdateStatus{Status: "online"}); err != nil {
			m.logger.Warn("presence announce failed", zap.Error(err))
		}

		cause := m.readLoop(ws)

		m.mu.Lock()
		m.ws = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.transition(status.Disconnected)
			return
		}

		m.logger.Warn("channel disconnected", zap.String("cause", string(cause)))
		m.transition(status.Reconnecting)
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnDisconnected,
			Timestamp: time.Now(),
			Payload:   Disconnect{Cause: cause},
		})

		if cause == CauseNetwork {
			attempts++
			if attempts >= m.opts.MaxAttempts {
				m.transition(status.Failed)
				m.bus.Publish(bus.Event{Kind: bus.KindConnFailed, Timestamp: time.Now()})
				return
			}
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				m.transition(status.Disconnected)
				return
			}
		}
	}
}

// dial opens the websocket with credentials bound at connection time.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.creds.Token)
	header.Set("X-User-ID", m.creds.UserID)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, m.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", m.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	return ws, nil
}

// readLoop decodes envelopes and republishes them until the channel drops,
// returning the classified cause.
func (m *Manager) readLoop(ws *websocket.Conn) DisconnectCause {
	for {
		var env wire.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseServiceRestart) {
				return CauseServer
			}
			return CauseNetwork
		}
		if env.Event == "" {
			continue
		}
		m.bus.Publish(bus.Event{
			Kind:      bus.RemoteKind(env.Event),
			Timestamp: time.Now(),
			Payload:   env.Data,
		})
	}
}

func (m *Manager) transition(to status.State) {
	if m.machine == nil {
		return
	}
	if m.machine.Current() == to {
		return
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("state transition skipped", zap.Error(err))
	}
}
