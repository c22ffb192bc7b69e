package conn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/status"
	"github.com/rbarbosa/chatsync/internal/wire"
)

var upgrader = websocket.Upgrader{}

// fakeServer runs handler for each accepted websocket connection.
func fakeServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testManager(t *testing.T, url string, b *bus.Bus, opts Options) *Manager {
	t.Helper()
	m := NewManager(url, Credentials{UserID: "u1", Token: "tok"}, opts, b, status.NewMachine(b), zap.NewNop())
	t.Cleanup(m.Disconnect)
	return m
}

func waitFor(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestConnectAuthenticatesAndAnnounces(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := fakeServer(t, func(ws *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		// First outbound frame must be the presence announce.
		var env wire.Envelope
		if err := ws.ReadJSON(&env); err == nil && env.Event != wire.EvUpdateStatus {
			t.Errorf("first frame = %q, want update_status", env.Event)
		}
		_ = ws.Close()
	})

	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 32)
	defer unsub()

	m := testManager(t, wsURL(srv), b, Options{})
	m.Connect(context.Background())

	waitFor(t, ch, bus.KindConnConnected)
	if auth := <-gotAuth; auth != "Bearer tok" {
		t.Errorf("auth header = %q, want Bearer tok", auth)
	}
}

func TestInboundFramesRepublished(t *testing.T) {
	srv := fakeServer(t, func(ws *websocket.Conn, r *http.Request) {
		data, _ := json.Marshal(wire.Typing{UserID: "u2", ConversationID: "c1"})
		_ = ws.WriteJSON(wire.Envelope{Event: wire.EvTypingStart, Data: data})
		select {} // hold the connection open
	})

	b := bus.New()
	ch, unsub := b.Subscribe("remote.", 32)
	defer unsub()

	m := testManager(t, wsURL(srv), b, Options{})
	m.Connect(context.Background())

	evt := waitFor(t, ch, "remote.typing_start")
	raw, ok := evt.Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("payload type = %T, want json.RawMessage", evt.Payload)
	}
	var typing wire.Typing
	if err := json.Unmarshal(raw, &typing); err != nil {
		t.Fatal(err)
	}
	if typing.UserID != "u2" {
		t.Errorf("user = %q, want u2", typing.UserID)
	}
}

func TestSendFailsFastWhenDisconnected(t *testing.T) {
	b := bus.New()
	m := testManager(t, "ws://127.0.0.1:1/ws", b, Options{})

	err := m.Send(wire.EvSendMessage, wire.SendMessage{Content: "hi"})
	if err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestServerCloseTriggersImmediateReconnect(t *testing.T) {
	conns := make(chan struct{}, 4)
	srv := fakeServer(t, func(ws *websocket.Conn, r *http.Request) {
		conns <- struct{}{}
		// Server-initiated clean close.
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			time.Now().Add(time.Second))
		_ = ws.Close()
	})

	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 64)
	defer unsub()

	m := testManager(t, wsURL(srv), b, Options{MaxAttempts: 3})
	m.Connect(context.Background())

	evt := waitFor(t, ch, bus.KindConnDisconnected)
	if d := evt.Payload.(Disconnect); d.Cause != CauseServer {
		t.Errorf("cause = %q, want server", d.Cause)
	}

	// An immediate second connection proves reconnect without backoff stall.
	select {
	case <-conns:
	case <-time.After(time.Second):
		t.Fatal("no initial connection")
	}
	select {
	case <-conns:
	case <-time.After(time.Second):
		t.Fatal("no immediate reconnect after server close")
	}
}

func TestBoundedRetriesThenFailed(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 64)
	defer unsub()

	// Nothing listens here; every dial fails at the network level.
	m := testManager(t, "ws://127.0.0.1:1/ws", b, Options{
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	})
	m.Connect(context.Background())

	waitFor(t, ch, bus.KindConnFailed)
	if m.Connected() {
		t.Error("manager reports connected after terminal failure")
	}
}
