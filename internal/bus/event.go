package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kind namespaces. Inbound channel events are republished under
// "remote." with the wire event name appended; everything else is local.
const (
	// Connection lifecycle.
	KindConnConnected    = "conn.connected"
	KindConnDisconnected = "conn.disconnected"
	KindConnFailed       = "conn.failed"
	KindConnStatus       = "conn.status_changed"

	// Engine output, consumed by the UI layer.
	KindConvLoading   = "engine.conversation_loading"
	KindConvUpdated   = "engine.conversation_updated"
	KindConvListDirty = "engine.conversation_list_dirty"
	KindScrollPlan    = "engine.scroll"
	KindSendFailed    = "engine.send_failed"
	KindLoadFailed    = "engine.load_failed"

	// Ephemeral state changes.
	KindTypingChanged   = "typing.changed"
	KindPresenceChanged = "presence.changed"
)

// RemoteKind returns the bus kind for an inbound wire event name.
func RemoteKind(event string) string {
	return "remote." + event
}
