// Package wire defines the logical event vocabulary of the duplex channel:
// event names and JSON payload shapes. Transport framing is out of scope;
// the connection layer delivers parsed envelopes per connection.
package wire

import (
	"encoding/json"
	"time"
)

// Inbound event names (server to client).
const (
	EvFullRoster     = "full_roster"
	EvStatusChanged  = "status_changed"
	EvTypingStart    = "typing_start"
	EvTypingStop     = "typing_stop"
	EvNewMessage     = "new_message"
	EvMessageSent    = "message_sent"
	EvMessageEdited  = "message_edited"
	EvMessageDeleted = "message_deleted"
	EvReactionAdded  = "reaction_added"
	EvMessageRead    = "message_read"
	EvSendError      = "send_error"
)

// Outbound event names (client to server).
const (
	EvSendMessage   = "send_message"
	EvEditMessage   = "edit_message"
	EvDeleteMessage = "delete_message"
	EvAddReaction   = "add_reaction"
	EvMarkRead      = "mark_messages_read"
	EvUpdateStatus  = "update_status"
	// typing_start / typing_stop are symmetric and reuse the inbound names.
)

// Envelope frames every event on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// User is a roster entry in full_roster and status_changed payloads.
type User struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Roster is the full_roster payload.
type Roster struct {
	Users []User `json:"users"`
}

// Typing is the payload for typing_start and typing_stop, both directions.
// Inbound, UserID identifies the typist; outbound, the server derives the
// typist from the connection and RecipientID addresses the peer.
type Typing struct {
	UserID         string `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	ConversationID string `json:"conversation_id"`
	RecipientID    string `json:"recipient_id,omitempty"`
}

// EditInfo marks a message as edited.
type EditInfo struct {
	EditedAt time.Time `json:"edited_at"`
}

// DeleteInfo is the tombstone overlay for a deleted message.
type DeleteInfo struct {
	DeletedAt time.Time `json:"deleted_at"`
	DeletedBy string    `json:"deleted_by"`
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is the wire shape for new_message, message_sent, message_edited
// and message_deleted payloads. ClientID is the client-assigned correlation
// id echoed back on the message_sent acknowledgment path.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	SenderName     string        `json:"sender_name,omitempty"`
	Content        string        `json:"content"`
	Type           string        `json:"type"`
	CreatedAt      time.Time     `json:"created_at"`
	ReplyToID      string        `json:"reply_to_id,omitempty"`
	ClientID       string        `json:"client_id,omitempty"`
	Edited         *EditInfo     `json:"edited,omitempty"`
	Deleted        *DeleteInfo   `json:"deleted,omitempty"`
	ReadBy         []ReadReceipt `json:"read_by,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
}

// SendMessage is the outbound send_message payload.
type SendMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	ClientID       string `json:"client_id"`
	FileData       string `json:"file_data,omitempty"`
}

// SendError is the inbound payload when a send is rejected by the server.
type SendError struct {
	ClientID       string `json:"client_id"`
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

// EditMessage is the outbound edit_message payload.
type EditMessage struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteMessage is the outbound delete_message payload.
type DeleteMessage struct {
	MessageID string `json:"message_id"`
}

// AddReaction is the outbound add_reaction payload.
type AddReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// ReactionAdded is the inbound reaction_added payload.
type ReactionAdded struct {
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	Reaction       Reaction `json:"reaction"`
}

// MarkRead is the outbound mark_messages_read payload.
type MarkRead struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids,omitempty"`
}

// MessagesRead is the inbound message_read payload: the peer has read
// the listed messages.
type MessagesRead struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// UpdateStatus is the outbound update_status payload. Sending it on
// (re)connect also prompts the server to reply with a full_roster snapshot.
type UpdateStatus struct {
	Status string `json:"status"`
}
