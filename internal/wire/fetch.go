package wire

import "time"

// Conversation is the fetch-side conversation shape.
type Conversation struct {
	ID           string    `json:"id"`
	Participant  User      `json:"participant"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	UnreadCount  int       `json:"unread_count"`
}

// ConversationsPage is the getConversations response.
type ConversationsPage struct {
	Conversations []Conversation `json:"conversations"`
	HasNext       bool           `json:"has_next"`
}

// MessagesPage is the getMessages response. Messages arrive newest-first;
// the engine reverses into ascending order before caching.
type MessagesPage struct {
	Messages []Message `json:"messages"`
	HasNext  bool      `json:"has_next"`
}
