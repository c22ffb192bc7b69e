package store

import "time"

// Message status values. A message moves sending -> sent or sending -> failed;
// deletion is a tombstone overlay applied after confirmation, never removal.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Message content types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Conversation represents a synced conversation with a single peer.
type Conversation struct {
	ID                 string
	PeerID             string
	PeerName           string
	LastMessagePreview string
	LastActivity       time.Time
	UnreadCount        int
}

// EditInfo marks a message as edited.
type EditInfo struct {
	EditedAt time.Time
}

// DeleteInfo is the tombstone overlay for a deleted message. Content is
// cleared but the record keeps its position so replies stay resolvable.
type DeleteInfo struct {
	DeletedAt time.Time
	DeletedBy string
}

// ReadReceipt records that a user read a message.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message represents a message in the cache. While Optimistic is true the
// ID holds the client-assigned temporary id; reconciliation swaps in the
// server id without moving the message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	Type           string
	CreatedAt      time.Time
	ReplyToID      string
	ClientID       string
	Optimistic     bool
	Status         string
	Edited         *EditInfo
	Deleted        *DeleteInfo
	ReadBy         []ReadReceipt
	Reactions      []Reaction
}

// Tombstone applies the deletion overlay in place.
func (m *Message) Tombstone(at time.Time, by string) {
	m.Content = ""
	m.Deleted = &DeleteInfo{DeletedAt: at, DeletedBy: by}
}

// CacheEntry holds the loaded window of one conversation's messages,
// ordered ascending by CreatedAt and unique by id.
type CacheEntry struct {
	Messages         []Message
	HasMoreOlder     bool
	OldestLoadedPage int
	LastFetchedAt    time.Time
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
