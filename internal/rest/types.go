package rest

import "github.com/rbarbosa/chatsync/internal/wire"

// Response aliases keep the fetch client on the shared wire shapes.
type (
	ConversationsResult = wire.ConversationsPage
	MessagesResult      = wire.MessagesPage
	ConversationResult  = wire.Conversation
)
