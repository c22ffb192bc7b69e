package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record. LastActivity
// only ever moves forward so a late replay cannot demote a conversation.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, last_message_preview, last_activity, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			last_message_preview = CASE WHEN excluded.last_activity >= conversations.last_activity THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.PeerID, c.PeerName, c.LastMessagePreview, c.LastActivity.UnixMilli(), c.UnreadCount, now)
	return err
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, peer_id, peer_name, last_message_preview, last_activity, unread_count
		FROM conversations
		ORDER BY last_activity DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT id, peer_id, peer_name, last_message_preview, last_activity, unread_count
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetEntryMeta persists the cache entry's pagination and freshness metadata,
// creating a skeleton conversation row if none exists yet.
func (db *DB) SetEntryMeta(convID string, hasMoreOlder bool, oldestPage int, fetchedAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, peer_id, peer_name, last_message_preview, last_activity, unread_count, has_more_older, oldest_loaded_page, last_fetched_at, updated_at)
		VALUES (?, '', '', '', 0, 0, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			has_more_older = excluded.has_more_older,
			oldest_loaded_page = excluded.oldest_loaded_page,
			last_fetched_at = excluded.last_fetched_at`,
		convID, boolToInt(hasMoreOlder), oldestPage, fetchedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// EntryMeta reads back the persisted pagination and freshness metadata.
func (db *DB) EntryMeta(convID string) (hasMoreOlder bool, oldestPage int, fetchedAt time.Time, err error) {
	var more int
	var fetched int64
	err = db.QueryRow(`
		SELECT has_more_older, oldest_loaded_page, last_fetched_at
		FROM conversations WHERE id = ?`, convID).Scan(&more, &oldestPage, &fetched)
	if err == sql.ErrNoRows {
		return false, 0, time.Time{}, nil
	}
	if err != nil {
		return false, 0, time.Time{}, err
	}
	return more != 0, oldestPage, time.UnixMilli(fetched), nil
}

// EvictConversations enforces the persisted bound: conversations beyond
// maxConvs, ordered by oldest last_fetched_at, are removed together with
// their messages. Returns the number of evicted conversations.
func (db *DB) EvictConversations(maxConvs int) (int, error) {
	rows, err := db.Query(`
		SELECT id FROM conversations
		ORDER BY last_fetched_at DESC
		LIMIT -1 OFFSET ?`, maxConvs)
	if err != nil {
		return 0, err
	}
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		victims = append(victims, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range victims {
		if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return 0, err
		}
		if _, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var activity int64
	if err := row.Scan(&c.ID, &c.PeerID, &c.PeerName, &c.LastMessagePreview, &activity, &c.UnreadCount); err != nil {
		return Conversation{}, err
	}
	c.LastActivity = time.UnixMilli(activity)
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
