package store

import (
	"database/sql"
	"time"
)

// SearchMessages performs a full-text search on message content in the
// persisted tier.
func (db *DB) SearchMessages(query string, convID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.conversation_id, m.msg_id, m.client_id, m.sender_id, m.sender_name, m.content,
		       m.message_type, m.status, m.reply_to_id, m.edited_at, m.deleted_at, m.deleted_by,
		       m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if convID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, convID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var createdAt int64
		var editedAt, deletedAt sql.NullInt64
		var deletedBy string
		if err := rows.Scan(
			&r.Message.ConversationID, &r.Message.ID, &r.Message.ClientID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.Content,
			&r.Message.Type, &r.Message.Status, &r.Message.ReplyToID,
			&editedAt, &deletedAt, &deletedBy,
			&createdAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.CreatedAt = time.UnixMilli(createdAt)
		if editedAt.Valid {
			r.Message.Edited = &EditInfo{EditedAt: time.UnixMilli(editedAt.Int64)}
		}
		if deletedAt.Valid {
			r.Message.Deleted = &DeleteInfo{DeletedAt: time.UnixMilli(deletedAt.Int64), DeletedBy: deletedBy}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
