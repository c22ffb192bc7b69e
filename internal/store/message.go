package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id
// + msg_id). Optimistic messages persist under their client id until
// reconciliation rewrites them via ReplaceMessageID.
func (db *DB) UpsertMessage(m *Message) error {
	readBy, err := json.Marshal(m.ReadBy)
	if err != nil {
		return err
	}
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return err
	}

	var editedAt, deletedAt any
	var deletedBy string
	if m.Edited != nil {
		editedAt = m.Edited.EditedAt.UnixMilli()
	}
	if m.Deleted != nil {
		deletedAt = m.Deleted.DeletedAt.UnixMilli()
		deletedBy = m.Deleted.DeletedBy
	}

	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, client_id, sender_id, sender_name, content, message_type, status, reply_to_id, edited_at, deleted_at, deleted_by, read_by, reactions, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			status = excluded.status,
			edited_at = excluded.edited_at,
			deleted_at = excluded.deleted_at,
			deleted_by = excluded.deleted_by,
			read_by = excluded.read_by,
			reactions = excluded.reactions`,
		m.ConversationID, m.ID, m.ClientID, m.SenderID, m.SenderName, m.Content,
		m.Type, m.Status, m.ReplyToID, editedAt, deletedAt, deletedBy,
		string(readBy), string(reactions), m.CreatedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// ReplaceMessageID rewrites a reconciled message under its server id,
// dropping the row stored under the client-assigned temporary id.
func (db *DB) ReplaceMessageID(convID, tempID string, m *Message) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, convID, tempID); err != nil {
		return err
	}
	return db.UpsertMessage(m)
}

// ListMessages returns messages for a conversation using keyset pagination
// by created_at: up to limit messages strictly older than before, newest
// first. Pass zero time for the latest window.
func (db *DB) ListMessages(convID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := before.UnixMilli()
	if before.IsZero() {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, client_id, sender_id, sender_name, content, message_type, status, reply_to_id, edited_at, deleted_at, deleted_by, read_by, reactions, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, convID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message, or sql.ErrNoRows.
func (db *DB) GetMessage(convID, msgID string) (Message, error) {
	row := db.QueryRow(`
		SELECT conversation_id, msg_id, client_id, sender_id, sender_name, content, message_type, status, reply_to_id, edited_at, deleted_at, deleted_by, read_by, reactions, created_at
		FROM messages
		WHERE conversation_id = ? AND msg_id = ?`, convID, msgID)
	return scanMessage(row)
}

// MarkMessageFailed flips a message to failed status, matching either the
// server id or the client correlation id.
func (db *DB) MarkMessageFailed(convID, id string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND (msg_id = ? OR client_id = ?)`,
		StatusFailed, convID, id, id)
	return err
}

// AppendReaction adds a reaction to a persisted message. A reaction from the
// same user with the same emoji is ignored, keeping the patch idempotent.
func (db *DB) AppendReaction(convID, msgID string, r Reaction) error {
	m, err := db.GetMessage(convID, msgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	for _, have := range m.Reactions {
		if have.UserID == r.UserID && have.Emoji == r.Emoji {
			return nil
		}
	}
	m.Reactions = append(m.Reactions, r)
	return db.UpsertMessage(&m)
}

// AppendReadReceipt records that a user read a persisted message.
func (db *DB) AppendReadReceipt(convID, msgID string, rr ReadReceipt) error {
	m, err := db.GetMessage(convID, msgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	for _, have := range m.ReadBy {
		if have.UserID == rr.UserID {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, rr)
	return db.UpsertMessage(&m)
}

// FailStaleSending marks any message still in sending status as failed.
// Called once on session start: an unacknowledged send from a previous
// process must never reappear as sending.
func (db *DB) FailStaleSending() (int64, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE status = ?`, StatusFailed, StatusSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var createdAt int64
	var editedAt, deletedAt sql.NullInt64
	var deletedBy string
	var readBy, reactions string
	if err := row.Scan(&m.ConversationID, &m.ID, &m.ClientID, &m.SenderID,
		&m.SenderName, &m.Content, &m.Type, &m.Status, &m.ReplyToID,
		&editedAt, &deletedAt, &deletedBy, &readBy, &reactions, &createdAt); err != nil {
		return Message{}, err
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	if editedAt.Valid {
		m.Edited = &EditInfo{EditedAt: time.UnixMilli(editedAt.Int64)}
	}
	if deletedAt.Valid {
		m.Deleted = &DeleteInfo{DeletedAt: time.UnixMilli(deletedAt.Int64), DeletedBy: deletedBy}
	}
	if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
		return Message{}, err
	}
	if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
		return Message{}, err
	}
	return m, nil
}
