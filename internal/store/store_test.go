package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; running again must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{ID: "c1", PeerID: "u2", PeerName: "Alice", LastMessagePreview: "hello", LastActivity: time.UnixMilli(1000)}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	conv.PeerName = "Alice Updated"
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].PeerName != "Alice Updated" {
		t.Errorf("peer name = %q, want Alice Updated", convs[0].PeerName)
	}
}

func TestConversationListOrderedByActivity(t *testing.T) {
	db := testDB(t)

	for _, c := range []Conversation{
		{ID: "c1", LastActivity: time.UnixMilli(1000)},
		{ID: "c2", LastActivity: time.UnixMilli(3000)},
		{ID: "c3", LastActivity: time.UnixMilli(2000)},
	} {
		conv := c
		if err := db.UpsertConversation(&conv); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c2", "c3", "c1"}
	for i, id := range want {
		if convs[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, convs[i].ID, id)
		}
	}
}

func TestLastActivityNeverMovesBackward(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", LastActivity: time.UnixMilli(5000), LastMessagePreview: "new"}); err != nil {
		t.Fatal(err)
	}
	// A replayed older event must not demote the conversation.
	if err := db.UpsertConversation(&Conversation{ID: "c1", LastActivity: time.UnixMilli(1000), LastMessagePreview: "old"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastActivity.UnixMilli() != 5000 {
		t.Errorf("last activity = %d, want 5000", c.LastActivity.UnixMilli())
	}
	if c.LastMessagePreview != "new" {
		t.Errorf("preview = %q, want new", c.LastMessagePreview)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ConversationID: "c1", ID: "m1", Content: "hello", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(1000)}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Content != "hello updated" {
		t.Errorf("content = %q, want hello updated", msgs[0].Content)
	}
}

func TestMessageOverlaysRoundTrip(t *testing.T) {
	db := testDB(t)

	msg := &Message{
		ConversationID: "c1", ID: "m1", Content: "", Type: TypeText,
		Status: StatusSent, CreatedAt: time.UnixMilli(1000),
		Edited:    &EditInfo{EditedAt: time.UnixMilli(2000)},
		Deleted:   &DeleteInfo{DeletedAt: time.UnixMilli(3000), DeletedBy: "u2"},
		ReadBy:    []ReadReceipt{{UserID: "u2", ReadAt: time.UnixMilli(1500)}},
		Reactions: []Reaction{{UserID: "u2", Emoji: "👍"}},
	}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	got := msgs[0]
	if got.Edited == nil || got.Edited.EditedAt.UnixMilli() != 2000 {
		t.Errorf("edited = %+v", got.Edited)
	}
	if got.Deleted == nil || got.Deleted.DeletedBy != "u2" {
		t.Errorf("deleted = %+v", got.Deleted)
	}
	if len(got.ReadBy) != 1 || got.ReadBy[0].UserID != "u2" {
		t.Errorf("read_by = %+v", got.ReadBy)
	}
	if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "👍" {
		t.Errorf("reactions = %+v", got.Reactions)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)

	for i := 1; i <= 5; i++ {
		m := &Message{ConversationID: "c1", ID: string(rune('a' + i)), Content: "x", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(int64(i * 1000))}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("c1", time.UnixMilli(4000), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages, want 2", len(page))
	}
	// Newest first, strictly older than the cursor.
	if page[0].CreatedAt.UnixMilli() != 3000 || page[1].CreatedAt.UnixMilli() != 2000 {
		t.Errorf("page timestamps = %d, %d", page[0].CreatedAt.UnixMilli(), page[1].CreatedAt.UnixMilli())
	}
}

func TestReplaceMessageID(t *testing.T) {
	db := testDB(t)

	staged := &Message{ConversationID: "c1", ID: "tmp-1", ClientID: "tmp-1", Content: "hi", Type: TypeText, Status: StatusSending, CreatedAt: time.UnixMilli(1000)}
	if err := db.UpsertMessage(staged); err != nil {
		t.Fatal(err)
	}

	confirmed := &Message{ConversationID: "c1", ID: "m99", ClientID: "tmp-1", Content: "hi", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(1050)}
	if err := db.ReplaceMessageID("c1", "tmp-1", confirmed); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1 after reconcile", len(msgs))
	}
	if msgs[0].ID != "m99" || msgs[0].Status != StatusSent {
		t.Errorf("got %+v, want m99/sent", msgs[0])
	}
}

func TestFailStaleSending(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "c1", ID: "tmp-1", Content: "x", Type: TypeText, Status: StatusSending, CreatedAt: time.UnixMilli(1000)}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "c1", ID: "m1", Content: "y", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(2000)}); err != nil {
		t.Fatal(err)
	}

	n, err := db.FailStaleSending()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("failed %d messages, want 1", n)
	}

	msgs, _ := db.ListMessages("c1", time.Time{}, 10)
	for _, m := range msgs {
		if m.Status == StatusSending {
			t.Errorf("message %s still sending after FailStaleSending", m.ID)
		}
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "c1", ID: "m1", Content: "hello world", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(1000)}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "c1", ID: "m2", Content: "goodbye world", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(2000)}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.ID != "m1" {
		t.Errorf("id = %q, want m1", results[0].Message.ID)
	}
}

func TestEvictConversations(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"c1", "c2", "c3"} {
		if err := db.UpsertConversation(&Conversation{ID: id, LastActivity: time.UnixMilli(int64(i) * 1000)}); err != nil {
			t.Fatal(err)
		}
		if err := db.SetEntryMeta(id, false, 1, time.UnixMilli(int64(i+1)*1000)); err != nil {
			t.Fatal(err)
		}
		if err := db.UpsertMessage(&Message{ConversationID: id, ID: "m-" + id, Content: "x", Type: TypeText, Status: StatusSent, CreatedAt: time.UnixMilli(1000)}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.EvictConversations(2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}

	// c1 had the oldest last_fetched_at.
	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("c1 should have been evicted")
	}
	msgs, _ := db.ListMessages("c1", time.Time{}, 10)
	if len(msgs) != 0 {
		t.Errorf("c1 messages should be gone, got %d", len(msgs))
	}
}
