package store

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Cache is the in-memory tier of the conversation store: a bounded map of
// conversation id to CacheEntry with TTL-gated reads. All mutation goes
// through the sync engine, which is the single writer; readers get
// snapshot copies so UI code never aliases live slices.
type Cache struct {
	mu         sync.Mutex
	clk        clock.Clock
	ttl        time.Duration
	maxEntries int
	entries    map[string]*CacheEntry
}

// NewCache creates a cache with the given TTL and entry bound.
func NewCache(clk clock.Clock, ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		clk:        clk,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*CacheEntry),
	}
}

// Get returns a snapshot of the entry, or nil on miss. An entry older than
// the TTL is a miss even though data is physically present: stale entries
// are never silently served.
func (c *Cache) Get(convID string) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		return nil
	}
	if c.clk.Now().Sub(e.LastFetchedAt) > c.ttl {
		return nil
	}
	return snapshot(e)
}

// Peek returns a snapshot ignoring the TTL, for callers that need the raw
// window (e.g. preserving failed sends across a refetch).
func (c *Cache) Peek(convID string) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		return nil
	}
	return snapshot(e)
}

// Put replaces the entry for a conversation with a freshly fetched page.
// Messages must arrive unique by id; they are sorted ascending here.
func (c *Cache) Put(convID string, msgs []Message, hasMoreOlder bool, oldestPage int) {
	c.PutAt(convID, msgs, hasMoreOlder, oldestPage, c.clk.Now())
}

// PutAt is Put with an explicit fetch timestamp, used when rehydrating from
// the persisted tier so the entry keeps its honest age for TTL purposes.
func (c *Cache) PutAt(convID string, msgs []Message, hasMoreOlder bool, oldestPage int, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &CacheEntry{
		Messages:         mergeAscending(nil, msgs),
		HasMoreOlder:     hasMoreOlder,
		OldestLoadedPage: oldestPage,
		LastFetchedAt:    fetchedAt,
	}
	c.entries[convID] = e
	c.evictLocked()
}

// AppendOlder merges an older page into the front of the entry, deduplicating
// by id and preserving ascending order. Returns false if the entry is gone
// (evicted since the fetch began).
func (c *Cache) AppendOlder(convID string, older []Message, hasMoreOlder bool, oldestPage int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		return false
	}
	e.Messages = mergeAscending(e.Messages, older)
	e.HasMoreOlder = hasMoreOlder
	e.OldestLoadedPage = oldestPage
	return true
}

// UpsertMessage inserts or updates a message (idempotent by id). Optimistic
// messages append at the end; everything else is an ordered insert by
// CreatedAt. A message whose id or client id matches an existing entry
// updates that entry in place, preserving list position.
func (c *Cache) UpsertMessage(convID string, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		e = &CacheEntry{LastFetchedAt: c.clk.Now()}
		c.entries[convID] = e
		c.evictLocked()
	}
	if i := indexOf(e.Messages, msg.ID, msg.ClientID); i >= 0 {
		e.Messages[i] = msg
		return
	}
	if msg.Optimistic {
		e.Messages = append(e.Messages, msg)
		return
	}
	e.Messages = insertOrdered(e.Messages, msg)
}

// ApplyPatch mutates the message with the given id in place. Returns false
// if the conversation or message is not cached.
func (c *Cache) ApplyPatch(convID, msgID string, fn func(*Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		return false
	}
	i := indexOf(e.Messages, msgID, "")
	if i < 0 {
		return false
	}
	fn(&e.Messages[i])
	return true
}

// ReplaceByClientID swaps the staged message with the given client id for
// its server-confirmed counterpart, keeping the same list position. Returns
// false if no staged message matches.
func (c *Cache) ReplaceByClientID(convID, clientID string, msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		return false
	}
	for i := range e.Messages {
		if e.Messages[i].ClientID == clientID || e.Messages[i].ID == clientID {
			e.Messages[i] = msg
			return true
		}
	}
	return false
}

// Remove drops the message with the given id. Used only for cleaning up a
// duplicate after an out-of-band reconciliation, never for deletion.
func (c *Cache) Remove(convID, msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[convID]
	if !ok {
		return false
	}
	i := indexOf(e.Messages, msgID, "")
	if i < 0 {
		return false
	}
	e.Messages = append(e.Messages[:i], e.Messages[i+1:]...)
	return true
}

// Touch refreshes the entry's fetch timestamp after a successful refetch.
func (c *Cache) Touch(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[convID]; ok {
		e.LastFetchedAt = c.clk.Now()
	}
}

// Invalidate drops the entry entirely.
func (c *Cache) Invalidate(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, convID)
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked enforces the entry bound by dropping the entry with the
// oldest LastFetchedAt. Caller holds mu.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries {
		var victim string
		var oldest time.Time
		for id, e := range c.entries {
			if victim == "" || e.LastFetchedAt.Before(oldest) {
				victim = id
				oldest = e.LastFetchedAt
			}
		}
		delete(c.entries, victim)
	}
}

func snapshot(e *CacheEntry) *CacheEntry {
	out := *e
	out.Messages = make([]Message, len(e.Messages))
	copy(out.Messages, e.Messages)
	return &out
}

func indexOf(msgs []Message, id, clientID string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
		if clientID != "" && msgs[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

// insertOrdered places msg before the trailing optimistic block, keeping
// non-optimistic messages ascending by CreatedAt. Arrival order of the
// underlying events does not matter.
func insertOrdered(msgs []Message, msg Message) []Message {
	idx := len(msgs)
	for idx > 0 && msgs[idx-1].Optimistic {
		idx--
	}
	for idx > 0 && msgs[idx-1].CreatedAt.After(msg.CreatedAt) {
		idx--
	}
	msgs = append(msgs, Message{})
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = msg
	return msgs
}

// mergeAscending merges incoming into existing, deduplicating by id with
// existing entries winning, and returns an ascending-ordered slice.
func mergeAscending(existing, incoming []Message) []Message {
	seen := make(map[string]bool, len(existing))
	for i := range existing {
		seen[existing[i].ID] = true
	}
	out := existing
	for i := range incoming {
		if incoming[i].ID != "" && seen[incoming[i].ID] {
			continue
		}
		seen[incoming[i].ID] = true
		out = insertOrdered(out, incoming[i])
	}
	return out
}
