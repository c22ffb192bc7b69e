package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/clockwork"
	"github.com/rbarbosa/chatsync/internal/store"
	"github.com/rbarbosa/chatsync/internal/wire"
)

// ErrNoConversation is returned by operations that need a selected
// conversation when none is selected.
var ErrNoConversation = errors.New("no conversation selected")

// Fetcher is the pull side of the server API. *rest.Client satisfies it.
type Fetcher interface {
	GetConversations(ctx context.Context, page, limit int) (*wire.ConversationsPage, error)
	GetMessages(ctx context.Context, convID string, page, limit int) (*wire.MessagesPage, error)
	StartConversation(ctx context.Context, recipientID string) (*wire.Conversation, error)
}

// Sender is the push side of the duplex channel. *conn.Manager satisfies it.
type Sender interface {
	Send(event string, payload any) error
}

// Options tunes the engine.
type Options struct {
	SelfID   string
	SelfName string

	PageSize          int
	CacheTTL          time.Duration
	LoadOlderDelay    time.Duration
	SendAckTimeout    time.Duration
	ScrollSuspension  time.Duration
	BottomThreshold   int
	MaxPersistedConvs int
}

func (o *Options) sanitize() {
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 24 * time.Hour
	}
	if o.LoadOlderDelay <= 0 {
		o.LoadOlderDelay = 300 * time.Millisecond
	}
	if o.SendAckTimeout <= 0 {
		o.SendAckTimeout = 10 * time.Second
	}
	if o.ScrollSuspension <= 0 {
		o.ScrollSuspension = 500 * time.Millisecond
	}
	if o.BottomThreshold <= 0 {
		o.BottomThreshold = 80
	}
	if o.MaxPersistedConvs <= 0 {
		o.MaxPersistedConvs = 200
	}
}

// Engine is the single writer for conversation state. Remote events, local
// sends and pagination all funnel through it; the UI layer only ever reads
// snapshots and reacts to engine.* bus events.
type Engine struct {
	opts    Options
	cache   *store.Cache
	db      *store.DB
	fetcher Fetcher
	sender  Sender
	recon   *Reconciler
	sched   *clockwork.Scheduler
	bus     *bus.Bus
	logger  *zap.Logger

	mu           sync.Mutex
	current      string
	convs        []store.Conversation
	viewport     Viewport
	suspendUntil time.Time
	olderPending map[string]bool
	olderFlight  map[string]bool

	runCtx context.Context
	cancel context.CancelFunc
}

// NewEngine creates the engine. The reconciler is owned here so that ack
// timeouts feed straight back into the failed-send path.
func NewEngine(db *store.DB, cache *store.Cache, fetcher Fetcher, sender Sender, sched *clockwork.Scheduler, b *bus.Bus, opts Options, logger *zap.Logger) *Engine {
	opts.sanitize()
	e := &Engine{
		opts:         opts,
		cache:        cache,
		db:           db,
		fetcher:      fetcher,
		sender:       sender,
		sched:        sched,
		bus:          b,
		logger:       logger,
		olderPending: make(map[string]bool),
		olderFlight:  make(map[string]bool),
	}
	e.recon = NewReconciler(sched, opts.SendAckTimeout, e.failSend, logger)
	return e
}

// Start recovers persisted state, subscribes to remote and connection
// events, and kicks off an initial conversation list refresh.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.cancel = context.WithCancel(ctx)

	n, err := e.db.FailStaleSending()
	if err != nil {
		return fmt.Errorf("fail stale sends: %w", err)
	}
	if n > 0 {
		e.logger.Info("stale sends marked failed", zap.Int64("count", n))
	}

	convs, err := e.db.ListConversations(e.opts.MaxPersistedConvs, 0)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	e.mu.Lock()
	e.convs = convs
	e.mu.Unlock()

	remote, unsubRemote := e.bus.Subscribe("remote.", 256)
	connEvts, unsubConn := e.bus.Subscribe("conn.", 16)
	go func() {
		defer unsubRemote()
		defer unsubConn()
		for {
			select {
			case evt := <-remote:
				e.handleRemote(evt)
			case evt := <-connEvts:
				if evt.Kind == bus.KindConnConnected {
					go e.refreshConversations(e.runCtx)
				}
			case <-e.runCtx.Done():
				return
			}
		}
	}()

	go e.refreshConversations(e.runCtx)
	return nil
}

// Stop stops the engine. Pending scheduler tasks belong to the shared
// scheduler and are cancelled individually, not here.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Conversations returns the current conversation list, newest activity
// first.
func (e *Engine) Conversations() []store.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]store.Conversation, len(e.convs))
	copy(out, e.convs)
	return out
}

// CurrentConversation returns the selected conversation id, or "".
func (e *Engine) CurrentConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Messages returns the loaded window for a conversation, ascending by time,
// regardless of cache freshness.
func (e *Engine) Messages(convID string) []store.Message {
	entry := e.cache.Peek(convID)
	if entry == nil {
		return nil
	}
	return entry.Messages
}

// HasMoreOlder reports whether older history exists beyond the loaded
// window.
func (e *Engine) HasMoreOlder(convID string) bool {
	entry := e.cache.Peek(convID)
	return entry != nil && entry.HasMoreOlder
}

// UpdateViewport records the UI's scroll geometry. Called on every scroll
// so loadOlder and auto-scroll decisions see current positions.
func (e *Engine) UpdateViewport(vp Viewport) {
	e.mu.Lock()
	e.viewport = vp
	e.mu.Unlock()
}

// SelectConversation makes convID current. A fresh cache entry renders
// immediately with no network round trip; otherwise the engine rehydrates
// from the persisted tier or fetches page one. Selecting also clears the
// unread count and notifies the server.
func (e *Engine) SelectConversation(ctx context.Context, convID string) error {
	e.mu.Lock()
	e.current = convID
	e.mu.Unlock()

	if entry := e.cache.Get(convID); entry != nil {
		e.afterSelect(convID)
		return nil
	}
	if e.hydrate(convID) {
		e.afterSelect(convID)
		return nil
	}

	e.publish(bus.KindConvLoading, convID)
	page, err := e.fetcher.GetMessages(ctx, convID, 1, e.opts.PageSize)
	if err != nil {
		e.publish(bus.KindLoadFailed, convID)
		return fmt.Errorf("load conversation %s: %w", convID, err)
	}
	msgs := messagesFromPage(page.Messages)

	e.mu.Lock()
	stale := e.current != convID
	e.mu.Unlock()
	if stale {
		e.logger.Debug("discarding page for deselected conversation", zap.String("conv", convID))
		return nil
	}

	e.cache.Put(convID, e.withLocalFailures(convID, msgs), page.HasNext, 1)
	e.persistPage(convID, msgs, page.HasNext, 1)
	e.afterSelect(convID)
	return nil
}

// afterSelect publishes the rendered window, scrolls to the newest message
// and marks the conversation read.
func (e *Engine) afterSelect(convID string) {
	e.publish(bus.KindConvUpdated, convID)
	e.publish(bus.KindScrollPlan, ScrollPlan{ToBottom: true})
	e.markRead(convID)
}

// hydrate promotes the persisted tier into the cache when its recorded
// fetch time is still within the TTL. The entry keeps that honest age.
func (e *Engine) hydrate(convID string) bool {
	hasMore, oldestPage, fetchedAt, err := e.db.EntryMeta(convID)
	if err != nil {
		e.logger.Warn("entry meta read failed", zap.String("conv", convID), zap.Error(err))
		return false
	}
	if fetchedAt.IsZero() || e.now().Sub(fetchedAt) > e.opts.CacheTTL {
		return false
	}
	msgs, err := e.db.ListMessages(convID, time.Time{}, e.opts.PageSize*max(oldestPage, 1))
	if err != nil || len(msgs) == 0 {
		return false
	}
	reverse(msgs)
	e.cache.PutAt(convID, msgs, hasMore, oldestPage, fetchedAt)
	return true
}

// LoadOlder requests the next older page for the current conversation.
// Calls are debounced and single-flight per conversation, so a held
// scroll key produces one fetch. The scroll anchor is captured now, not
// when the response lands.
func (e *Engine) LoadOlder() {
	e.mu.Lock()
	convID := e.current
	if convID == "" || e.olderPending[convID] || e.olderFlight[convID] {
		e.mu.Unlock()
		return
	}
	anchor := scrollAnchor{messageID: e.viewport.TopMessageID, offset: e.viewport.TopOffset}
	entry := e.cache.Peek(convID)
	if entry == nil || !entry.HasMoreOlder {
		e.mu.Unlock()
		return
	}
	page := entry.OldestLoadedPage + 1
	e.olderPending[convID] = true
	e.mu.Unlock()

	e.sched.Schedule(e.opts.LoadOlderDelay, func() {
		e.mu.Lock()
		delete(e.olderPending, convID)
		if e.olderFlight[convID] {
			e.mu.Unlock()
			return
		}
		e.olderFlight[convID] = true
		e.mu.Unlock()
		go e.loadOlderPage(convID, page, anchor)
	})
}

func (e *Engine) loadOlderPage(convID string, page int, anchor scrollAnchor) {
	defer func() {
		e.mu.Lock()
		delete(e.olderFlight, convID)
		e.mu.Unlock()
	}()

	res, err := e.fetcher.GetMessages(e.runCtx, convID, page, e.opts.PageSize)
	if err != nil {
		e.logger.Warn("older page fetch failed", zap.String("conv", convID), zap.Int("page", page), zap.Error(err))
		e.publish(bus.KindLoadFailed, convID)
		return
	}

	e.mu.Lock()
	stale := e.current != convID
	e.mu.Unlock()
	if stale {
		e.logger.Debug("discarding older page for deselected conversation", zap.String("conv", convID))
		return
	}

	msgs := messagesFromPage(res.Messages)
	if !e.cache.AppendOlder(convID, msgs, res.HasNext, page) {
		return
	}
	e.persistPage(convID, msgs, res.HasNext, page)

	e.mu.Lock()
	e.suspendUntil = e.now().Add(e.opts.ScrollSuspension)
	e.mu.Unlock()

	e.publish(bus.KindConvUpdated, convID)
	if anchor.messageID != "" {
		e.publish(bus.KindScrollPlan, ScrollPlan{AnchorID: anchor.messageID, AnchorOffset: anchor.offset})
	}
}

// Send stages an optimistic message in the current conversation and pushes
// it over the channel. The message renders immediately with sending status;
// reconciliation or the ack timeout settles it later.
func (e *Engine) Send(content, msgType, replyToID, fileData string) (store.Message, error) {
	e.mu.Lock()
	convID := e.current
	e.mu.Unlock()
	if convID == "" {
		return store.Message{}, ErrNoConversation
	}
	if msgType == "" {
		msgType = store.TypeText
	}

	clientID := uuid.New().String()
	msg := store.Message{
		ID:             clientID,
		ConversationID: convID,
		SenderID:       e.opts.SelfID,
		SenderName:     e.opts.SelfName,
		Content:        content,
		Type:           msgType,
		CreatedAt:      e.now(),
		ReplyToID:      replyToID,
		ClientID:       clientID,
		Optimistic:     true,
		Status:         store.StatusSending,
	}

	e.cache.UpsertMessage(convID, msg)
	if err := e.db.UpsertMessage(&msg); err != nil {
		e.logger.Warn("optimistic persist failed", zap.String("client_id", clientID), zap.Error(err))
	}
	e.recon.StageOptimistic(msg)
	e.touchConversation(convID, content, msg.CreatedAt, false)

	e.publish(bus.KindConvUpdated, convID)
	e.publish(bus.KindScrollPlan, ScrollPlan{ToBottom: true})

	err := e.sender.Send(wire.EvSendMessage, wire.SendMessage{
		ConversationID: convID,
		Content:        content,
		Type:           msgType,
		ReplyToID:      replyToID,
		ClientID:       clientID,
		FileData:       fileData,
	})
	if err != nil {
		e.recon.Unstage(clientID)
		e.failSend(convID, clientID)
		msg.Status = store.StatusFailed
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// EditMessage requests an edit. The local copy is untouched until the
// server confirms with a message_edited broadcast.
func (e *Engine) EditMessage(msgID, content string) error {
	return e.sender.Send(wire.EvEditMessage, wire.EditMessage{MessageID: msgID, Content: content})
}

// DeleteMessage requests a deletion. The tombstone lands when the server
// confirms with message_deleted.
func (e *Engine) DeleteMessage(msgID string) error {
	return e.sender.Send(wire.EvDeleteMessage, wire.DeleteMessage{MessageID: msgID})
}

// AddReaction requests a reaction on a message.
func (e *Engine) AddReaction(msgID, emoji string) error {
	return e.sender.Send(wire.EvAddReaction, wire.AddReaction{MessageID: msgID, Emoji: emoji})
}

// StartConversationWith creates (or returns) the conversation with the
// given peer and merges it into the list. Callers select it afterwards.
func (e *Engine) StartConversationWith(ctx context.Context, recipientID string) (store.Conversation, error) {
	wc, err := e.fetcher.StartConversation(ctx, recipientID)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}
	conv := conversationFromWire(*wc)
	e.mergeConversations([]store.Conversation{conv})
	return conv, nil
}

// refreshConversations pulls the first page of the conversation list and
// merges it over the persisted snapshot. Runs on start and on every
// (re)connect so missed activity surfaces without per-conversation
// refetches.
func (e *Engine) refreshConversations(ctx context.Context) {
	res, err := e.fetcher.GetConversations(ctx, 1, e.opts.MaxPersistedConvs)
	if err != nil {
		e.logger.Warn("conversation list refresh failed", zap.Error(err))
		return
	}
	convs := make([]store.Conversation, 0, len(res.Conversations))
	for _, wc := range res.Conversations {
		convs = append(convs, conversationFromWire(wc))
	}
	e.mergeConversations(convs)
	if _, err := e.db.EvictConversations(e.opts.MaxPersistedConvs); err != nil {
		e.logger.Warn("conversation eviction failed", zap.Error(err))
	}
}

func (e *Engine) handleRemote(evt bus.Event) {
	switch evt.Kind {
	case bus.RemoteKind(wire.EvNewMessage):
		var wm wire.Message
		if decodeAs(evt.Payload, &wm, e.logger, wire.EvNewMessage) {
			e.handleNewMessage(wm)
		}
	case bus.RemoteKind(wire.EvMessageSent):
		var wm wire.Message
		if decodeAs(evt.Payload, &wm, e.logger, wire.EvMessageSent) {
			e.handleMessageSent(wm)
		}
	case bus.RemoteKind(wire.EvSendError):
		var se wire.SendError
		if decodeAs(evt.Payload, &se, e.logger, wire.EvSendError) {
			e.handleSendError(se)
		}
	case bus.RemoteKind(wire.EvMessageEdited):
		var wm wire.Message
		if decodeAs(evt.Payload, &wm, e.logger, wire.EvMessageEdited) {
			e.handleEdited(wm)
		}
	case bus.RemoteKind(wire.EvMessageDeleted):
		var wm wire.Message
		if decodeAs(evt.Payload, &wm, e.logger, wire.EvMessageDeleted) {
			e.handleDeleted(wm)
		}
	case bus.RemoteKind(wire.EvReactionAdded):
		var ra wire.ReactionAdded
		if decodeAs(evt.Payload, &ra, e.logger, wire.EvReactionAdded) {
			e.handleReaction(ra)
		}
	case bus.RemoteKind(wire.EvMessageRead):
		var mr wire.MessagesRead
		if decodeAs(evt.Payload, &mr, e.logger, wire.EvMessageRead) {
			e.handleRead(mr)
		}
	}
}

// handleNewMessage ingests a message from another user. Ingestion is
// idempotent by message id, so redelivery after a reconnect is harmless.
func (e *Engine) handleNewMessage(wm wire.Message) {
	msg := messageFromWire(wm)

	e.mu.Lock()
	known := e.indexOfConv(wm.ConversationID) >= 0
	isCurrent := e.current == wm.ConversationID
	vp := e.viewport
	suspended := e.now().Before(e.suspendUntil)
	e.mu.Unlock()

	if !known {
		// First message of a conversation this client has never seen.
		go e.refreshConversations(e.runCtx)
	}

	if e.cache.Peek(wm.ConversationID) != nil {
		e.cache.UpsertMessage(wm.ConversationID, msg)
	}
	if err := e.db.UpsertMessage(&msg); err != nil {
		e.logger.Warn("message persist failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	e.touchConversation(wm.ConversationID, previewOf(msg), msg.CreatedAt, !isCurrent)

	if !isCurrent {
		return
	}
	e.markRead(wm.ConversationID)
	e.publish(bus.KindConvUpdated, wm.ConversationID)
	if vp.AtBottom(e.opts.BottomThreshold) && !suspended {
		e.publish(bus.KindScrollPlan, ScrollPlan{ToBottom: true})
	}
}

// handleMessageSent settles an optimistic send against its server echo.
// Exactly one entry must remain: the confirmed message replaces the staged
// one in place when a match is found, and lands as a new entry otherwise.
func (e *Engine) handleMessageSent(wm wire.Message) {
	msg := messageFromWire(wm)
	msg.Status = store.StatusSent

	clientID := e.recon.Reconcile(msg)
	if clientID != "" {
		msg.ClientID = clientID
		if !e.cache.ReplaceByClientID(msg.ConversationID, clientID, msg) {
			if e.cache.Peek(msg.ConversationID) != nil {
				e.cache.UpsertMessage(msg.ConversationID, msg)
			}
		}
		if err := e.db.ReplaceMessageID(msg.ConversationID, clientID, &msg); err != nil {
			e.logger.Warn("reconciled persist failed", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	} else {
		// Ack without a staged counterpart: the timeout already marked the
		// optimistic copy failed, or another device sent it. The confirmed
		// message lands as a new entry, deduplicated by server id only; a
		// failed copy stays visible.
		e.logger.Warn("unmatched send confirmation",
			zap.String("msg_id", msg.ID),
			zap.String("client_id", wm.ClientID),
			zap.String("conv", msg.ConversationID))
		msg.ClientID = ""
		if e.cache.Peek(msg.ConversationID) != nil {
			e.cache.UpsertMessage(msg.ConversationID, msg)
		}
		if err := e.db.UpsertMessage(&msg); err != nil {
			e.logger.Warn("message persist failed", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}

	e.touchConversation(msg.ConversationID, previewOf(msg), msg.CreatedAt, false)
	e.publish(bus.KindConvUpdated, msg.ConversationID)
}

func (e *Engine) handleSendError(se wire.SendError) {
	e.logger.Warn("send rejected",
		zap.String("client_id", se.ClientID),
		zap.String("reason", se.Reason))
	if e.recon.Unstage(se.ClientID) {
		e.failSend(se.ConversationID, se.ClientID)
	}
}

// failSend marks an optimistic message failed. The entry stays visible so
// the user can see and retry it; it is never silently dropped.
func (e *Engine) failSend(convID, clientID string) {
	e.cache.ApplyPatch(convID, clientID, func(m *store.Message) {
		m.Status = store.StatusFailed
	})
	if err := e.db.MarkMessageFailed(convID, clientID); err != nil {
		e.logger.Warn("failed-send persist failed", zap.String("client_id", clientID), zap.Error(err))
	}
	e.publish(bus.KindConvUpdated, convID)
	e.publish(bus.KindSendFailed, clientID)
}

func (e *Engine) handleEdited(wm wire.Message) {
	patched := e.cache.ApplyPatch(wm.ConversationID, wm.ID, func(m *store.Message) {
		m.Content = wm.Content
		m.Edited = editFromWire(wm.Edited)
	})
	if !patched && e.cache.Peek(wm.ConversationID) != nil {
		e.cache.UpsertMessage(wm.ConversationID, messageFromWire(wm))
	}
	msg := messageFromWire(wm)
	if err := e.db.UpsertMessage(&msg); err != nil {
		e.logger.Warn("edit persist failed", zap.String("msg_id", wm.ID), zap.Error(err))
	}
	e.publish(bus.KindConvUpdated, wm.ConversationID)
}

// handleDeleted applies the tombstone overlay. The record keeps its list
// position; replies to it stay resolvable.
func (e *Engine) handleDeleted(wm wire.Message) {
	at, by := e.now(), wm.SenderID
	if wm.Deleted != nil {
		at, by = wm.Deleted.DeletedAt, wm.Deleted.DeletedBy
	}
	e.cache.ApplyPatch(wm.ConversationID, wm.ID, func(m *store.Message) {
		m.Tombstone(at, by)
	})
	msg := messageFromWire(wm)
	msg.Tombstone(at, by)
	if err := e.db.UpsertMessage(&msg); err != nil {
		e.logger.Warn("delete persist failed", zap.String("msg_id", wm.ID), zap.Error(err))
	}
	e.publish(bus.KindConvUpdated, wm.ConversationID)
}

func (e *Engine) handleReaction(ra wire.ReactionAdded) {
	r := store.Reaction{UserID: ra.Reaction.UserID, Emoji: ra.Reaction.Emoji}
	e.cache.ApplyPatch(ra.ConversationID, ra.MessageID, func(m *store.Message) {
		for _, have := range m.Reactions {
			if have.UserID == r.UserID && have.Emoji == r.Emoji {
				return
			}
		}
		m.Reactions = append(m.Reactions, r)
	})
	if err := e.db.AppendReaction(ra.ConversationID, ra.MessageID, r); err != nil {
		e.logger.Warn("reaction persist failed", zap.String("msg_id", ra.MessageID), zap.Error(err))
	}
	e.publish(bus.KindConvUpdated, ra.ConversationID)
}

func (e *Engine) handleRead(mr wire.MessagesRead) {
	rr := store.ReadReceipt{UserID: mr.UserID, ReadAt: mr.ReadAt}
	for _, id := range mr.MessageIDs {
		e.cache.ApplyPatch(mr.ConversationID, id, func(m *store.Message) {
			for _, have := range m.ReadBy {
				if have.UserID == rr.UserID {
					return
				}
			}
			m.ReadBy = append(m.ReadBy, rr)
		})
		if err := e.db.AppendReadReceipt(mr.ConversationID, id, rr); err != nil {
			e.logger.Warn("read receipt persist failed", zap.String("msg_id", id), zap.Error(err))
		}
	}
	e.publish(bus.KindConvUpdated, mr.ConversationID)
}

// markRead zeroes the local unread count and tells the server. A send
// failure here is fine: the count resyncs on the next list refresh.
func (e *Engine) markRead(convID string) {
	e.mu.Lock()
	var persist *store.Conversation
	if i := e.indexOfConv(convID); i >= 0 && e.convs[i].UnreadCount != 0 {
		e.convs[i].UnreadCount = 0
		c := e.convs[i]
		persist = &c
	}
	e.mu.Unlock()

	if persist != nil {
		if err := e.db.UpsertConversation(persist); err != nil {
			e.logger.Warn("conversation persist failed", zap.String("conv", convID), zap.Error(err))
		}
		e.publish(bus.KindConvListDirty, convID)
	}
	if err := e.sender.Send(wire.EvMarkRead, wire.MarkRead{ConversationID: convID}); err != nil {
		e.logger.Debug("mark read deferred", zap.String("conv", convID), zap.Error(err))
	}
}

// touchConversation bumps a conversation's activity and preview, inserting
// a placeholder entry if the conversation is unknown.
func (e *Engine) touchConversation(convID, preview string, at time.Time, bumpUnread bool) {
	e.mu.Lock()
	i := e.indexOfConv(convID)
	if i < 0 {
		e.convs = append(e.convs, store.Conversation{ID: convID})
		i = len(e.convs) - 1
	}
	c := &e.convs[i]
	if at.After(c.LastActivity) {
		c.LastActivity = at
		c.LastMessagePreview = preview
	}
	if bumpUnread {
		c.UnreadCount++
	}
	snap := *c
	sortConversations(e.convs)
	e.mu.Unlock()

	if err := e.db.UpsertConversation(&snap); err != nil {
		e.logger.Warn("conversation persist failed", zap.String("conv", convID), zap.Error(err))
	}
	e.publish(bus.KindConvListDirty, convID)
}

// mergeConversations overlays freshly fetched conversations onto the list.
func (e *Engine) mergeConversations(convs []store.Conversation) {
	e.mu.Lock()
	for _, c := range convs {
		if i := e.indexOfConv(c.ID); i >= 0 {
			e.convs[i] = c
		} else {
			e.convs = append(e.convs, c)
		}
	}
	sortConversations(e.convs)
	e.mu.Unlock()

	for i := range convs {
		if err := e.db.UpsertConversation(&convs[i]); err != nil {
			e.logger.Warn("conversation persist failed", zap.String("conv", convs[i].ID), zap.Error(err))
		}
	}
	e.publish(bus.KindConvListDirty, "")
}

// withLocalFailures carries failed optimistic sends from the previous
// window into a refetched page so they stay visible.
func (e *Engine) withLocalFailures(convID string, msgs []store.Message) []store.Message {
	prev := e.cache.Peek(convID)
	if prev == nil {
		return msgs
	}
	for _, m := range prev.Messages {
		if m.Optimistic && m.Status == store.StatusFailed {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func (e *Engine) persistPage(convID string, msgs []store.Message, hasMore bool, oldestPage int) {
	for i := range msgs {
		if err := e.db.UpsertMessage(&msgs[i]); err != nil {
			e.logger.Warn("message persist failed", zap.String("msg_id", msgs[i].ID), zap.Error(err))
		}
	}
	if err := e.db.SetEntryMeta(convID, hasMore, oldestPage, e.now()); err != nil {
		e.logger.Warn("entry meta persist failed", zap.String("conv", convID), zap.Error(err))
	}
}

// indexOfConv finds a conversation in the list. Caller holds mu.
func (e *Engine) indexOfConv(convID string) int {
	for i := range e.convs {
		if e.convs[i].ID == convID {
			return i
		}
	}
	return -1
}

func (e *Engine) now() time.Time {
	return e.sched.Clock().Now()
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: e.now(), Payload: payload})
}

func sortConversations(convs []store.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastActivity.After(convs[j].LastActivity)
	})
}

func previewOf(m store.Message) string {
	if m.Type == store.TypeImage && m.Content == "" {
		return "[image]"
	}
	return truncate(m.Content, 100)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func reverse(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// messagesFromPage converts a newest-first wire page into ascending order.
func messagesFromPage(in []wire.Message) []store.Message {
	out := make([]store.Message, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, messageFromWire(in[i]))
	}
	return out
}

func messageFromWire(wm wire.Message) store.Message {
	m := store.Message{
		ID:             wm.ID,
		ConversationID: wm.ConversationID,
		SenderID:       wm.SenderID,
		SenderName:     wm.SenderName,
		Content:        wm.Content,
		Type:           wm.Type,
		CreatedAt:      wm.CreatedAt,
		ReplyToID:      wm.ReplyToID,
		ClientID:       wm.ClientID,
		Status:         store.StatusSent,
		Edited:         editFromWire(wm.Edited),
	}
	if m.Type == "" {
		m.Type = store.TypeText
	}
	if wm.Deleted != nil {
		m.Deleted = &store.DeleteInfo{DeletedAt: wm.Deleted.DeletedAt, DeletedBy: wm.Deleted.DeletedBy}
		m.Content = ""
	}
	for _, rr := range wm.ReadBy {
		m.ReadBy = append(m.ReadBy, store.ReadReceipt{UserID: rr.UserID, ReadAt: rr.ReadAt})
	}
	for _, r := range wm.Reactions {
		m.Reactions = append(m.Reactions, store.Reaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return m
}

func editFromWire(e *wire.EditInfo) *store.EditInfo {
	if e == nil {
		return nil
	}
	return &store.EditInfo{EditedAt: e.EditedAt}
}

func conversationFromWire(wc wire.Conversation) store.Conversation {
	c := store.Conversation{
		ID:           wc.ID,
		PeerID:       wc.Participant.ID,
		PeerName:     wc.Participant.Username,
		LastActivity: wc.LastActivity,
		UnreadCount:  wc.UnreadCount,
	}
	if wc.LastMessage != nil {
		c.LastMessagePreview = previewOf(messageFromWire(*wc.LastMessage))
	}
	return c
}

// decodeAs unwraps a bus payload that may be raw JSON from the channel or
// an already-typed value from a local publisher (tests).
func decodeAs[T any](payload any, out *T, logger *zap.Logger, what string) bool {
	switch v := payload.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(v, out); err != nil {
			if logger != nil {
				logger.Warn("malformed payload", zap.String("event", what), zap.Error(err))
			}
			return false
		}
		return true
	case T:
		*out = v
		return true
	case *T:
		*out = *v
		return true
	default:
		return false
	}
}
