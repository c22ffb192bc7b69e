package sync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/clockwork"
	"github.com/rbarbosa/chatsync/internal/store"
)

// Reconciler matches locally staged optimistic sends against their
// server-confirmed echoes. The primary key is the client-assigned
// correlation id carried through the round trip; matching by
// conversation/sender/content is kept only as a fallback for servers that
// do not echo the client id.
type Reconciler struct {
	sched      *clockwork.Scheduler
	logger     *zap.Logger
	ackTimeout time.Duration
	onTimeout  func(convID, clientID string)

	mu     sync.Mutex
	staged map[string]*stagedSend
}

type stagedSend struct {
	clientID      string
	convID        string
	senderID      string
	content       string
	stagedAt      time.Time
	cancelTimeout func()
}

// NewReconciler creates a reconciler. onTimeout is invoked when a staged
// send receives neither an ack nor an error within ackTimeout; the staged
// message must then be marked failed, never left sending forever.
func NewReconciler(sched *clockwork.Scheduler, ackTimeout time.Duration, onTimeout func(convID, clientID string), logger *zap.Logger) *Reconciler {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &Reconciler{
		sched:      sched,
		logger:     logger,
		ackTimeout: ackTimeout,
		onTimeout:  onTimeout,
		staged:     make(map[string]*stagedSend),
	}
}

// StageOptimistic registers a staged send and arms its ack timeout.
func (r *Reconciler) StageOptimistic(msg store.Message) {
	clientID := msg.ClientID
	s := &stagedSend{
		clientID: clientID,
		convID:   msg.ConversationID,
		senderID: msg.SenderID,
		content:  msg.Content,
		stagedAt: r.sched.Clock().Now(),
	}
	s.cancelTimeout = r.sched.Schedule(r.ackTimeout, func() {
		if r.Unstage(clientID) {
			r.logger.Warn("send ack timeout", zap.String("client_id", clientID))
			r.onTimeout(s.convID, clientID)
		}
	})

	r.mu.Lock()
	r.staged[clientID] = s
	r.mu.Unlock()
}

// Reconcile matches a server-confirmed message against the staged set and
// returns the matched client id, or "" on a miss. A miss is not an error:
// the caller inserts the message as new, deduplicating by server id.
func (r *Reconciler) Reconcile(msg store.Message) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ClientID != "" {
		if s, ok := r.staged[msg.ClientID]; ok {
			r.removeLocked(s)
			return s.clientID
		}
	}

	// Fallback: most recent staged send in the same conversation, from the
	// same sender, with identical content.
	var best *stagedSend
	for _, s := range r.staged {
		if s.convID != msg.ConversationID || s.senderID != msg.SenderID || s.content != msg.Content {
			continue
		}
		if best == nil || s.stagedAt.After(best.stagedAt) {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	r.removeLocked(best)
	return best.clientID
}

// Unstage removes a staged send without matching (error ack or timeout).
// Returns false if it was already reconciled or unstaged.
func (r *Reconciler) Unstage(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.staged[clientID]
	if !ok {
		return false
	}
	r.removeLocked(s)
	return true
}

// Pending returns the number of unacknowledged staged sends.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.staged)
}

func (r *Reconciler) removeLocked(s *stagedSend) {
	if s.cancelTimeout != nil {
		s.cancelTimeout()
	}
	delete(r.staged, s.clientID)
}
