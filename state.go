package chatapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Change notifications
// ============================================================================

// ChangeKind says which part of the client state moved.
type ChangeKind int

const (
	ChangePresence ChangeKind = iota
	ChangeMessages
	ChangeUnseen
)

// Change is delivered to state observers. PeerID is the peer whose log or
// flag changed; for presence it is the peer whose status changed.
type Change struct {
	Kind   ChangeKind
	PeerID int64
}

// ChangeHandler observes client state changes.
type ChangeHandler func(Change)

// ============================================================================
// ClientState
// ============================================================================

// ClientState is the process-wide projection of the chat state for one
// session: the presence table, per-peer message logs, and unseen-message
// flags. It is created at login and destroyed at logout.
//
// All mutation funnels through here: inbound envelopes via Apply (wired to
// the connection's event stream), history pages via MergeHistory, and local
// sends via SendMessage. Consumers read snapshots and subscribe to change
// notifications; they never mutate directly.
//
// Every mutation is written through to the cache. A persistence failure is
// returned to the caller but does not roll back memory: the in-memory state
// stays authoritative for the process, and the next successful write-through
// repairs the stored copy.
type ClientState struct {
	session Session
	cache   *Cache
	conn    *Conn
	logger  *slog.Logger

	mu         sync.Mutex
	presence   map[int64]Status
	logs       map[int64][]Message
	seen       map[int64]map[string]struct{}
	loaded     map[int64]bool
	unseen     map[int64]bool
	activePeer int64

	handlers    []stateHandler
	nextHandler int
	unbind      func()
}

type stateHandler struct {
	id int
	fn ChangeHandler
}

// StateOption configures a ClientState.
type StateOption func(*ClientState)

func WithStateLogger(logger *slog.Logger) StateOption {
	return func(s *ClientState) { s.logger = logger }
}

// NewClientState rehydrates the presence table and unseen flags from the
// cache and attaches to the connection's event stream. conn may be nil for
// a read-only, offline view; SendMessage then reports ErrNotConnected.
func NewClientState(session Session, cache *Cache, conn *Conn, opts ...StateOption) (*ClientState, error) {
	s := &ClientState{
		session: session,
		cache:   cache,
		conn:    conn,
		logger:  slog.Default(),
		logs:    make(map[int64][]Message),
		seen:    make(map[int64]map[string]struct{}),
		loaded:  make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	presence, err := cache.Presence()
	if err != nil {
		return nil, fmt.Errorf("rehydrate presence: %w", err)
	}
	delete(presence, session.UserID)
	s.presence = presence

	unseen, err := cache.Unseen()
	if err != nil {
		return nil, fmt.Errorf("rehydrate unseen flags: %w", err)
	}
	s.unseen = unseen

	if conn != nil {
		s.unbind = conn.Subscribe(func(env Envelope) {
			if err := s.Apply(env); err != nil {
				s.logger.Warn("apply envelope", "kind", env.Kind.String(), "error", err)
			}
		}, nil)
	}
	return s, nil
}

// Close detaches from the connection's event stream. It does not close the
// connection and does not clear any state.
func (s *ClientState) Close() {
	if s.unbind != nil {
		s.unbind()
		s.unbind = nil
	}
}

// OnChange registers a state observer; the returned function unsubscribes.
// Handlers run synchronously in mutation order, and across observers in
// registration order.
func (s *ClientState) OnChange(h ChangeHandler) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextHandler
	s.nextHandler++
	s.handlers = append(s.handlers, stateHandler{id: id, fn: h})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sh := range s.handlers {
			if sh.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// ============================================================================
// Event routing
// ============================================================================

// Apply routes one inbound envelope into the presence table, message log,
// and unseen flags. Unknown frames are dropped with a diagnostic and never
// mutate state or fail the caller.
func (s *ClientState) Apply(env Envelope) error {
	switch env.Kind {
	case KindStatusUpdate:
		return s.applyStatus(*env.Status)
	case KindChatMessage:
		return s.applyMessage(*env.Message)
	default:
		s.logger.Warn("dropping unrecognized frame", "raw", string(env.Raw))
		return nil
	}
}

func (s *ClientState) applyStatus(su StatusUpdate) error {
	if su.UserID == s.session.UserID {
		// Self-presence is implicit in having a connection; the table only
		// tracks peers.
		return nil
	}

	s.mu.Lock()
	s.presence[su.UserID] = su.Status
	err := s.cache.SetPresence(s.presence)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePresence, PeerID: su.UserID})
	if err != nil {
		return fmt.Errorf("persist presence: %w", err)
	}
	return nil
}

func (s *ClientState) applyMessage(msg Message) error {
	peer := msg.PeerOf(s.session.UserID)
	inbound := msg.SenderID != s.session.UserID

	s.mu.Lock()
	s.ensureLogLocked(peer)
	if !s.appendLocked(peer, msg) {
		// Duplicate delivery of the same logical message.
		s.mu.Unlock()
		return nil
	}
	err := s.cache.SetMessages(peer, s.logs[peer])

	unseenChanged := false
	var unseenErr error
	if inbound && s.activePeer != peer {
		if !s.unseen[peer] {
			s.unseen[peer] = true
			unseenErr = s.cache.SetUnseen(s.unseen)
			unseenChanged = true
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, PeerID: peer})
	if unseenChanged {
		s.notify(Change{Kind: ChangeUnseen, PeerID: peer})
	}

	if err != nil {
		return fmt.Errorf("persist message log: %w", err)
	}
	if unseenErr != nil {
		return fmt.Errorf("persist unseen flags: %w", unseenErr)
	}
	return nil
}

// ============================================================================
// History reconciliation
// ============================================================================

// MergeHistory folds a server-provided history page into the peer's log
// with the same de-duplication and creation-time ordering as live delivery.
// Safe to call repeatedly and in any interleaving with live arrivals for
// the same peer: the final log is independent of ordering, except that
// equal timestamps keep arrival order.
func (s *ClientState) MergeHistory(peerID int64, page []Message) error {
	s.mu.Lock()
	s.ensureLogLocked(peerID)

	added := false
	for _, msg := range page {
		if s.appendLocked(peerID, msg) {
			added = true
		}
	}
	if !added {
		s.mu.Unlock()
		return nil
	}
	err := s.cache.SetMessages(peerID, s.logs[peerID])
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, PeerID: peerID})
	if err != nil {
		return fmt.Errorf("persist message log: %w", err)
	}
	return nil
}

// ============================================================================
// Optimistic send
// ============================================================================

// SendMessage appends the message to the receiver's log immediately and
// then transmits it. The local copy carries a client message id, so a later
// server echo of the same message is suppressed by de-duplication. If the
// connection is not Open the append still happens and ErrNotConnected is
// returned: the message is visible locally as unsent, never silently queued.
func (s *ClientState) SendMessage(ctx context.Context, receiverID int64, content string) (Message, error) {
	msg := Message{
		SenderID:    s.session.UserID,
		ReceiverID:  receiverID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		ClientMsgID: uuid.NewString(),
	}

	s.mu.Lock()
	s.ensureLogLocked(receiverID)
	s.appendLocked(receiverID, msg)
	persistErr := s.cache.SetMessages(receiverID, s.logs[receiverID])
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, PeerID: receiverID})

	if persistErr != nil {
		persistErr = fmt.Errorf("persist message log: %w", persistErr)
	}

	var sendErr error
	if s.conn == nil {
		sendErr = ErrNotConnected
	} else {
		sendErr = s.conn.Send(ctx, MessageEnvelope(msg))
	}
	return msg, errors.Join(sendErr, persistErr)
}

// ============================================================================
// Active conversation
// ============================================================================

// SetActivePeer marks the conversation with peerID as the active view and
// clears its unseen flag. Pass 0 to mark no conversation active.
func (s *ClientState) SetActivePeer(peerID int64) error {
	s.mu.Lock()
	s.activePeer = peerID
	changed := false
	var err error
	if peerID != 0 && s.unseen[peerID] {
		s.unseen[peerID] = false
		err = s.cache.SetUnseen(s.unseen)
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeUnseen, PeerID: peerID})
	}
	if err != nil {
		return fmt.Errorf("persist unseen flags: %w", err)
	}
	return nil
}

// ActivePeer returns the currently active conversation peer, 0 for none.
func (s *ClientState) ActivePeer() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeer
}

// ============================================================================
// Snapshots
// ============================================================================

// PresenceOf returns the last observed status for a peer; peers with no
// entry are offline.
func (s *ClientState) PresenceOf(peerID int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.presence[peerID]; ok {
		return st
	}
	return StatusOffline
}

// Presence returns a copy of the presence table.
func (s *ClientState) Presence() map[int64]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]Status, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out
}

// Messages returns a copy of the log for one peer, rehydrating it from the
// cache on first access.
func (s *ClientState) Messages(peerID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLogLocked(peerID)
	return append([]Message(nil), s.logs[peerID]...)
}

// HasUnseen reports whether peerID has messages the user has not viewed.
func (s *ClientState) HasUnseen(peerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unseen[peerID]
}

// Unseen returns a copy of the unseen-flag map.
func (s *ClientState) Unseen() map[int64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]bool, len(s.unseen))
	for k, v := range s.unseen {
		out[k] = v
	}
	return out
}

// ============================================================================
// Internals
// ============================================================================

// ensureLogLocked rehydrates a peer's log from the cache on first touch.
// A failed read is logged and treated as an empty log; memory remains the
// source of truth from then on.
func (s *ClientState) ensureLogLocked(peerID int64) {
	if s.loaded[peerID] {
		return
	}
	s.loaded[peerID] = true
	s.seen[peerID] = make(map[string]struct{})

	msgs, err := s.cache.Messages(peerID)
	if err != nil {
		s.logger.Warn("rehydrate message log", "peer", peerID, "error", err)
		return
	}
	for _, m := range msgs {
		s.appendLocked(peerID, m)
	}
}

// appendLocked adds a message to the peer's log unless any of its dedup
// keys has been seen, and records all keys when appending. The log is kept
// ordered by creation time: a message older than the tail is inserted at
// its sorted position, and equal timestamps keep arrival order. New-message
// traffic arrives newest-last, so the common case is a plain append.
func (s *ClientState) appendLocked(peerID int64, msg Message) bool {
	keys := msg.dedupKeys()
	for _, k := range keys {
		if _, dup := s.seen[peerID][k]; dup {
			return false
		}
	}
	for _, k := range keys {
		s.seen[peerID][k] = struct{}{}
	}

	log := append(s.logs[peerID], Message{})
	i := len(log) - 1
	for i > 0 && msg.CreatedAt.Before(log[i-1].CreatedAt) {
		log[i] = log[i-1]
		i--
	}
	log[i] = msg
	s.logs[peerID] = log
	return true
}

func (s *ClientState) notify(change Change) {
	s.mu.Lock()
	handlers := make([]stateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, sh := range handlers {
		invoke(func() { sh.fn(change) })
	}
}
