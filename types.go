package chatapp

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ============================================================================
// Identity
// ============================================================================

// Session identifies an authenticated user for the lifetime of a login.
// It is created by Login (or Register + Login), treated as immutable, and
// destroyed on logout. The token is opaque: it is attached to REST calls and
// to the realtime endpoint address, never interpreted locally.
type Session struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"auth_token"`
}

// User is a roster entry as served by the users endpoints.
type User struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	TgChatID          int64  `json:"tg_chat_id"`
	IsSubscribedToBot bool   `json:"is_subscribed_to_bot"`
}

// ============================================================================
// Presence
// ============================================================================

// Status is a peer's presence value.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

func (s Status) valid() bool {
	return s == StatusOnline || s == StatusOffline
}

// ============================================================================
// Messages
// ============================================================================

// Message is one direct chat message between two users. CreatedAt is set by
// the sender; ClientMsgID is a locally generated id carried so that a server
// echo of an optimistically appended message can be recognized.
type Message struct {
	SenderID    int64     `json:"sender_id"`
	ReceiverID  int64     `json:"receiver_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
}

// dedupKeys returns every key under which this message counts as already
// delivered: the client id when present, and always the identifying tuple.
// A message is a duplicate if any of its keys has been seen before, which
// also catches a server echo that strips the client id.
func (m Message) dedupKeys() []string {
	tuple := "t:" + strconv.FormatInt(m.SenderID, 10) + ":" +
		strconv.FormatInt(m.ReceiverID, 10) + ":" +
		m.Content + ":" +
		strconv.FormatInt(m.CreatedAt.UTC().UnixNano(), 10)
	if m.ClientMsgID != "" {
		return []string{"c:" + m.ClientMsgID, tuple}
	}
	return []string{tuple}
}

// PeerOf returns the conversation partner from the given user's point of
// view: the sender when the user is the receiver, otherwise the receiver.
func (m Message) PeerOf(userID int64) int64 {
	if m.ReceiverID == userID {
		return m.SenderID
	}
	return m.ReceiverID
}

// ============================================================================
// Errors
// ============================================================================

// ErrNotConnected is returned by Conn.Send when the connection is not Open.
// It is a condition, not a fatal fault: the caller decides whether to retry
// after reconnecting or to report the message as unsent.
var ErrNotConnected = errors.New("not connected")

var errUnknownEnvelope = errors.New("unknown envelope kind is not sendable")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Detail)
}

// RegisterResult is the response to a successful registration.
type RegisterResult struct {
	Msg      string `json:"msg"`
	Username string `json:"username"`
}
