package chatapp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind EnvelopeKind
	}{
		{
			name: "status online",
			data: `{"type":"status_update","user_id":7,"status":"online"}`,
			kind: KindStatusUpdate,
		},
		{
			name: "status offline",
			data: `{"type":"status_update","user_id":7,"status":"offline"}`,
			kind: KindStatusUpdate,
		},
		{
			name: "chat message",
			data: `{"sender_id":1,"receiver_id":2,"content":"hi","created_at":"2026-01-02T15:04:05Z"}`,
			kind: KindChatMessage,
		},
		{
			name: "chat message without created_at",
			data: `{"sender_id":1,"receiver_id":2,"content":"hi"}`,
			kind: KindChatMessage,
		},
		{
			name: "chat message with client id",
			data: `{"sender_id":1,"receiver_id":2,"content":"hi","client_msg_id":"abc"}`,
			kind: KindChatMessage,
		},
		{
			name: "unknown tag",
			data: `{"type":"typing","user_id":7}`,
			kind: KindUnknown,
		},
		{
			name: "status with bad value",
			data: `{"type":"status_update","user_id":7,"status":"away"}`,
			kind: KindUnknown,
		},
		{
			name: "status without user",
			data: `{"type":"status_update","status":"online"}`,
			kind: KindUnknown,
		},
		{
			name: "message without content",
			data: `{"sender_id":1,"receiver_id":2}`,
			kind: KindUnknown,
		},
		{
			name: "not json",
			data: `not even json{`,
			kind: KindUnknown,
		},
		{
			name: "empty object",
			data: `{}`,
			kind: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ParseEnvelope([]byte(tt.data))
			if env.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", env.Kind, tt.kind)
			}
			switch tt.kind {
			case KindStatusUpdate:
				if env.Status == nil || env.Message != nil {
					t.Fatal("expected only Status to be set")
				}
			case KindChatMessage:
				if env.Message == nil || env.Status != nil {
					t.Fatal("expected only Message to be set")
				}
			case KindUnknown:
				if len(env.Raw) == 0 {
					t.Fatal("expected Raw to carry the frame")
				}
			}
		})
	}
}

func TestEnvelopeEncode(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		data, err := StatusEnvelope(7, StatusOnline).Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["type"] != "status_update" || got["user_id"] != float64(7) || got["status"] != "online" {
			t.Fatalf("unexpected wire shape: %s", data)
		}
	})

	t.Run("message roundtrip", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
		msg := Message{SenderID: 1, ReceiverID: 2, Content: "hi", CreatedAt: at, ClientMsgID: "abc"}
		data, err := MessageEnvelope(msg).Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		env := ParseEnvelope(data)
		if env.Kind != KindChatMessage {
			t.Fatalf("kind = %v, want chat message", env.Kind)
		}
		if *env.Message != msg {
			t.Fatalf("roundtrip mismatch: %+v != %+v", *env.Message, msg)
		}
	})

	t.Run("unknown not sendable", func(t *testing.T) {
		if _, err := (Envelope{Kind: KindUnknown}).Encode(); err == nil {
			t.Fatal("expected error for unknown envelope")
		}
	})
}

func TestMessagePeerOf(t *testing.T) {
	m := Message{SenderID: 1, ReceiverID: 2}
	if got := m.PeerOf(2); got != 1 {
		t.Fatalf("receiver's peer = %d, want sender 1", got)
	}
	if got := m.PeerOf(1); got != 2 {
		t.Fatalf("sender's peer = %d, want receiver 2", got)
	}
}

func TestMessageDedupKeys(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	withID := Message{SenderID: 1, ReceiverID: 2, Content: "hi", CreatedAt: at, ClientMsgID: "abc"}
	echo := Message{SenderID: 1, ReceiverID: 2, Content: "hi", CreatedAt: at}

	if len(withID.dedupKeys()) != 2 {
		t.Fatalf("expected client key plus tuple key, got %v", withID.dedupKeys())
	}
	// An echo that strips the client id must still collide on the tuple key.
	tuple := withID.dedupKeys()[1]
	if echo.dedupKeys()[0] != tuple {
		t.Fatalf("echo tuple key %q does not match original %q", echo.dedupKeys()[0], tuple)
	}
}
