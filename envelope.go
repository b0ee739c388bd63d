package chatapp

import "encoding/json"

// ============================================================================
// Wire envelope
// ============================================================================

// The realtime connection carries two frame shapes:
//
//	{"type":"status_update","user_id":<id>,"status":"online"|"offline"}
//	{"sender_id":<id>,"receiver_id":<id>,"content":"...","created_at":"..."}
//
// The discriminant is the "type" field: "status_update" means presence,
// absence of it means a chat message. Anything else decodes to KindUnknown
// and is dropped further up; a bad frame never fails the connection.

const typeStatusUpdate = "status_update"

// EnvelopeKind tags the variant held by an Envelope.
type EnvelopeKind int

const (
	KindUnknown EnvelopeKind = iota
	KindStatusUpdate
	KindChatMessage
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindStatusUpdate:
		return "status_update"
	case KindChatMessage:
		return "chat_message"
	default:
		return "unknown"
	}
}

// StatusUpdate announces that a user went online or offline.
type StatusUpdate struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Status Status `json:"status"`
}

// Envelope is one inbound or outbound unit on the realtime connection:
// exactly one of Status and Message is set according to Kind. Raw keeps the
// original frame for diagnostics on unknown input.
type Envelope struct {
	Kind    EnvelopeKind
	Status  *StatusUpdate
	Message *Message
	Raw     json.RawMessage
}

// StatusEnvelope builds an outbound presence announcement.
func StatusEnvelope(userID int64, status Status) Envelope {
	return Envelope{
		Kind:   KindStatusUpdate,
		Status: &StatusUpdate{Type: typeStatusUpdate, UserID: userID, Status: status},
	}
}

// MessageEnvelope wraps a chat message for sending.
func MessageEnvelope(msg Message) Envelope {
	return Envelope{Kind: KindChatMessage, Message: &msg}
}

// ParseEnvelope classifies a raw frame. It never fails: frames that are not
// valid JSON or match neither shape come back as KindUnknown with Raw set.
func ParseEnvelope(data []byte) Envelope {
	raw := json.RawMessage(append([]byte(nil), data...))

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{Kind: KindUnknown, Raw: raw}
	}

	if probe.Type == typeStatusUpdate {
		var su StatusUpdate
		if err := json.Unmarshal(data, &su); err != nil || su.UserID == 0 || !su.Status.valid() {
			return Envelope{Kind: KindUnknown, Raw: raw}
		}
		return Envelope{Kind: KindStatusUpdate, Status: &su, Raw: raw}
	}

	if probe.Type != "" {
		// A tagged frame we do not understand.
		return Envelope{Kind: KindUnknown, Raw: raw}
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil ||
		msg.SenderID == 0 || msg.ReceiverID == 0 || msg.Content == "" {
		return Envelope{Kind: KindUnknown, Raw: raw}
	}
	return Envelope{Kind: KindChatMessage, Message: &msg, Raw: raw}
}

// Encode marshals the envelope into its wire shape. Unknown envelopes are
// not sendable.
func (e Envelope) Encode() ([]byte, error) {
	switch e.Kind {
	case KindStatusUpdate:
		return json.Marshal(e.Status)
	case KindChatMessage:
		return json.Marshal(e.Message)
	default:
		return nil, errUnknownEnvelope
	}
}
