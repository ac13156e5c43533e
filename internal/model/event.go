package model

import "encoding/json"

// Realtime event type tags on the wire.
const (
	EventMessageSend = "message.send"
	EventReadUpdate  = "read.update"
	EventMessageNew  = "message.new"
	EventReadUpdated = "read.updated"
)

// ClientEvent is one decoded inbound frame. The variants form a closed
// set; frames with an unrecognized type decode to UnknownEvent so the
// session can ignore them instead of closing.
type ClientEvent interface {
	isClientEvent()
}

// SendMessageEvent asks the session to persist and fan out a message.
type SendMessageEvent struct {
	Text string
}

// ReadUpdateEvent advances the sender's read cursor.
type ReadUpdateEvent struct {
	MessageID string
}

// UnknownEvent carries any frame the protocol does not recognize.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (SendMessageEvent) isClientEvent() {}
func (ReadUpdateEvent) isClientEvent()  {}
func (UnknownEvent) isClientEvent()     {}

// ParseClientEvent decodes an inbound frame into its variant. A frame
// that is not a JSON object is an error; the caller drops it.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	var frame struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}

	switch frame.Type {
	case EventMessageSend:
		return SendMessageEvent{Text: frame.Text}, nil
	case EventReadUpdate:
		return ReadUpdateEvent{MessageID: frame.MessageID}, nil
	default:
		return UnknownEvent{Type: frame.Type, Raw: json.RawMessage(data)}, nil
	}
}

// ServerEvent is one outbound frame.
type ServerEvent struct {
	Type    string           `json:"type"`
	Message *MessagePayload  `json:"message,omitempty"`
	Read    *ReadCursorEvent `json:"read,omitempty"`
}

// ReadCursorEvent notifies the group that a participant's read cursor
// moved.
type ReadCursorEvent struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	MessageID    string `json:"message_id"`
}

// NewMessageEvent wraps a persisted message for broadcast.
func NewMessageEvent(m *Message) *ServerEvent {
	p := NewMessagePayload(m)
	return &ServerEvent{Type: EventMessageNew, Message: &p}
}
