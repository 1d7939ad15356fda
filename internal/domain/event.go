package domain

import "encoding/json"

// MessageType classifies an inbound message by the platform's declared type tag.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageVideo    MessageType = "video"
	MessageSticker  MessageType = "sticker"
)

// UnsupportedContent is the content placeholder for message types the relay
// has no extraction rule for.
const UnsupportedContent = "unsupported content"

// NormalizedMessage is the flat record forwarded downstream for each inbound
// message. Derived once, never mutated.
type NormalizedMessage struct {
	MessageID   string          `json:"messageId"`
	From        string          `json:"from"`
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Timestamp   string          `json:"timestamp"`
	ContextFrom json.RawMessage `json:"contextFrom,omitempty"`
	Raw         json.RawMessage `json:"raw"`
}

// NormalizedStatus is the flat record forwarded downstream for each delivery
// status update (sent, delivered, read, failed).
type NormalizedStatus struct {
	MessageID    string          `json:"messageId"`
	RecipientID  string          `json:"recipientId"`
	Status       string          `json:"status"`
	Timestamp    string          `json:"timestamp"`
	Conversation json.RawMessage `json:"conversation,omitempty"`
	Pricing      json.RawMessage `json:"pricing,omitempty"`
	Errors       json.RawMessage `json:"errors,omitempty"`
	Raw          json.RawMessage `json:"raw"`
}
