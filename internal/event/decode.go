// Package event decodes WhatsApp Business webhook payloads into the flat
// records the relay forwards downstream. Payloads that do not carry a
// recognized message or status decode to an empty Result; the caller still
// acknowledges them so the platform does not retry.
package event

import (
	"encoding/json"

	"warelay/internal/domain"
)

// Result is the outcome of decoding one inbound payload. A single payload may
// carry a message, a status, both, or neither.
type Result struct {
	Message *domain.NormalizedMessage
	Status  *domain.NormalizedStatus
}

// Recognized reports whether the payload carried anything worth forwarding.
func (r Result) Recognized() bool {
	return r.Message != nil || r.Status != nil
}

// --- Platform webhook envelope (absent fields decode to zero values) ---

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type changeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Contacts         []json.RawMessage `json:"contacts"`
	Messages         []waMessage       `json:"messages"`
	Statuses         []waStatus        `json:"statuses"`
}

type waMessage struct {
	From      string   `json:"from"`
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      *waText  `json:"text,omitempty"`
	Image     *waMedia `json:"image,omitempty"`
	Audio     *waMedia `json:"audio,omitempty"`
	Document  *waMedia `json:"document,omitempty"`
	Video     *waMedia `json:"video,omitempty"`
	Sticker   *waMedia `json:"sticker,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type waStatus struct {
	ID           string          `json:"id"`
	RecipientID  string          `json:"recipient_id"`
	Status       string          `json:"status"`
	Timestamp    string          `json:"timestamp"`
	Conversation json.RawMessage `json:"conversation,omitempty"`
	Pricing      json.RawMessage `json:"pricing,omitempty"`
	Errors       json.RawMessage `json:"errors,omitempty"`
}

// Decode parses one webhook body. A JSON error is returned only for malformed
// bodies; a well-formed body that is not a message/status event yields an
// empty Result and nil error.
func Decode(body []byte) (Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, err
	}

	// Only the first change of the first entry carries event data; the
	// platform sends one change per delivery.
	if env.Object == "" || len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return Result{}, nil
	}
	ch := env.Entry[0].Changes[0]

	var val changeValue
	if err := json.Unmarshal(ch.Value, &val); err != nil {
		return Result{}, nil
	}

	var res Result
	if len(val.Messages) > 0 {
		res.Message = normalizeMessage(val.Messages[0], val.Contacts, ch.Value)
	}
	if len(val.Statuses) > 0 {
		res.Status = normalizeStatus(val.Statuses[0], ch.Value)
	}
	return res, nil
}

func normalizeMessage(msg waMessage, contacts []json.RawMessage, raw json.RawMessage) *domain.NormalizedMessage {
	var contextFrom json.RawMessage
	if len(contacts) > 0 {
		contextFrom = contacts[0]
	}
	return &domain.NormalizedMessage{
		MessageID:   msg.ID,
		From:        msg.From,
		Type:        msg.Type,
		Content:     contentFor(msg),
		Timestamp:   msg.Timestamp,
		ContextFrom: contextFrom,
		Raw:         raw,
	}
}

func normalizeStatus(st waStatus, raw json.RawMessage) *domain.NormalizedStatus {
	return &domain.NormalizedStatus{
		MessageID:    st.ID,
		RecipientID:  st.RecipientID,
		Status:       st.Status,
		Timestamp:    st.Timestamp,
		Conversation: st.Conversation,
		Pricing:      st.Pricing,
		Errors:       st.Errors,
		Raw:          raw,
	}
}

// contentFor applies the per-type extraction rule: text body for text
// messages, the opaque media identifier for media types, and a fixed
// placeholder for everything else.
func contentFor(msg waMessage) string {
	switch domain.MessageType(msg.Type) {
	case domain.MessageText:
		if msg.Text != nil {
			return msg.Text.Body
		}
	case domain.MessageImage:
		if msg.Image != nil {
			return msg.Image.ID
		}
	case domain.MessageAudio:
		if msg.Audio != nil {
			return msg.Audio.ID
		}
	case domain.MessageDocument:
		if msg.Document != nil {
			return msg.Document.ID
		}
	case domain.MessageVideo:
		if msg.Video != nil {
			return msg.Video.ID
		}
	case domain.MessageSticker:
		if msg.Sticker != nil {
			return msg.Sticker.ID
		}
	}
	return domain.UnsupportedContent
}
