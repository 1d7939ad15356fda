package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// IsPlayableVoice reports whether a mime type is an Ogg-family encoding, the
// only format the platform renders as an inline-playable voice note.
func IsPlayableVoice(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/ogg")
}

// PrepareSendRequest shapes a caller-supplied send body for the platform:
//
//   - messaging_product defaults to "whatsapp" when absent
//   - the non-standard recipient_phone_number field becomes "to" when "to"
//     is absent, and is dropped either way
//   - an audio send flagged as a voice note is verified against the media
//     metadata; the voice flag is forced false when the stored encoding is
//     not playable as a voice note (or verification is impossible), which
//     avoids an unplayable voice bubble on the recipient's client
func (c *Client) PrepareSendRequest(ctx context.Context, raw []byte) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parse send request: %w", err)
	}

	if _, ok := body["messaging_product"]; !ok {
		body["messaging_product"] = "whatsapp"
	}

	if _, ok := body["to"]; !ok {
		if v, ok := body["recipient_phone_number"]; ok {
			body["to"] = v
		}
	}
	delete(body, "recipient_phone_number")

	c.verifyVoiceFlag(ctx, body)

	return json.Marshal(body)
}

func (c *Client) verifyVoiceFlag(ctx context.Context, body map[string]any) {
	audio, ok := body["audio"].(map[string]any)
	if !ok {
		return
	}
	voice, _ := audio["voice"].(bool)
	if !voice {
		return
	}

	mediaID, _ := audio["id"].(string)
	if mediaID == "" {
		// Link-based audio cannot be verified against stored metadata.
		audio["voice"] = false
		c.logger.Warn("voice flag downgraded: no media id to verify")
		return
	}

	meta, err := c.MediaMetadata(ctx, mediaID)
	if err != nil {
		audio["voice"] = false
		c.logger.Warn("voice flag downgraded: metadata fetch failed", "media_id", mediaID, "err", err)
		return
	}
	if !IsPlayableVoice(meta.MimeType) {
		audio["voice"] = false
		c.logger.Warn("voice flag downgraded: encoding not playable as voice note",
			"media_id", mediaID, "mime_type", meta.MimeType)
	}
}
