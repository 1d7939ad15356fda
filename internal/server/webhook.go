package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"warelay/internal/event"
	"warelay/internal/metrics"
)

const eventAck = "EVENT_RECEIVED"

// handleVerification answers the platform's webhook handshake. The challenge
// is echoed back raw on a token match; a present-but-wrong token is 403 and
// missing parameters are 400.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if mode == "subscribe" && s.cfg.WhatsApp.VerifyToken != "" && token == s.cfg.WhatsApp.VerifyToken {
		s.logger.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	s.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleEvent receives inbound platform events. The response is always
// 200 "EVENT_RECEIVED" once the signature (when enforced) checks out; a
// non-200 would make the platform retry and amplify any downstream problem.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if s.cfg.WhatsApp.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, s.cfg.WhatsApp.AppSecret, sig) {
			s.logger.Warn("invalid webhook signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	metrics.EventsReceived.Inc()
	if s.diag != nil {
		s.diag.Observe(r, body)
	}

	res, err := event.Decode(body)
	if err != nil {
		// Malformed JSON still gets the ack; the platform must not retry it.
		s.logger.Warn("undecodable webhook payload", "err", err)
		s.ack(w)
		return
	}

	if !res.Recognized() {
		s.logger.Debug("unrecognized webhook event, dropped")
		s.ack(w)
		return
	}

	ctx := r.Context()

	if msg := res.Message; msg != nil {
		s.checkDuplicate(ctx, msg.MessageID)
		s.logger.Info("message received",
			"message_id", msg.MessageID, "from", msg.From, "type", msg.Type)
		// Forward failures are logged by the forwarder and deliberately
		// do not affect the ack.
		_ = s.fwd.ForwardMessage(ctx, *msg)
	}

	if st := res.Status; st != nil {
		s.logger.Info("status received",
			"message_id", st.MessageID, "status", st.Status, "recipient", st.RecipientID)
		_ = s.fwd.ForwardStatus(ctx, *st)
	}

	s.ack(w)
}

func (s *Server) ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, eventAck)
}

// checkDuplicate is advisory only: a repeat is counted and logged, never
// suppressed. Tracker failures degrade to "not seen".
func (s *Server) checkDuplicate(ctx context.Context, messageID string) {
	if s.tracker == nil || messageID == "" {
		return
	}
	seen, err := s.tracker.SeenBefore(ctx, messageID)
	if err != nil {
		s.logger.Warn("duplicate tracker failed", "err", err)
		return
	}
	if seen {
		metrics.DuplicateMessages.Inc()
		s.logger.Warn("duplicate message id observed", "message_id", messageID)
	}
}

// verifySignature checks the X-Hub-Signature-256 header.
func verifySignature(body []byte, secret, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}
