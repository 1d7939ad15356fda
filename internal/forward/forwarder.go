// Package forward delivers normalized records to the configured downstream
// webhook URLs. Delivery is a best-effort, fire-and-forget side channel: the
// acknowledgment already sent to the platform never depends on it.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"warelay/internal/domain"
	"warelay/internal/metrics"
)

const maxErrorBody = 512

// Client forwards normalized messages and statuses over HTTP POST.
type Client struct {
	messagesURL string
	statusesURL string
	client      *http.Client
	logger      *slog.Logger
}

type Config struct {
	MessagesURL string
	StatusesURL string
	Timeout     time.Duration
	Logger      *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		messagesURL: cfg.MessagesURL,
		statusesURL: cfg.StatusesURL,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

// ForwardMessage posts a normalized message to the messages URL. The error is
// returned for observability only; callers must not let it reach the platform
// response.
func (c *Client) ForwardMessage(ctx context.Context, msg domain.NormalizedMessage) error {
	if c.messagesURL == "" {
		c.logger.Info("message received but messages URL not configured", "message_id", msg.MessageID)
		return nil
	}
	if err := c.post(ctx, c.messagesURL, msg); err != nil {
		metrics.ForwardFailures.Inc()
		c.logger.Error("message forward failed",
			"message_id", msg.MessageID,
			"from", msg.From,
			"type", msg.Type,
			"url", c.messagesURL,
			"err", err,
		)
		return err
	}
	metrics.MessagesForwarded.Inc()
	c.logger.Info("message forwarded", "message_id", msg.MessageID, "type", msg.Type)
	return nil
}

// ForwardStatus posts a normalized status to the statuses URL.
func (c *Client) ForwardStatus(ctx context.Context, st domain.NormalizedStatus) error {
	if c.statusesURL == "" {
		c.logger.Info("status received but statuses URL not configured",
			"message_id", st.MessageID, "status", st.Status)
		return nil
	}
	if err := c.post(ctx, c.statusesURL, st); err != nil {
		metrics.ForwardFailures.Inc()
		c.logger.Error("status forward failed",
			"message_id", st.MessageID,
			"status", st.Status,
			"recipient", st.RecipientID,
			"url", c.statusesURL,
			"err", err,
		)
		return err
	}
	metrics.StatusesForwarded.Inc()
	c.logger.Info("status forwarded", "message_id", st.MessageID, "status", st.Status)
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ForwardLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("downstream %d: %s", resp.StatusCode, string(excerpt))
	}
	return nil
}
