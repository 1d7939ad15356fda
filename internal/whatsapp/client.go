// Package whatsapp is a thin client for the WhatsApp Business Cloud API
// (Graph API). It injects the bearer credential, shapes requests the way the
// platform expects, and hands upstream error payloads back verbatim so the
// proxy layer can pass them through.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v17.0"
)

// APIError carries an upstream Graph API failure. The body is the raw error
// payload, passed through to internal callers unmodified.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API %d: %s", e.StatusCode, string(e.Body))
}

// Client talks to the Graph API for one phone number / business account.
type Client struct {
	baseURL       string
	version       string
	accessToken   string
	phoneNumberID string
	businessID    string
	client        *http.Client
	logger        *slog.Logger
}

type Config struct {
	BaseURL           string
	Version           string
	AccessToken       string
	PhoneNumberID     string
	BusinessAccountID string
	Timeout           time.Duration
	Logger            *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		version:       cfg.Version,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		businessID:    cfg.BusinessAccountID,
		client:        &http.Client{Timeout: cfg.Timeout},
		logger:        cfg.Logger,
	}
}

// Configured reports whether the bearer credential is present.
func (c *Client) Configured() bool { return c.accessToken != "" }

// PhoneNumberID returns the configured sender phone number id ("" when unset).
func (c *Client) PhoneNumberID() string { return c.phoneNumberID }

// BusinessAccountID returns the configured WABA id ("" when unset).
func (c *Client) BusinessAccountID() string { return c.businessID }

func (c *Client) endpoint(parts ...string) string {
	u := c.baseURL + "/" + c.version
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// do performs one Graph API call and returns the raw response body. Non-2xx
// responses come back as *APIError with the upstream payload intact.
func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph API request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// SendMessage posts a prepared message body to {version}/{phone}/messages.
func (c *Client) SendMessage(ctx context.Context, body []byte) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.endpoint(c.phoneNumberID, "messages"), "application/json", bytesReader(body))
}

// PhoneInfo fetches the phone number object for the configured sender.
func (c *Client) PhoneInfo(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.endpoint(c.phoneNumberID), "", nil)
}

// --- Template management (requires the business account id) ---

func (c *Client) templatesEndpoint() string {
	return c.endpoint(c.businessID, "message_templates")
}

func (c *Client) CreateTemplate(ctx context.Context, body []byte) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.templatesEndpoint(), "application/json", bytesReader(body))
}

func (c *Client) ListTemplates(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.templatesEndpoint(), "", nil)
}

// EditTemplate updates a template by its Graph object id.
func (c *Client) EditTemplate(ctx context.Context, templateID string, body []byte) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.endpoint(templateID), "application/json", bytesReader(body))
}

// DeleteTemplate removes a template by name; the Graph API keys deletion on
// the template name, not the object id.
func (c *Client) DeleteTemplate(ctx context.Context, name string) (json.RawMessage, error) {
	u := c.templatesEndpoint() + "?name=" + url.QueryEscape(name)
	return c.do(ctx, http.MethodDelete, u, "", nil)
}

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
