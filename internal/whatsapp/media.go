package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MediaMetadata is the Graph media object: a short-lived download URL plus
// integrity fields.
type MediaMetadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256"`
}

// MediaMetadata fetches the media object for a media id.
func (c *Client) MediaMetadata(ctx context.Context, mediaID string) (*MediaMetadata, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint(mediaID), "", nil)
	if err != nil {
		return nil, err
	}
	var meta MediaMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode media metadata: %w", err)
	}
	return &meta, nil
}

// DeleteMedia removes an uploaded media object.
func (c *Client) DeleteMedia(ctx context.Context, mediaID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, c.endpoint(mediaID), "", nil)
}

// DownloadMedia starts downloading the binary behind a media URL. Redirects
// are not followed so the caller can hand the CDN location to its client
// instead of streaming. The caller owns resp.Body.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	noRedirect := &http.Client{
		Timeout: c.client.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}

// UploadResult is the Graph response to a media upload.
type UploadResult struct {
	ID string `json:"id"`
}

// UploadMedia uploads a binary to {version}/{phone}/media as multipart form
// data. When declaredType is empty or a generic container type, the content
// type is sniffed from the bytes instead (the platform rejects
// application/octet-stream uploads).
func (c *Client) UploadMedia(ctx context.Context, data []byte, filename, declaredType string) (*UploadResult, error) {
	fileType := declaredType
	if fileType == "" || fileType == "application/octet-stream" || fileType == "application/zip" {
		fileType = mimetype.Detect(data).String()
	}
	if filename == "" {
		filename = "file"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	if err := writer.WriteField("type", fileType); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", fileType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.endpoint(c.phoneNumberID, "media"), writer.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &result, nil
}

// FetchRemote downloads a remote file referenced by URL so it can be
// re-uploaded to the platform. Returns the bytes and the content type the
// remote server declared ("" when absent or generic).
func (c *Client) FetchRemote(ctx context.Context, remoteURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch remote media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("remote media fetch returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read remote media: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return data, contentType, nil
}
