package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warelay/internal/domain"
	"warelay/internal/metrics"
)

const maxUploadBytes = 100 << 20 // platform caps media at 100MB

// handleSendMessage shapes and relays an arbitrary send body to the Graph
// messages endpoint.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requirePhoneNumber(w) {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.respondErrorString(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	defer r.Body.Close()

	prepared, err := s.wa.PrepareSendRequest(r.Context(), raw)
	if err != nil {
		s.respondErrorString(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.wa.SendMessage(r.Context(), prepared)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

// handleMediaUpload accepts either a multipart "file" part (binary) or a
// JSON/form "url" reference. Binary wins when both are present; neither is
// a 400.
func (s *Server) handleMediaUpload(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requirePhoneNumber(w) {
		return
	}

	var (
		data         []byte
		filename     string
		declaredType string
		remoteURL    string
	)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(ct, "multipart/"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			s.respondErrorString(w, http.StatusBadRequest, "cannot parse multipart form")
			return
		}
		if file, header, err := r.FormFile("file"); err == nil {
			defer file.Close()
			buf, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
			if err != nil {
				s.respondErrorString(w, http.StatusBadRequest, "cannot read file part")
				return
			}
			data = buf
			filename = header.Filename
			declaredType = header.Header.Get("Content-Type")
		} else {
			remoteURL = r.FormValue("url")
			declaredType = r.FormValue("type")
		}
	default:
		var ref struct {
			URL  string `json:"url"`
			Type string `json:"type"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &ref); err != nil {
				s.respondErrorString(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		remoteURL = ref.URL
		declaredType = ref.Type
	}

	if data == nil && remoteURL != "" {
		fetched, remoteType, err := s.wa.FetchRemote(r.Context(), remoteURL)
		if err != nil {
			s.respondErrorString(w, http.StatusBadGateway, err.Error())
			return
		}
		data = fetched
		if declaredType == "" {
			declaredType = remoteType
		}
	}

	if data == nil {
		s.respondErrorString(w, http.StatusBadRequest, "no file or url provided")
		return
	}

	result, err := s.wa.UploadMedia(r.Context(), data, filename, declaredType)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	payload, _ := json.Marshal(result)
	s.respondData(w, payload)
}

// handleMediaDownload resolves the media id to its CDN URL and either streams
// the binary or, when the CDN redirects, hands the location back as JSON.
func (s *Server) handleMediaDownload(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireToken(w) {
		return
	}
	mediaID := r.PathValue("id")

	meta, err := s.wa.MediaMetadata(r.Context(), mediaID)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}

	resp, err := s.wa.DownloadMedia(r.Context(), meta.URL)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		payload, _ := json.Marshal(map[string]any{
			"mediaId":     mediaID,
			"downloadUrl": location,
			"mimeType":    meta.MimeType,
			"fileSize":    meta.FileSize,
			"sha256":      meta.SHA256,
		})
		s.respondData(w, payload)
		return
	}

	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	if meta.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("media stream interrupted", "media_id", mediaID, "err", err)
	}
}

func (s *Server) handleMediaMetadata(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireToken(w) {
		return
	}
	meta, err := s.wa.MediaMetadata(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	payload, _ := json.Marshal(meta)
	s.respondData(w, payload)
}

func (s *Server) handleMediaDelete(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireToken(w) {
		return
	}
	resp, err := s.wa.DeleteMedia(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

// --- template management ---

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireBusinessAccount(w) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.respondErrorString(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	defer r.Body.Close()

	resp, err := s.wa.CreateTemplate(r.Context(), body)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireBusinessAccount(w) {
		return
	}
	resp, err := s.wa.ListTemplates(r.Context())
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

func (s *Server) handleEditTemplate(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireToken(w) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.respondErrorString(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	defer r.Body.Close()

	resp, err := s.wa.EditTemplate(r.Context(), r.PathValue("id"), body)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

// handleDeleteTemplate deletes by template name; the path segment carries the
// name because the Graph API keys deletion on it.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requireBusinessAccount(w) {
		return
	}
	resp, err := s.wa.DeleteTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

// --- misc ---

func (s *Server) handlePhoneInfo(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if !s.requirePhoneNumber(w) {
		return
	}
	resp, err := s.wa.PhoneInfo(r.Context())
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	s.respondData(w, resp)
}

// handleTestN8N fires a synthetic message at the downstream messages URL and
// reports reachability. Bounded by its own timeout so a hung downstream
// cannot pin the request.
func (s *Server) handleTestN8N(w http.ResponseWriter, r *http.Request) {
	metrics.ProxyRequests.Inc()
	if s.cfg.Forward.MessagesURL == "" {
		s.respondErrorString(w, http.StatusBadRequest, "N8N_WEBHOOK_URL is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	probe := domain.NormalizedMessage{
		MessageID: fmt.Sprintf("test-%d", time.Now().UnixNano()),
		From:      "warelay",
		Type:      string(domain.MessageText),
		Content:   "connectivity test",
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := s.fwd.ForwardMessage(ctx, probe); err != nil {
		s.respondErrorString(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"target":    s.cfg.Forward.MessagesURL,
		"messageId": probe.MessageID,
	})
	s.respondData(w, payload)
}
