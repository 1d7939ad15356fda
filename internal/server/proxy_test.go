package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"warelay/internal/config"
	"warelay/internal/whatsapp"
)

// newProxyServer wires a Server against a stub Graph API.
func newProxyServer(graphURL string, mutate func(*config.Config)) (*Server, *stubForwarder) {
	cfg := config.Defaults()
	if mutate != nil {
		mutate(cfg)
	}
	fwd := &stubForwarder{}
	srv := New(Config{
		Cfg: cfg,
		WhatsApp: whatsapp.New(whatsapp.Config{
			BaseURL:           graphURL,
			AccessToken:       "tok",
			PhoneNumberID:     "12345",
			BusinessAccountID: "waba-1",
			Logger:            testServerLogger(),
		}),
		Forwarder: fwd,
		Logger:    testServerLogger(),
	})
	return srv, fwd
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid envelope %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestProxy_MissingTokenIs400(t *testing.T) {
	cfg := config.Defaults()
	srv := New(Config{
		Cfg:       cfg,
		WhatsApp:  whatsapp.New(whatsapp.Config{Logger: testServerLogger()}),
		Forwarder: &stubForwarder{},
		Logger:    testServerLogger(),
	})

	req := httptest.NewRequest("GET", "/phone-info", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	m := decodeEnvelope(t, rr)
	if m["success"] != false {
		t.Error("expected success false")
	}
	if errMsg, _ := m["error"].(string); !strings.Contains(errMsg, "WHATSAPP_TOKEN") {
		t.Errorf("error should name the missing variable, got %v", m["error"])
	}
}

func TestProxy_MissingBusinessAccountIs400(t *testing.T) {
	cfg := config.Defaults()
	srv := New(Config{
		Cfg: cfg,
		WhatsApp: whatsapp.New(whatsapp.Config{
			AccessToken: "tok", PhoneNumberID: "12345", Logger: testServerLogger(),
		}),
		Forwarder: &stubForwarder{},
		Logger:    testServerLogger(),
	})

	req := httptest.NewRequest("GET", "/templates", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	m := decodeEnvelope(t, rr)
	if errMsg, _ := m["error"].(string); !strings.Contains(errMsg, "WABA_ID") {
		t.Errorf("error should name the missing variable, got %v", m["error"])
	}
}

func TestSendMessage_Success(t *testing.T) {
	var gotBody map[string]any
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"messages":[{"id":"wamid.out"}]}`)
	}))
	defer graph.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	req := httptest.NewRequest("POST", "/send-message",
		bytes.NewBufferString(`{"recipient_phone_number":"5215550001","type":"text","text":{"body":"hi"}}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeEnvelope(t, rr)
	if m["success"] != true {
		t.Error("expected success true")
	}
	if gotBody["messaging_product"] != "whatsapp" {
		t.Error("messaging_product should be defaulted before the Graph call")
	}
	if gotBody["to"] != "5215550001" {
		t.Error("recipient_phone_number should be renamed to to")
	}
}

func TestSendMessage_UpstreamErrorPassthrough(t *testing.T) {
	upstream := `{"error":{"message":"(#131030) not allowed","code":131030}}`
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, upstream)
	}))
	defer graph.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	req := httptest.NewRequest("POST", "/send-message", bytes.NewBufferString(`{"to":"111"}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected upstream 403 kept, got %d", rr.Code)
	}
	m := decodeEnvelope(t, rr)
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected upstream payload verbatim, got %v", m["error"])
	}
	inner := errObj["error"].(map[string]any)
	if inner["code"] != float64(131030) {
		t.Errorf("expected upstream code passed through, got %v", inner["code"])
	}
}

func TestMediaUpload_NeitherFileNorURL(t *testing.T) {
	srv, _ := newProxyServer("http://127.0.0.1:1", nil)
	req := httptest.NewRequest("POST", "/media", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	m := decodeEnvelope(t, rr)
	if errMsg, _ := m["error"].(string); !strings.Contains(errMsg, "no file or url") {
		t.Errorf("unexpected error: %v", m["error"])
	}
}

func TestMediaUpload_BinaryWinsOverURL(t *testing.T) {
	var remoteHits atomic.Int64
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteHits.Add(1)
	}))
	defer remote.Close()

	var uploaded []byte
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			if part.FormName() == "file" {
				uploaded, _ = io.ReadAll(part)
			}
		}
		fmt.Fprint(w, `{"id":"media-new"}`)
	}))
	defer graph.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("url", remote.URL+"/file.pdf")
	part, _ := writer.CreateFormFile("file", "doc.pdf")
	part.Write([]byte("binary-content"))
	writer.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	req := httptest.NewRequest("POST", "/media", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if remoteHits.Load() != 0 {
		t.Error("binary part must win; the url must not be fetched")
	}
	if string(uploaded) != "binary-content" {
		t.Errorf("expected binary uploaded, got %q", uploaded)
	}
}

func TestMediaUpload_ByURL(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("remote-bytes"))
	}))
	defer remote.Close()

	var uploaded []byte
	var gotType string
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "file":
				uploaded = data
			case "type":
				gotType = string(data)
			}
		}
		fmt.Fprint(w, `{"id":"media-new"}`)
	}))
	defer graph.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	body := fmt.Sprintf(`{"url":%q}`, remote.URL+"/file.pdf")
	req := httptest.NewRequest("POST", "/media", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(uploaded) != "remote-bytes" {
		t.Errorf("expected remote bytes uploaded, got %q", uploaded)
	}
	if gotType != "application/pdf" {
		t.Errorf("expected remote content type used, got %s", gotType)
	}
}

func TestMediaDownload_RedirectReturnsJSON(t *testing.T) {
	var graph *httptest.Server
	graph = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v17.0/media-1":
			fmt.Fprintf(w, `{"id":"media-1","url":%q,"mime_type":"image/jpeg","file_size":2048,"sha256":"abc"}`,
				graph.URL+"/cdn/media-1")
		case "/cdn/media-1":
			http.Redirect(w, r, "https://cdn.example/final", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer graph.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	req := httptest.NewRequest("GET", "/media/media-1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeEnvelope(t, rr)
	data := m["data"].(map[string]any)
	if data["downloadUrl"] != "https://cdn.example/final" {
		t.Errorf("expected CDN location, got %v", data["downloadUrl"])
	}
	if data["mimeType"] != "image/jpeg" || data["sha256"] != "abc" {
		t.Errorf("unexpected metadata in envelope: %v", data)
	}
}

func TestMediaDownload_StreamsBinary(t *testing.T) {
	var graph *httptest.Server
	graph = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v17.0/media-1":
			fmt.Fprintf(w, `{"id":"media-1","url":%q,"mime_type":"image/jpeg","file_size":9,"sha256":"abc"}`,
				graph.URL+"/cdn/media-1")
		case "/cdn/media-1":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpegbytes"))
		}
	}))
	defer graph.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	req := httptest.NewRequest("GET", "/media/media-1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "jpegbytes" {
		t.Errorf("expected binary streamed, got %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}
}

func TestMediaMetadata_AliasRoutes(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"media-1","url":"https://cdn.example/x","mime_type":"audio/ogg","file_size":7,"sha256":"abc"}`)
	}))
	defer graph.Close()

	srv, _ := newProxyServer(graph.URL, nil)
	for _, target := range []string{"/media/media-1/metadata", "/media/media-1/url", "/media-url/media-1"} {
		req := httptest.NewRequest("GET", target, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rr.Code)
		}
		m := decodeEnvelope(t, rr)
		data := m["data"].(map[string]any)
		if data["mime_type"] != "audio/ogg" {
			t.Errorf("%s: unexpected metadata %v", target, data)
		}
	}
}

func TestTestN8N_NotConfigured(t *testing.T) {
	srv, _ := newProxyServer("http://127.0.0.1:1", nil)
	req := httptest.NewRequest("GET", "/test-n8n", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	m := decodeEnvelope(t, rr)
	if errMsg, _ := m["error"].(string); !strings.Contains(errMsg, "N8N_WEBHOOK_URL") {
		t.Errorf("error should name the missing variable, got %v", m["error"])
	}
}

func TestTestN8N_FiresSyntheticMessage(t *testing.T) {
	srv, fwd := newProxyServer("http://127.0.0.1:1", func(cfg *config.Config) {
		cfg.Forward.MessagesURL = "https://n8n.example/webhook"
	})
	req := httptest.NewRequest("GET", "/test-n8n", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(fwd.messages) != 1 {
		t.Fatalf("expected 1 probe message, got %d", len(fwd.messages))
	}
	if fwd.messages[0].Type != "text" || fwd.messages[0].From != "warelay" {
		t.Errorf("unexpected probe record: %+v", fwd.messages[0])
	}
}
