package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage_PathAndAuth(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"messages":[{"id":"wamid.out"}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AccessToken: "tok", PhoneNumberID: "12345", Logger: testLogger()})
	resp, err := c.SendMessage(context.Background(), []byte(`{"to":"111"}`))
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v17.0/12345/messages" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("unexpected auth header %s", gotAuth)
	}
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatal(err)
	}
}

func TestDo_UpstreamErrorPassthrough(t *testing.T) {
	upstream := `{"error":{"message":"(#131030) Recipient phone number not in allowed list","code":131030}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, upstream, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AccessToken: "tok", PhoneNumberID: "12345", Logger: testLogger()})
	_, err := c.SendMessage(context.Background(), []byte(`{}`))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", apiErr.StatusCode)
	}
	if string(apiErr.Body) != upstream+"\n" && string(apiErr.Body) != upstream {
		t.Errorf("expected upstream body verbatim, got %s", apiErr.Body)
	}
}

func TestTemplates_Endpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AccessToken: "tok", BusinessAccountID: "waba-1", Logger: testLogger()})
	ctx := context.Background()

	if _, err := c.CreateTemplate(ctx, []byte(`{"name":"promo"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListTemplates(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.EditTemplate(ctx, "tpl-9", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.DeleteTemplate(ctx, "promo"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"POST /v17.0/waba-1/message_templates?",
		"GET /v17.0/waba-1/message_templates?",
		"POST /v17.0/tpl-9?",
		"DELETE /v17.0/waba-1/message_templates?name=promo",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(paths), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}

func TestUploadMedia_MultipartFields(t *testing.T) {
	var gotProduct, gotType, gotFilename, gotPartType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("expected multipart/form-data, got %s", r.Header.Get("Content-Type"))
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "messaging_product":
				gotProduct = string(data)
			case "type":
				gotType = string(data)
			case "file":
				gotFilename = part.FileName()
				gotPartType = part.Header.Get("Content-Type")
			}
		}
		fmt.Fprint(w, `{"id":"media-new"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AccessToken: "tok", PhoneNumberID: "12345", Logger: testLogger()})
	result, err := c.UploadMedia(context.Background(), []byte("%PDF-1.4 fake"), "doc.pdf", "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if result.ID != "media-new" {
		t.Errorf("expected media-new, got %s", result.ID)
	}
	if gotProduct != "whatsapp" {
		t.Errorf("expected messaging_product whatsapp, got %s", gotProduct)
	}
	if gotType != "application/pdf" || gotPartType != "application/pdf" {
		t.Errorf("expected declared type kept, got %s / %s", gotType, gotPartType)
	}
	if gotFilename != "doc.pdf" {
		t.Errorf("expected filename doc.pdf, got %s", gotFilename)
	}
}

func TestUploadMedia_SniffsGenericType(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == "type" {
				gotType = string(data)
			}
		}
		fmt.Fprint(w, `{"id":"media-new"}`)
	}))
	defer srv.Close()

	// PNG magic bytes; declared type is the generic container the platform rejects.
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

	c := New(Config{BaseURL: srv.URL, AccessToken: "tok", PhoneNumberID: "12345", Logger: testLogger()})
	if _, err := c.UploadMedia(context.Background(), png, "blob", "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	if gotType != "image/png" {
		t.Errorf("expected sniffed image/png, got %s", gotType)
	}
}

func TestDownloadMedia_DoesNotFollowRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://cdn.example/final", http.StatusFound)
	}))
	defer srv.Close()

	c := New(Config{AccessToken: "tok", Logger: testLogger()})
	resp, err := c.DownloadMedia(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("expected 302 handed back, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://cdn.example/final" {
		t.Errorf("expected Location preserved, got %s", loc)
	}
}

func TestMediaMetadata_Decode(t *testing.T) {
	srv := metadataStub(t, "audio/ogg")
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AccessToken: "tok", Logger: testLogger()})
	meta, err := c.MediaMetadata(context.Background(), "media-1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.MimeType != "audio/ogg" || meta.FileSize != 1024 || meta.SHA256 != "abc" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}
