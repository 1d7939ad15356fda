package server

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestDiagnostics_CountsPerMinute(t *testing.T) {
	d := NewDiagnostics(testServerLogger())
	req := httptest.NewRequest("POST", "/webhook", nil)

	d.Observe(req, []byte(`{}`))
	d.Observe(req, []byte(`{}`))

	minute := time.Now().Format("2006-01-02 15:04")
	if got := d.CountForMinute(minute); got != 2 {
		t.Errorf("expected 2 observations, got %d", got)
	}
}

func TestDiagnostics_TracksStatusIDs(t *testing.T) {
	d := NewDiagnostics(testServerLogger())
	req := httptest.NewRequest("POST", "/webhook", nil)

	body := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.9"}]}}]}]}`)
	d.Observe(req, body)
	if _, seen := d.statusIDs["wamid.9"]; !seen {
		t.Error("status id should be recorded")
	}

	// Second observation of the same id must not grow the set.
	d.Observe(req, body)
	if len(d.statusIDs) != 1 {
		t.Errorf("expected 1 tracked id, got %d", len(d.statusIDs))
	}
}

func TestDiagnostics_IgnoresNonStatusPayloads(t *testing.T) {
	d := NewDiagnostics(testServerLogger())
	req := httptest.NewRequest("POST", "/webhook", nil)

	d.Observe(req, []byte(`{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.1"}]}}]}]}`))
	if len(d.statusIDs) != 0 {
		t.Errorf("message payloads must not register status ids, got %d", len(d.statusIDs))
	}
}
