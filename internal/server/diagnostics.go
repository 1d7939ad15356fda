package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/buger/jsonparser"
)

// maxTrackedStatusIDs bounds the status-id set; the whole table resets when
// the cap is hit rather than evicting, which is fine for a debugging aid.
const maxTrackedStatusIDs = 10000

// Diagnostics is an opt-in debugging aid for the webhook path: per-minute
// request counts and a duplicate probe on status event ids.
type Diagnostics struct {
	mu        sync.Mutex
	perMinute map[string]int
	statusIDs map[string]struct{}
	logger    *slog.Logger
}

func NewDiagnostics(logger *slog.Logger) *Diagnostics {
	return &Diagnostics{
		perMinute: make(map[string]int),
		statusIDs: make(map[string]struct{}),
		logger:    logger,
	}
}

// Observe records one webhook request. The status id is pulled straight out
// of the raw payload so observation works even when normalization later
// classifies the event as unrecognized.
func (d *Diagnostics) Observe(r *http.Request, body []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	minute := time.Now().Format("2006-01-02 15:04")
	d.perMinute[minute]++
	if len(d.perMinute) > 1440 {
		d.perMinute = map[string]int{minute: d.perMinute[minute]}
	}

	d.logger.Debug("webhook request observed",
		"minute", minute,
		"count", d.perMinute[minute],
		"user_agent", r.UserAgent(),
		"remote", r.RemoteAddr,
	)

	statusID, err := jsonparser.GetString(body,
		"entry", "[0]", "changes", "[0]", "value", "statuses", "[0]", "id")
	if err != nil || statusID == "" {
		return
	}
	if _, seen := d.statusIDs[statusID]; seen {
		d.logger.Warn("duplicate status event", "status_id", statusID)
		return
	}
	if len(d.statusIDs) >= maxTrackedStatusIDs {
		d.statusIDs = make(map[string]struct{})
	}
	d.statusIDs[statusID] = struct{}{}
}

// CountForMinute returns how many webhook requests were observed during the
// given minute key (format "2006-01-02 15:04").
func (d *Diagnostics) CountForMinute(minute string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.perMinute[minute]
}
