package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/waa2l/queue2/internal/models"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type eventsResponse struct {
	Events []models.Event `json:"events"`
	// Next is the cursor to pass as after on the following request.
	Next int64 `json:"next"`
}

// handleEvents pages through the event log by sequence number. Clients resume
// by passing the last seq they saw as after.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "after must be a non-negative sequence number")
			return
		}
		after = parsed
	}

	limit := defaultEventLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxEventLimit)
	}

	events, err := h.events.ReadAfter(r.Context(), after, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := eventsResponse{Events: events, Next: after}
	if resp.Events == nil {
		resp.Events = []models.Event{}
	}
	if n := len(events); n > 0 {
		resp.Next = events[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}
