package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/internal/logging"
	"github.com/rmacdonaldsmith/retasync-go/internal/store"
)

const (
	defaultCacheLimit = 100
	defaultLogLimit   = 200
)

// parseLimit reads ?limit=, defaulting to fallback and capping at max.
func parseLimit(r *http.Request, fallback, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, false
	}
	return min(limit, max), true
}

// CachedEvents handles GET /v1/cache/events
func (h *Handlers) CachedEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultCacheLimit, store.MaxListLimit)
	if !ok {
		writeValidation(w, "limit", "limit must be a positive integer")
		return
	}

	events, err := h.deps.Store.ListCachedEvents(r.Context(), limit)
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	out := make([]CachedEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, CachedEventResponse{
			EventID:        ev.EventID,
			Name:           ev.Name,
			SourceIdentity: ev.SourceIdentity,
			Payload:        h.payloadJSON(ev.Payload, ev.EventID),
			ReceivedAt:     ev.ReceivedAt,
		})
	}
	writeJSON(w, map[string]any{"events": out}, http.StatusOK)
}

// CachedMessages handles GET /v1/cache/messages
func (h *Handlers) CachedMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultCacheLimit, store.MaxListLimit)
	if !ok {
		writeValidation(w, "limit", "limit must be a positive integer")
		return
	}

	messages, err := h.deps.Store.ListCachedMessages(r.Context(), limit)
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	out := make([]CachedMessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, CachedMessageResponse{
			MessageID:      m.MessageID,
			Kind:           m.Kind,
			Operation:      m.Operation,
			SourceIdentity: m.SourceIdentity,
			CorrelationID:  m.CorrelationID,
			Payload:        h.payloadJSON(m.Payload, m.MessageID),
			ReceivedAt:     m.ReceivedAt,
		})
	}
	writeJSON(w, map[string]any{"messages": out}, http.StatusOK)
}

// Logs handles GET /v1/logs
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Logs == nil {
		writeJSON(w, map[string]any{"lines": []logging.Line{}}, http.StatusOK)
		return
	}

	limit, ok := parseLimit(r, defaultLogLimit, h.deps.Logs.Cap())
	if !ok {
		writeValidation(w, "limit", "limit must be a positive integer")
		return
	}
	query := logging.Query{
		Level:    r.URL.Query().Get("level"),
		Contains: r.URL.Query().Get("contains"),
		Limit:    limit,
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeValidation(w, "since", "since must be an RFC 3339 timestamp")
			return
		}
		query.Since = since
	}

	writeJSON(w, map[string]any{"lines": h.deps.Logs.Query(query)}, http.StatusOK)
}
