package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
)

// Stream handles GET /v1/logs/stream: a server-sent event push stream of
// hub notifications, filtered by kind, job_id and transfer_id.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, ReasonNodeUnavailable, "push stream unavailable", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ReasonInternal, "streaming unsupported", "")
		return
	}

	query := r.URL.Query()
	filter := fanout.Filter{
		Kinds:       splitParam(query["kind"]),
		JobIDs:      splitParam(query["job_id"]),
		TransferIDs: splitParam(query["transfer_id"]),
	}

	// Subscribe before the headers go out so nothing published after the
	// client sees 200 is missed.
	sub := h.deps.Hub.Subscribe(filter)
	defer h.deps.Hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	logger := h.logger.With(zap.String("subscriber_id", sub.ID()))
	logger.Debug("push stream opened", zap.Strings("kinds", filter.Kinds))
	defer func() { logger.Debug("push stream closed", zap.Uint64("dropped", sub.Dropped())) }()

	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSE(w, n); err != nil {
				logger.Debug("push stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes n as one "id/event/data" frame.
func writeSSE(w http.ResponseWriter, n fanout.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.Seq, n.Kind, data)
	return err
}

// splitParam flattens repeated and comma-separated query values.
func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
