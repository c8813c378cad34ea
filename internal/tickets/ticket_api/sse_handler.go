package ticket_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-ticket-gate/internal/models"
	"ms-ticket-gate/internal/utils"
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// StreamEvents streams live issue and redeem events to an admin client.
// ?type=ticket.issued or ?type=ticket.redeemed narrows the feed.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	filter := models.TicketEventType(r.URL.Query().Get("type"))
	switch filter {
	case "", models.TicketEventIssued, models.TicketEventRedeemed:
	default:
		_ = utils.SendError(w, http.StatusBadRequest, utils.NewErrorResponse(CodeValidation, "unknown event type"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.SendError(w, http.StatusInternalServerError, utils.NewErrorResponse(CodeInternal, "streaming unsupported"))
		return
	}

	// The feed outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ctx := r.Context()
	events := h.Events.Subscribe(ctx, filter)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Admin client connected to ticket feed (filter=%q)", filter))

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize ticket event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", event.Type, event.OrderID, data)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", "Admin client disconnected from ticket feed")
			return
		}
	}
}
