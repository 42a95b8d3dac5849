package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/diagnosticpricesearch/internal/application/services"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
)

// SSEHandler streams session snapshots to UIs as pages arrive in the background
type SSEHandler struct {
	registry  *services.SessionRegistry
	heartbeat time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	clients int
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(registry *services.SessionRegistry, heartbeat time.Duration) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SSEHandler{
		registry:  registry,
		heartbeat: heartbeat,
		logger:    observability.ComponentLogger("sse"),
	}
}

// StreamSession handles GET /api/sessions/{id}/events
func (h *SSEHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	controller, ok := h.registry.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, unsubscribe := controller.Subscribe()
	defer unsubscribe()
	h.track(1)
	defer h.track(-1)

	h.sendEvent(w, "snapshot", controller.Snapshot())
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug().Str("id", id).Msg("client disconnected from session stream")
			return
		case <-ticker.C:
			// An open stream keeps its session from idle eviction
			h.registry.Get(id)
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now(),
			})
			flusher.Flush()
		case _, open := <-updates:
			if !open {
				h.sendEvent(w, "closed", map[string]string{"id": id})
				flusher.Flush()
				return
			}
			h.registry.Get(id)
			h.sendEvent(w, "snapshot", controller.Snapshot())
			flusher.Flush()
		}
	}
}

// GetClientCount returns the number of connected stream clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

func (h *SSEHandler) track(delta int) {
	h.mu.Lock()
	h.clients += delta
	h.mu.Unlock()
}

// sendEvent sends an SSE event to the client
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}
