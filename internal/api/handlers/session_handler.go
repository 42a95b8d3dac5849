package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/zatekoja/diagnosticpricesearch/internal/application/services"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

// SessionHandler exposes search controllers to UI clients
type SessionHandler struct {
	registry *services.SessionRegistry
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(registry *services.SessionRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

type selectBranchRequest struct {
	BranchID int `json:"branchId"`
}

type searchRequest struct {
	Term string `json:"term"`
}

type scrollRequest struct {
	ScrollTop    *float64 `json:"scrollTop"`
	ClientHeight *float64 `json:"clientHeight"`
	ScrollHeight *float64 `json:"scrollHeight"`
}

// CreateSession handles POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, controller := h.registry.Create()
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"session": controller.Snapshot(),
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, controller.Snapshot())
}

// SelectBranch handles POST /api/sessions/{id}/branch
func (h *SessionHandler) SelectBranch(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req selectBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := controller.SelectBranch(r.Context(), req.BranchID); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, controller.Snapshot())
}

// SetSearch handles PUT /api/sessions/{id}/search
func (h *SessionHandler) SetSearch(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := controller.SetSearchTerm(req.Term); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, controller.Snapshot())
}

// Scroll handles POST /api/sessions/{id}/scroll. The body may carry the list
// geometry; without it the client is assumed to be near the bottom.
func (h *SessionHandler) Scroll(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req scrollRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.ScrollTop != nil && req.ClientHeight != nil && req.ScrollHeight != nil &&
		!services.ShouldLoadMore(*req.ScrollTop, *req.ClientHeight, *req.ScrollHeight) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"requested": false,
			"session":   controller.Snapshot(),
		})
		return
	}

	requested, err := controller.OnScrollNearBottom(r.Context())
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"requested": requested,
		"session":   controller.Snapshot(),
	})
}

// Reset handles POST /api/sessions/{id}/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	controller.Reset()
	respondWithJSON(w, http.StatusOK, controller.Snapshot())
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Remove(r.PathValue("id")) {
		respondWithAppError(w, apperrors.NewNotFoundError("session not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) controller(w http.ResponseWriter, r *http.Request) (*services.SearchController, bool) {
	controller, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		respondWithAppError(w, apperrors.NewNotFoundError("session not found"))
		return nil, false
	}
	return controller, true
}
