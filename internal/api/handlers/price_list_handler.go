package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/zatekoja/diagnosticpricesearch/internal/application/services"
	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
)

// PriceListService is what the stateless price-list endpoints call
type PriceListService interface {
	Branches() []services.BranchView
	FetchPage(ctx context.Context, branchID, page, categoryID int, searchTerm string) (*entities.PageResult, bool, error)
	FetchAll(ctx context.Context, branchID, categoryID int) (*entities.AggregatedResult, error)
}

// PriceListHandler handles branch and price-list requests
type PriceListHandler struct {
	service         PriceListService
	defaultCategory int
}

// NewPriceListHandler creates a new price-list handler
func NewPriceListHandler(service PriceListService, defaultCategory int) *PriceListHandler {
	return &PriceListHandler{
		service:         service,
		defaultCategory: defaultCategory,
	}
}

// ListBranches handles GET /api/branches
func (h *PriceListHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches := h.service.Branches()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"branches": branches,
		"count":    len(branches),
	})
}

// GetServices handles GET /api/branches/{id}/services
func (h *PriceListHandler) GetServices(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathInt(r, "id")
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	category, err := queryInt(r, "category", h.defaultCategory)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	result, cached, err := h.service.FetchPage(r.Context(), branchID, page, category, search)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items":        result.Items,
		"count":        len(result.Items),
		"current_page": result.CurrentPage,
		"has_more":     result.HasMore,
		"last_page":    result.LastPage,
		"total_count":  result.TotalCount,
		"cached":       cached,
	})
}

// GetAllServices handles GET /api/branches/{id}/services/all
func (h *PriceListHandler) GetAllServices(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathInt(r, "id")
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	category, err := queryInt(r, "category", h.defaultCategory)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	result, err := h.service.FetchAll(r.Context(), branchID, category)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	body := map[string]interface{}{
		"items":         result.Items,
		"count":         len(result.Items),
		"pages_fetched": result.PagesFetched,
		"last_page":     result.LastPage,
		"total_count":   result.TotalCount,
		"complete":      result.Complete,
	}
	if !result.Complete && result.Err != nil {
		// Partial lists are still useful to the caller, just not cacheable.
		w.Header().Set("X-Partial-Content", "true")
		body["failed_page"] = result.FailedPage
		body["error"] = result.Err.Error()
	}
	respondWithJSON(w, http.StatusOK, body)
}
