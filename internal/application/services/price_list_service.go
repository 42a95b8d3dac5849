package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

// PriceListResolver is the resolver surface the stateless price-list endpoints need
type PriceListResolver interface {
	ServicePageResolver
	BackendKindFor(branch entities.Branch) entities.BackendKind
	FetchAllPages(ctx context.Context, branch entities.Branch, categoryID, startPage, endPage int, onPageFetched PageFetchedFunc) *entities.AggregatedResult
}

// BranchView is a catalog entry together with the backend serving it
type BranchView struct {
	entities.Branch
	Backend entities.BackendKind `json:"backend"`
}

// PriceListService serves single pages and whole price lists without a session
type PriceListService struct {
	resolver  PriceListResolver
	catalog   *BranchCatalog
	optimizer *SearchOptimizer[*entities.PageResult]
	calls     *ApiCall[*entities.PageResult]
}

// NewPriceListService creates the service. optimizer may have a nil cache.
func NewPriceListService(resolver PriceListResolver, catalog *BranchCatalog, optimizer *SearchOptimizer[*entities.PageResult], calls *ApiCall[*entities.PageResult]) *PriceListService {
	return &PriceListService{
		resolver:  resolver,
		catalog:   catalog,
		optimizer: optimizer,
		calls:     calls,
	}
}

// Branches lists the catalog
func (s *PriceListService) Branches() []BranchView {
	branches := s.catalog.All()
	out := make([]BranchView, 0, len(branches))
	for _, b := range branches {
		out = append(out, BranchView{Branch: b, Backend: s.resolver.BackendKindFor(b)})
	}
	return out
}

// FetchPage returns one normalized page, served from the search cache when possible
func (s *PriceListService) FetchPage(ctx context.Context, branchID, page, categoryID int, searchTerm string) (*entities.PageResult, bool, error) {
	if page < 1 {
		return nil, false, apperrors.NewValidationError("page must be 1 or greater")
	}
	branch, err := s.branch(branchID)
	if err != nil {
		return nil, false, err
	}

	filters := map[string]string{
		"branch":   strconv.Itoa(branch.ID),
		"page":     strconv.Itoa(page),
		"category": strconv.Itoa(categoryID),
	}
	key := s.optimizer.Key(searchTerm, filters)
	return s.optimizer.Search(ctx, searchTerm, filters, func(ctx context.Context) (*entities.PageResult, error) {
		return s.calls.Execute(ctx, key, func(ctx context.Context) (*entities.PageResult, error) {
			return s.resolver.ResolveAndFetch(ctx, branch, page, categoryID, searchTerm)
		})
	})
}

// FetchAll walks every page of a branch price list
func (s *PriceListService) FetchAll(ctx context.Context, branchID, categoryID int) (*entities.AggregatedResult, error) {
	branch, err := s.branch(branchID)
	if err != nil {
		return nil, err
	}
	return s.resolver.FetchAllPages(ctx, branch, categoryID, 1, 0, nil), nil
}

func (s *PriceListService) branch(id int) (entities.Branch, error) {
	branch, ok := s.catalog.Get(id)
	if !ok {
		return entities.Branch{}, apperrors.NewNotFoundError(fmt.Sprintf("branch %d not found", id))
	}
	return branch, nil
}
