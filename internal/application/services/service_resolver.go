package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	"github.com/zatekoja/diagnosticpricesearch/internal/domain/providers"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
	"github.com/zatekoja/diagnosticpricesearch/pkg/utils"
)

// ServicePageResolver fetches one normalized page for a branch
type ServicePageResolver interface {
	ResolveAndFetch(ctx context.Context, branch entities.Branch, page, categoryID int, searchTerm string) (*entities.PageResult, error)
}

// PageFetchedFunc is called after each page of a multi-page fetch
type PageFetchedFunc func(page *entities.PageResult, progress *entities.AggregatedResult)

// ServiceResolver picks the backend for a branch and normalizes its pages
type ServiceResolver struct {
	router   *BackendRouter
	backends map[entities.BackendKind]providers.ServiceBackend
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewServiceResolver creates a resolver over the given backends
func NewServiceResolver(router *BackendRouter, metrics *observability.Metrics, backends ...providers.ServiceBackend) *ServiceResolver {
	byKind := make(map[entities.BackendKind]providers.ServiceBackend, len(backends))
	for _, b := range backends {
		byKind[b.Kind()] = b
	}
	return &ServiceResolver{
		router:   router,
		backends: byKind,
		metrics:  metrics,
		logger:   observability.ComponentLogger("service_resolver"),
	}
}

// BackendKindFor reports which backend serves branch
func (s *ServiceResolver) BackendKindFor(branch entities.Branch) entities.BackendKind {
	return s.router.KindFor(branch)
}

func (s *ServiceResolver) backendFor(branch entities.Branch) (providers.ServiceBackend, error) {
	kind := s.router.KindFor(branch)
	backend, ok := s.backends[kind]
	if !ok {
		return nil, apperrors.NewInternalError(fmt.Sprintf("no %s backend configured for branch %q", kind, branch.Name), nil)
	}
	return backend, nil
}

// ResolveAndFetch fetches one page of branch's price list and normalizes it
func (s *ServiceResolver) ResolveAndFetch(ctx context.Context, branch entities.Branch, page, categoryID int, searchTerm string) (*entities.PageResult, error) {
	backend, err := s.backendFor(branch)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "ServiceResolver.ResolveAndFetch")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.Int("branch.id", branch.ID),
		attribute.String("branch.backend", string(backend.Kind())),
		attribute.Int("page", page),
		attribute.Bool("search", searchTerm != ""),
	)

	start := time.Now()
	raw, err := backend.FetchServicePage(ctx, entities.ServicePageRequest{
		BranchID:   branch.ID,
		Branch:     branch,
		Page:       page,
		CategoryID: categoryID,
		SearchTerm: searchTerm,
	})
	if err != nil {
		if !apperrors.IsCancelled(err) {
			observability.RecordError(span, err)
		}
		return nil, err
	}

	result := NormalizePage(raw)
	observability.LoggerFromContext(ctx).Debug().
		Int("branch_id", branch.ID).
		Str("backend", string(backend.Kind())).
		Int("page", result.CurrentPage).
		Int("items", len(result.Items)).
		Bool("has_more", result.HasMore).
		Dur("elapsed", time.Since(start)).
		Msg("fetched service page")
	return result, nil
}

// FetchAllPages fetches pages startPage..endPage sequentially. endPage <= 0
// means "until the backend reports no more pages". The first failure stops the
// loop; everything fetched before it is still returned with Complete=false.
func (s *ServiceResolver) FetchAllPages(ctx context.Context, branch entities.Branch, categoryID, startPage, endPage int, onPageFetched PageFetchedFunc) *entities.AggregatedResult {
	if startPage < 1 {
		startPage = 1
	}
	agg := &entities.AggregatedResult{Items: []entities.ServiceRecord{}, HasMore: true}

	for page := startPage; endPage <= 0 || page <= endPage; page++ {
		result, err := s.ResolveAndFetch(ctx, branch, page, categoryID, "")
		if err != nil {
			agg.Err = err
			agg.FailedPage = page
			if !apperrors.IsCancelled(err) {
				s.logger.Warn().Err(err).Int("branch_id", branch.ID).Int("page", page).
					Int("pages_fetched", agg.PagesFetched).Msg("multi-page fetch stopped")
			}
			return agg
		}

		agg.Items = append(agg.Items, result.Items...)
		agg.PagesFetched++
		agg.HasMore = result.HasMore
		if result.LastPage != nil {
			last := *result.LastPage
			agg.LastPage = &last
		}
		if result.TotalCount > agg.TotalCount {
			agg.TotalCount = result.TotalCount
		}
		if len(agg.Items) > agg.TotalCount {
			agg.TotalCount = len(agg.Items)
		}
		if onPageFetched != nil {
			onPageFetched(result, agg)
		}

		if !result.HasMore {
			break
		}
	}

	agg.Complete = true
	return agg
}

// NormalizePage converts a backend page into canonical service records
func NormalizePage(raw *entities.RawServicePage) *entities.PageResult {
	items := make([]entities.ServiceRecord, 0, len(raw.Items))
	for _, item := range raw.Items {
		fields, ok := utils.NormalizeServiceFields(item)
		if !ok {
			continue
		}
		items = append(items, entities.ServiceRecord{
			Name:           fields.Name,
			Price:          fields.Price,
			OriginalFields: item,
		})
	}

	result := &entities.PageResult{
		Items:       items,
		CurrentPage: raw.CurrentPage,
		HasMore:     raw.HasMore,
		TotalCount:  raw.TotalCount,
	}
	if raw.LastPage != nil {
		last := *raw.LastPage
		result.LastPage = &last
	}
	return result
}
