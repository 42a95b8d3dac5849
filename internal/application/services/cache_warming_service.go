package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
)

// PageWarmer is the part of PriceListService the warmer drives
type PageWarmer interface {
	Branches() []BranchView
	FetchPage(ctx context.Context, branchID, page, categoryID int, searchTerm string) (*entities.PageResult, bool, error)
}

// CacheWarmingService preloads the first pages of every branch price list so
// the first visitor of a branch does not wait on the upstream API.
type CacheWarmingService struct {
	priceList  PageWarmer
	pages      int
	categoryID int
	logger     zerolog.Logger
}

// NewCacheWarmingService creates a new cache warming service
func NewCacheWarmingService(priceList PageWarmer, pages, categoryID int) *CacheWarmingService {
	if pages < 1 {
		pages = 1
	}
	return &CacheWarmingService{
		priceList:  priceList,
		pages:      pages,
		categoryID: categoryID,
		logger:     observability.ComponentLogger("cache_warming"),
	}
}

// WarmCache fetches the leading pages of each branch. Failures are logged and
// skipped; it returns the number of pages now cached.
func (s *CacheWarmingService) WarmCache(ctx context.Context) int {
	start := time.Now()
	warmed := 0

	for _, branch := range s.priceList.Branches() {
		for page := 1; page <= s.pages; page++ {
			if ctx.Err() != nil {
				return warmed
			}
			result, _, err := s.priceList.FetchPage(ctx, branch.ID, page, s.categoryID, "")
			if err != nil {
				s.logger.Warn().Err(err).Int("branch_id", branch.ID).Int("page", page).Msg("failed to warm page")
				break
			}
			warmed++
			if !result.HasMore {
				break
			}
		}
	}

	s.logger.Info().Int("pages", warmed).Dur("elapsed", time.Since(start)).Msg("cache warming completed")
	return warmed
}

// StartPeriodicWarming warms once, then again every interval until ctx is done
func (s *CacheWarmingService) StartPeriodicWarming(ctx context.Context, interval time.Duration) {
	s.WarmCache(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("stopping cache warming service")
				return
			case <-ticker.C:
				s.WarmCache(ctx)
			}
		}
	}()
	s.logger.Info().Dur("interval", interval).Msg("started periodic cache warming")
}
