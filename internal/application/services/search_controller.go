package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

// ScrollThresholdPx is how close to the bottom the list must be before more
// pages are requested.
const ScrollThresholdPx = 50

// ErrControllerClosed is returned by every operation after Close
var ErrControllerClosed = errors.New("search controller closed")

// SearchControllerOptions configures a SearchController
type SearchControllerOptions struct {
	Debounce   time.Duration
	CategoryID int
	Metrics    *observability.Metrics
}

// SearchController owns the price-list state of one UI session.
//
// Exactly one session (one selected branch) is active at a time. Every
// asynchronous completion carries the session id it was started for and is
// dropped if that session is no longer active, even when the HTTP abort that
// should have stopped it did not land in time.
type SearchController struct {
	resolver  ServicePageResolver
	catalog   *BranchCatalog
	opts      SearchControllerOptions
	debouncer *Debouncer
	logger    zerolog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	session entities.SearchSession

	branchHasMore bool
	searchActive  bool

	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	backgroundGen    uint64
	backgroundCancel context.CancelFunc

	searchGen    uint64
	searchCancel context.CancelFunc

	subscribers map[chan struct{}]struct{}
}

// NewSearchController creates an idle controller
func NewSearchController(resolver ServicePageResolver, catalog *BranchCatalog, opts SearchControllerOptions) *SearchController {
	return &SearchController{
		resolver:    resolver,
		catalog:     catalog,
		opts:        opts,
		debouncer:   NewDebouncer(opts.Debounce),
		logger:      observability.ComponentLogger("search_controller"),
		session:     idleSession(),
		subscribers: make(map[chan struct{}]struct{}),
	}
}

func idleSession() entities.SearchSession {
	return entities.SearchSession{
		State:           entities.SearchStateIdle,
		AllServices:     []entities.ServiceRecord{},
		VisibleServices: []entities.ServiceRecord{},
	}
}

// Snapshot returns a copy of the current session
func (c *SearchController) Snapshot() entities.SearchSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.session
	snap.AllServices = append([]entities.ServiceRecord(nil), c.session.AllServices...)
	snap.VisibleServices = append([]entities.ServiceRecord(nil), c.session.VisibleServices...)
	if snap.AllServices == nil {
		snap.AllServices = []entities.ServiceRecord{}
	}
	if snap.VisibleServices == nil {
		snap.VisibleServices = []entities.ServiceRecord{}
	}
	if c.session.Branch != nil {
		b := *c.session.Branch
		snap.Branch = &b
	}
	if c.session.LastPage != nil {
		last := *c.session.LastPage
		snap.LastPage = &last
	}
	if c.session.Error != nil {
		e := *c.session.Error
		snap.Error = &e
	}
	snap.HasMore = c.branchHasMore
	if c.searchActive {
		snap.HasMore = c.session.SearchHasMore
	}
	return snap
}

// SelectBranch starts a new session for branchID, superseding the current one.
// It returns once the first page is shown; remaining pages load in the background.
func (c *SearchController) SelectBranch(ctx context.Context, branchID int) error {
	branch, ok := c.catalog.Get(branchID)
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("branch %d not found", branchID))
	}

	c.debouncer.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.cancelSessionLocked()

	sessionID := uuid.NewString()
	c.sessionCtx, c.sessionCancel = context.WithCancel(context.Background())
	c.session = idleSession()
	c.session.SessionID = sessionID
	c.session.Branch = &branch
	c.session.State = entities.SearchStateLoadingFirstPage
	c.session.LoadingFirstPage = true
	c.branchHasMore = false
	c.searchActive = false
	fetchCtx, stop := c.requestContextLocked(ctx)
	c.unlockAndNotify()
	defer stop()

	c.logger.Debug().Str("session_id", sessionID).Int("branch_id", branch.ID).Msg("branch selected")

	page, err := c.resolver.ResolveAndFetch(fetchCtx, branch, 1, c.opts.CategoryID, "")

	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.session.SessionID != sessionID {
		observability.RecordStaleDiscard(context.Background(), c.opts.Metrics, "first_page")
		return nil
	}
	if err != nil && (apperrors.IsCancelled(err) || fetchCtx.Err() != nil) {
		// The caller went away before page 1 arrived. Nothing was loaded, so
		// the session is dropped rather than left without a way to resume.
		c.cancelSessionLocked()
		c.session = idleSession()
		c.branchHasMore = false
		c.searchActive = false
		return err
	}
	c.session.LoadingFirstPage = false
	c.session.State = c.readyStateLocked()

	if err != nil {
		c.session.Error = errorInfo(err)
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("first page failed")
		return err
	}

	c.session.AllServices = append(c.session.AllServices, page.Items...)
	if !c.searchActive {
		c.session.VisibleServices = append([]entities.ServiceRecord(nil), c.session.AllServices...)
	}
	c.applyBranchPageLocked(page)

	if c.branchHasMore && !c.searchActive {
		c.startBackgroundLocked(sessionID)
	}
	return nil
}

// SetSearchTerm records the typed term. A non-empty term triggers a debounced
// server-side search; an empty term restores the full list immediately.
func (c *SearchController) SetSearchTerm(term string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.session.SearchTerm = term
	sessionID := c.session.SessionID
	trimmed := strings.TrimSpace(term)

	if trimmed == "" {
		c.clearSearchLocked()
		c.unlockAndNotify()
		c.debouncer.Stop()
		return nil
	}
	c.unlockAndNotify()

	if sessionID == "" {
		return nil
	}
	c.debouncer.Trigger(func() {
		c.runSearch(sessionID, term)
	})
	return nil
}

// ShouldLoadMore applies the near-bottom rule to scroll geometry
func ShouldLoadMore(scrollTop, clientHeight, scrollHeight float64) bool {
	return scrollHeight-scrollTop-clientHeight < ScrollThresholdPx
}

// OnScrollNearBottom fetches the next page when nothing else is loading, no
// search is active and the branch has more pages. It reports whether a page
// was requested.
func (c *SearchController) OnScrollNearBottom(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrControllerClosed
	}
	s := &c.session
	if s.Branch == nil || s.LoadingFirstPage || s.BackgroundFetchActive || s.LoadingMore ||
		c.searchActive || !c.branchHasMore {
		c.mu.Unlock()
		return false, nil
	}

	sessionID := s.SessionID
	branch := *s.Branch
	nextPage := s.CurrentPage + 1
	s.LoadingMore = true
	s.Error = nil
	fetchCtx, stop := c.requestContextLocked(ctx)
	c.unlockAndNotify()
	defer stop()

	page, err := c.resolver.ResolveAndFetch(fetchCtx, branch, nextPage, c.opts.CategoryID, "")

	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.session.SessionID != sessionID {
		observability.RecordStaleDiscard(context.Background(), c.opts.Metrics, "scroll")
		return true, nil
	}
	c.session.LoadingMore = false
	if err != nil {
		if apperrors.IsCancelled(err) {
			return true, nil
		}
		c.session.Error = errorInfo(err)
		return true, err
	}

	c.session.AllServices = append(c.session.AllServices, page.Items...)
	if !c.searchActive {
		c.session.VisibleServices = append(c.session.VisibleServices, page.Items...)
	}
	c.applyBranchPageLocked(page)
	return true, nil
}

// Reset cancels all work and returns to Idle
func (c *SearchController) Reset() {
	c.debouncer.Stop()
	c.mu.Lock()
	defer c.unlockAndNotify()
	c.cancelSessionLocked()
	c.session = idleSession()
	c.branchHasMore = false
	c.searchActive = false
}

// Close is the unmount path: it cancels outstanding requests, stops further
// state updates and waits for background work to return.
func (c *SearchController) Close() {
	c.debouncer.Stop()
	c.mu.Lock()
	c.closed = true
	c.cancelSessionLocked()
	for ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = make(map[chan struct{}]struct{})
	c.mu.Unlock()
	c.wg.Wait()
}

// Subscribe returns a channel that receives a signal whenever the session
// changes. Signals coalesce, so readers should take a fresh Snapshot on each
// one. The channel is closed when the controller closes.
func (c *SearchController) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	return ch, func() {
		c.mu.Lock()
		delete(c.subscribers, ch)
		c.mu.Unlock()
	}
}

func (c *SearchController) unlockAndNotify() {
	for ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
}

func (c *SearchController) runSearch(sessionID, term string) {
	c.mu.Lock()
	if c.closed || c.session.SessionID != sessionID || c.session.SearchTerm != term {
		c.mu.Unlock()
		return
	}
	branch := *c.session.Branch

	c.stopBackgroundLocked()
	if c.searchCancel != nil {
		c.searchCancel()
	}
	c.searchGen++
	gen := c.searchGen
	var searchCtx context.Context
	searchCtx, c.searchCancel = context.WithCancel(c.sessionCtx)
	c.searchActive = true
	c.session.Searching = true
	c.session.Error = nil
	c.session.State = c.readyStateLocked()
	c.wg.Add(1)
	c.unlockAndNotify()
	defer c.wg.Done()

	page, err := c.resolver.ResolveAndFetch(searchCtx, branch, 1, c.opts.CategoryID, strings.TrimSpace(term))

	c.mu.Lock()
	defer c.unlockAndNotify()
	if c.session.SessionID != sessionID || c.searchGen != gen {
		observability.RecordStaleDiscard(context.Background(), c.opts.Metrics, "search")
		return
	}
	c.session.Searching = false
	c.session.State = c.readyStateLocked()
	if err != nil {
		if !apperrors.IsCancelled(err) {
			c.session.Error = errorInfo(err)
			c.logger.Warn().Err(err).Str("session_id", sessionID).Str("term", term).Msg("search failed")
		}
		return
	}

	c.session.VisibleServices = append([]entities.ServiceRecord(nil), page.Items...)
	c.session.SearchPage = page.CurrentPage
	c.session.SearchHasMore = page.HasMore
}

func (c *SearchController) startBackgroundLocked(sessionID string) {
	c.backgroundGen++
	gen := c.backgroundGen
	var bgCtx context.Context
	bgCtx, c.backgroundCancel = context.WithCancel(c.sessionCtx)
	c.session.BackgroundFetchActive = true
	branch := *c.session.Branch

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.backgroundLoop(bgCtx, sessionID, gen, branch)
	}()
}

func (c *SearchController) backgroundLoop(ctx context.Context, sessionID string, gen uint64, branch entities.Branch) {
	for {
		c.mu.Lock()
		if !c.backgroundCurrentLocked(sessionID, gen) {
			c.mu.Unlock()
			return
		}
		nextPage := c.session.CurrentPage + 1
		c.mu.Unlock()

		page, err := c.resolver.ResolveAndFetch(ctx, branch, nextPage, c.opts.CategoryID, "")

		c.mu.Lock()
		if !c.backgroundCurrentLocked(sessionID, gen) {
			c.mu.Unlock()
			observability.RecordStaleDiscard(context.Background(), c.opts.Metrics, "background")
			return
		}
		if err != nil {
			c.session.BackgroundFetchActive = false
			if !apperrors.IsCancelled(err) {
				c.session.Error = errorInfo(err)
				c.logger.Warn().Err(err).Str("session_id", sessionID).Int("page", nextPage).Msg("background page failed")
			}
			c.unlockAndNotify()
			return
		}

		c.session.AllServices = append(c.session.AllServices, page.Items...)
		if !c.searchActive {
			c.session.VisibleServices = append(c.session.VisibleServices, page.Items...)
		}
		c.applyBranchPageLocked(page)
		if !c.branchHasMore {
			c.session.BackgroundFetchActive = false
			c.unlockAndNotify()
			return
		}
		c.unlockAndNotify()
	}
}

func (c *SearchController) backgroundCurrentLocked(sessionID string, gen uint64) bool {
	return !c.closed && c.session.SessionID == sessionID && c.backgroundGen == gen
}

func (c *SearchController) applyBranchPageLocked(page *entities.PageResult) {
	if page.CurrentPage > 0 {
		c.session.CurrentPage = page.CurrentPage
	} else {
		c.session.CurrentPage++
	}
	c.branchHasMore = page.HasMore
	if page.LastPage != nil {
		last := *page.LastPage
		c.session.LastPage = &last
	}
	total := page.TotalCount
	if n := len(c.session.AllServices); n > total {
		total = n
	}
	if total > c.session.TotalCount {
		c.session.TotalCount = total
	}
	if !page.HasMore {
		c.session.AllPagesFetched = true
		c.session.TotalCount = len(c.session.AllServices)
	}
}

func (c *SearchController) clearSearchLocked() {
	if c.searchCancel != nil {
		c.searchCancel()
		c.searchCancel = nil
	}
	c.searchGen++
	c.searchActive = false
	c.session.Searching = false
	c.session.SearchPage = 0
	c.session.SearchHasMore = false
	c.session.VisibleServices = append([]entities.ServiceRecord(nil), c.session.AllServices...)
	c.session.State = c.readyStateLocked()
}

func (c *SearchController) stopBackgroundLocked() {
	if c.backgroundCancel != nil {
		c.backgroundCancel()
		c.backgroundCancel = nil
	}
	c.backgroundGen++
	c.session.BackgroundFetchActive = false
}

func (c *SearchController) cancelSessionLocked() {
	c.stopBackgroundLocked()
	if c.searchCancel != nil {
		c.searchCancel()
		c.searchCancel = nil
	}
	c.searchGen++
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
}

// requestContextLocked derives a context that ends with either the session or
// the caller's request.
func (c *SearchController) requestContextLocked(ctx context.Context) (context.Context, func()) {
	fetchCtx, cancel := context.WithCancel(c.sessionCtx)
	stopAfter := context.AfterFunc(ctx, cancel)
	return fetchCtx, func() {
		stopAfter()
		cancel()
	}
}

func (c *SearchController) readyStateLocked() entities.SearchState {
	switch {
	case c.session.Branch == nil:
		return entities.SearchStateIdle
	case c.session.LoadingFirstPage:
		return entities.SearchStateLoadingFirstPage
	case c.session.Searching:
		return entities.SearchStateSearching
	default:
		return entities.SearchStateReady
	}
}

func errorInfo(err error) *entities.ErrorInfo {
	info := &entities.ErrorInfo{
		Type:       string(apperrors.TypeOf(err)),
		Message:    err.Error(),
		StatusCode: apperrors.StatusCodeOf(err),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		info.Message = appErr.Message
	}
	return info
}
