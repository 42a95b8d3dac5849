package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

type fetchCall struct {
	BranchID int
	Page     int
	Term     string
}

type fakeResolver struct {
	fetch func(ctx context.Context, branch entities.Branch, page int, term string) (*entities.PageResult, error)

	mu    sync.Mutex
	calls []fetchCall
}

func (f *fakeResolver) ResolveAndFetch(ctx context.Context, branch entities.Branch, page, categoryID int, searchTerm string) (*entities.PageResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{BranchID: branch.ID, Page: page, Term: searchTerm})
	f.mu.Unlock()
	return f.fetch(ctx, branch, page, searchTerm)
}

func (f *fakeResolver) searchCalls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.Term != "" {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeResolver) called(branchID, page int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.BranchID == branchID && c.Page == page {
			return true
		}
	}
	return false
}

func records(prefix string, n int) []entities.ServiceRecord {
	out := make([]entities.ServiceRecord, n)
	for i := range out {
		out[i] = entities.ServiceRecord{Name: fmt.Sprintf("%s-%d", prefix, i), Price: float64(100 + i)}
	}
	return out
}

// pagedPage serves branch pages with the given item counts
func pagedPage(branch entities.Branch, page int, counts []int) *entities.PageResult {
	last := len(counts)
	if page < 1 || page > last {
		return &entities.PageResult{Items: []entities.ServiceRecord{}, CurrentPage: page, LastPage: &last}
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return &entities.PageResult{
		Items:       records(fmt.Sprintf("b%d-p%d", branch.ID, page), counts[page-1]),
		CurrentPage: page,
		HasMore:     page < last,
		LastPage:    &last,
		TotalCount:  total,
	}
}

func testCatalog() *BranchCatalog {
	return NewBranchCatalog([]entities.Branch{
		{ID: 1, Name: "Shantinagar", City: "Kathmandu"},
		{ID: 2, Name: "Maharajgunj", City: "Kathmandu"},
	})
}

func newTestController(t *testing.T, r *fakeResolver, debounce time.Duration) *SearchController {
	t.Helper()
	c := NewSearchController(r, testCatalog(), SearchControllerOptions{Debounce: debounce})
	t.Cleanup(c.Close)
	return c
}

func waitForIdleBackground(t *testing.T, c *SearchController) entities.SearchSession {
	t.Helper()
	require.Eventually(t, func() bool {
		return !c.Snapshot().BackgroundFetchActive
	}, 2*time.Second, 5*time.Millisecond)
	return c.Snapshot()
}

func TestSearchController_FetchesEveryPageInBackground(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		return pagedPage(b, page, []int{20, 20, 15}), nil
	}}
	c := newTestController(t, r, 0)

	require.NoError(t, c.SelectBranch(context.Background(), 1))

	snap := waitForIdleBackground(t, c)
	assert.Equal(t, entities.SearchStateReady, snap.State)
	assert.Len(t, snap.AllServices, 55)
	assert.Len(t, snap.VisibleServices, 55)
	assert.Equal(t, 55, snap.TotalCount)
	assert.Equal(t, 3, snap.CurrentPage)
	require.NotNil(t, snap.LastPage)
	assert.Equal(t, 3, *snap.LastPage)
	assert.True(t, snap.AllPagesFetched)
	assert.False(t, snap.HasMore)
	assert.Nil(t, snap.Error)
	assert.Equal(t, "b1-p1-0", snap.AllServices[0].Name)
	assert.Equal(t, "b1-p3-14", snap.AllServices[54].Name)
}

func TestSearchController_SinglePageBranch(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		return &entities.PageResult{Items: records("xray", 8), CurrentPage: 1}, nil
	}}
	c := newTestController(t, r, 0)

	require.NoError(t, c.SelectBranch(context.Background(), 2))

	snap := c.Snapshot()
	assert.Len(t, snap.VisibleServices, 8)
	assert.False(t, snap.HasMore)
	assert.True(t, snap.AllPagesFetched)
	assert.False(t, snap.BackgroundFetchActive)
	assert.Equal(t, 8, snap.TotalCount)
	assert.Nil(t, snap.LastPage)
}

func TestSearchController_SearchKeepsFullList(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if term != "" {
			return &entities.PageResult{Items: records("match", 3), CurrentPage: 1, HasMore: true}, nil
		}
		return pagedPage(b, page, []int{20, 20, 15}), nil
	}}
	c := newTestController(t, r, 0)
	require.NoError(t, c.SelectBranch(context.Background(), 1))
	waitForIdleBackground(t, c)

	require.NoError(t, c.SetSearchTerm("x-ray"))

	snap := c.Snapshot()
	assert.Equal(t, "x-ray", snap.SearchTerm)
	assert.Len(t, snap.VisibleServices, 3)
	assert.Len(t, snap.AllServices, 55)
	assert.Equal(t, 1, snap.SearchPage)
	assert.True(t, snap.SearchHasMore)
	assert.True(t, snap.HasMore)
	assert.False(t, snap.Searching)

	require.NoError(t, c.SetSearchTerm("  "))

	snap = c.Snapshot()
	assert.Len(t, snap.VisibleServices, 55)
	assert.Equal(t, snap.AllServices, snap.VisibleServices)
	assert.False(t, snap.HasMore)
	assert.Equal(t, 0, snap.SearchPage)
}

func TestSearchController_DebouncesSearch(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if term != "" {
			return &entities.PageResult{Items: records(term, 1), CurrentPage: 1}, nil
		}
		return &entities.PageResult{Items: records("all", 5), CurrentPage: 1}, nil
	}}
	c := newTestController(t, r, 30*time.Millisecond)
	require.NoError(t, c.SelectBranch(context.Background(), 2))

	for _, term := range []string{"c", "cb", "cbc"} {
		require.NoError(t, c.SetSearchTerm(term))
	}

	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return len(snap.VisibleServices) == 1 && snap.VisibleServices[0].Name == "cbc-0"
	}, 2*time.Second, 5*time.Millisecond)

	calls := r.searchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cbc", calls[0].Term)
}

func TestSearchController_BranchSwitchDiscardsStaleWork(t *testing.T) {
	gate := make(chan struct{})
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if b.ID == 1 && page == 2 {
			// Ignores ctx so the result arrives after the switch.
			<-gate
		}
		if b.ID == 1 {
			return pagedPage(b, page, []int{20, 20, 15}), nil
		}
		return pagedPage(b, page, []int{4}), nil
	}}
	c := newTestController(t, r, 0)

	require.NoError(t, c.SelectBranch(context.Background(), 1))
	first := c.Snapshot().SessionID

	require.NoError(t, c.SelectBranch(context.Background(), 2))
	close(gate)
	c.Close()

	snap := c.Snapshot()
	assert.NotEqual(t, first, snap.SessionID)
	require.NotNil(t, snap.Branch)
	assert.Equal(t, 2, snap.Branch.ID)
	require.Len(t, snap.AllServices, 4)
	for _, s := range snap.AllServices {
		assert.Contains(t, s.Name, "b2-")
	}
	assert.True(t, snap.AllPagesFetched)
}

func TestSearchController_BranchSwitchCancelsInflight(t *testing.T) {
	var cancelled atomic.Bool
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if b.ID == 1 && page == 2 {
			<-ctx.Done()
			cancelled.Store(true)
			return nil, apperrors.NewCancelledError(ctx.Err())
		}
		if b.ID == 1 {
			return pagedPage(b, page, []int{20, 20}), nil
		}
		return pagedPage(b, page, []int{3}), nil
	}}
	c := newTestController(t, r, 0)

	require.NoError(t, c.SelectBranch(context.Background(), 1))
	require.Eventually(t, func() bool { return r.called(1, 2) }, time.Second, time.Millisecond)
	require.NoError(t, c.SelectBranch(context.Background(), 2))

	assert.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	assert.Nil(t, snap.Error)
	assert.Len(t, snap.AllServices, 3)
}

func TestSearchController_ErrorKeepsLoadedData(t *testing.T) {
	var healthy atomic.Bool
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if page == 2 && !healthy.Load() {
			return nil, apperrors.NewServerError("upstream returned 500", 500)
		}
		return pagedPage(b, page, []int{20, 20, 15}), nil
	}}
	c := newTestController(t, r, 0)

	require.NoError(t, c.SelectBranch(context.Background(), 1))
	snap := waitForIdleBackground(t, c)

	require.NotNil(t, snap.Error)
	assert.Equal(t, string(apperrors.ErrorTypeServer), snap.Error.Type)
	assert.Equal(t, 500, snap.Error.StatusCode)
	assert.Len(t, snap.AllServices, 20)
	assert.True(t, snap.HasMore)
	assert.False(t, snap.AllPagesFetched)

	healthy.Store(true)
	requested, err := c.OnScrollNearBottom(context.Background())
	require.NoError(t, err)
	assert.True(t, requested)

	snap = c.Snapshot()
	assert.Nil(t, snap.Error)
	assert.Len(t, snap.AllServices, 40)
	assert.Len(t, snap.VisibleServices, 40)
	assert.Equal(t, 2, snap.CurrentPage)
	assert.True(t, snap.HasMore)
}

func TestSearchController_ScrollIgnoredWhileSearching(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if term != "" {
			return &entities.PageResult{Items: records("hit", 2), CurrentPage: 1}, nil
		}
		if page == 2 {
			return nil, apperrors.NewNetworkError("connection reset", nil)
		}
		return pagedPage(b, page, []int{20, 20}), nil
	}}
	c := newTestController(t, r, 0)
	require.NoError(t, c.SelectBranch(context.Background(), 1))
	waitForIdleBackground(t, c)

	require.NoError(t, c.SetSearchTerm("hit"))
	requested, err := c.OnScrollNearBottom(context.Background())
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestSearchController_FirstPageFailure(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		return nil, apperrors.NewAuthenticationError("token refresh failed", nil)
	}}
	c := newTestController(t, r, 0)

	err := c.SelectBranch(context.Background(), 1)
	require.Error(t, err)

	snap := c.Snapshot()
	require.NotNil(t, snap.Error)
	assert.Equal(t, string(apperrors.ErrorTypeAuthentication), snap.Error.Type)
	assert.Equal(t, "token refresh failed", snap.Error.Message)
	assert.False(t, snap.LoadingFirstPage)
	assert.Empty(t, snap.AllServices)
}

func TestSearchController_CallerGoneDuringFirstPage(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		select {
		case <-ctx.Done():
			return nil, apperrors.NewCancelledError(ctx.Err())
		case <-time.After(50 * time.Millisecond):
			return pagedPage(b, page, []int{20, 20}), nil
		}
	}}
	c := newTestController(t, r, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := c.SelectBranch(ctx, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))

	snap := c.Snapshot()
	assert.Equal(t, entities.SearchStateIdle, snap.State)
	assert.Nil(t, snap.Branch)
	assert.Empty(t, snap.SessionID)
	assert.False(t, snap.LoadingFirstPage)
	assert.Nil(t, snap.Error)

	requested, err := c.OnScrollNearBottom(context.Background())
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, c.SelectBranch(context.Background(), 1))
	snap = waitForIdleBackground(t, c)
	assert.Len(t, snap.AllServices, 40)
	assert.True(t, snap.AllPagesFetched)
}

func TestSearchController_SearchCancelsBackgroundPage(t *testing.T) {
	var page2Calls atomic.Int32
	var bgCancelled atomic.Bool
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if term != "" {
			return &entities.PageResult{Items: records("hit", 2), CurrentPage: 1}, nil
		}
		if page == 2 && page2Calls.Add(1) == 1 {
			<-ctx.Done()
			bgCancelled.Store(true)
			return nil, apperrors.NewCancelledError(ctx.Err())
		}
		return pagedPage(b, page, []int{20, 20, 15}), nil
	}}
	c := newTestController(t, r, 0)

	require.NoError(t, c.SelectBranch(context.Background(), 1))
	require.Eventually(t, func() bool { return r.called(1, 2) }, time.Second, time.Millisecond)
	require.True(t, c.Snapshot().BackgroundFetchActive)

	require.NoError(t, c.SetSearchTerm("hit"))
	require.Eventually(t, bgCancelled.Load, time.Second, time.Millisecond)

	snap := c.Snapshot()
	assert.False(t, snap.BackgroundFetchActive)
	assert.Len(t, snap.AllServices, 20)
	assert.Len(t, snap.VisibleServices, 2)
	assert.Nil(t, snap.Error)

	require.NoError(t, c.SetSearchTerm(""))
	time.Sleep(20 * time.Millisecond)

	snap = c.Snapshot()
	assert.False(t, snap.BackgroundFetchActive)
	assert.Len(t, snap.VisibleServices, 20)
	assert.True(t, snap.HasMore)
	assert.Equal(t, int32(1), page2Calls.Load())

	requested, err := c.OnScrollNearBottom(context.Background())
	require.NoError(t, err)
	assert.True(t, requested)

	snap = c.Snapshot()
	assert.Len(t, snap.AllServices, 40)
	assert.Len(t, snap.VisibleServices, 40)
	assert.Equal(t, 2, snap.CurrentPage)
	assert.True(t, snap.HasMore)
	assert.False(t, snap.BackgroundFetchActive)
}

func TestSearchController_LegacyXRaySearch(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		if term == "X-ray" {
			last := 1
			return &entities.PageResult{Items: records("xray", 8), CurrentPage: 1, LastPage: &last, TotalCount: 8}, nil
		}
		return pagedPage(b, page, []int{20}), nil
	}}
	c := newTestController(t, r, 0)
	require.NoError(t, c.SelectBranch(context.Background(), 2))

	require.NoError(t, c.SetSearchTerm("X-ray"))

	snap := c.Snapshot()
	assert.Equal(t, entities.SearchStateReady, snap.State)
	assert.Len(t, snap.VisibleServices, 8)
	assert.Len(t, snap.AllServices, 20)
	assert.False(t, snap.HasMore)
	assert.False(t, snap.SearchHasMore)
	assert.Equal(t, 1, snap.SearchPage)

	calls := r.searchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, fetchCall{BranchID: 2, Page: 1, Term: "X-ray"}, calls[0])
}

func TestSearchController_UnknownBranch(t *testing.T) {
	c := newTestController(t, &fakeResolver{}, 0)

	err := c.SelectBranch(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.TypeOf(err))
	assert.Equal(t, entities.SearchStateIdle, c.Snapshot().State)
}

func TestSearchController_ResetAndClose(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		return pagedPage(b, page, []int{5}), nil
	}}
	c := newTestController(t, r, 0)
	require.NoError(t, c.SelectBranch(context.Background(), 2))

	c.Reset()
	snap := c.Snapshot()
	assert.Equal(t, entities.SearchStateIdle, snap.State)
	assert.Empty(t, snap.SessionID)
	assert.Empty(t, snap.AllServices)

	c.Close()
	assert.ErrorIs(t, c.SelectBranch(context.Background(), 2), ErrControllerClosed)
	assert.ErrorIs(t, c.SetSearchTerm("x"), ErrControllerClosed)
	_, err := c.OnScrollNearBottom(context.Background())
	assert.ErrorIs(t, err, ErrControllerClosed)
}

func TestShouldLoadMore(t *testing.T) {
	tests := []struct {
		name         string
		scrollTop    float64
		clientHeight float64
		scrollHeight float64
		want         bool
	}{
		{"at bottom", 1500, 500, 2000, true},
		{"49px left", 1451, 500, 2000, true},
		{"exactly 50px left", 1450, 500, 2000, false},
		{"top of list", 0, 500, 2000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldLoadMore(tt.scrollTop, tt.clientHeight, tt.scrollHeight))
		})
	}
}

func TestSearchController_SubscribeSignalsChanges(t *testing.T) {
	r := &fakeResolver{fetch: func(ctx context.Context, b entities.Branch, page int, term string) (*entities.PageResult, error) {
		return pagedPage(b, page, []int{3}), nil
	}}
	c := newTestController(t, r, 0)

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.SelectBranch(context.Background(), 2))
	select {
	case _, ok := <-updates:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no change signal after branch selection")
	}

	c.Close()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	late, _ := c.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}
