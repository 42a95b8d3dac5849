package tokenauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
)

// ExpirySafetyMargin is subtracted from the server-reported token lifetime.
// A token inside this margin is treated as expired.
const ExpirySafetyMargin = 5 * time.Minute

// TokenFetcher obtains a fresh token from the auth endpoint
type TokenFetcher func(ctx context.Context) (*entities.AuthToken, error)

// TokenCache holds at most one bearer token in memory. Concurrent callers that
// find it empty or expired share a single fetch.
type TokenCache struct {
	mu    sync.RWMutex
	token *entities.AuthToken
	group singleflight.Group
	now   func() time.Time

	// incremented each time the cache is invalidated; a fetch that started
	// before an invalidation does not repopulate the cache
	epoch uint64
}

// NewTokenCache returns an empty cache
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns a valid cached token or fetches one
func (c *TokenCache) Get(ctx context.Context, fetch TokenFetcher) (string, error) {
	if value, ok := c.valid(); ok {
		return value, nil
	}

	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()

	ch := c.group.DoChan("token", func() (interface{}, error) {
		// detached from the first caller so its cancellation does not fail the others
		token, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.epoch == epoch {
			c.token = token
		}
		c.mu.Unlock()
		return token.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the API answered 401
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.epoch++
	c.mu.Unlock()
	c.group.Forget("token")
}

func (c *TokenCache) valid() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || !c.now().Before(c.token.ExpiresAt) {
		return "", false
	}
	return c.token.Value, true
}

// newAuthToken applies the safety margin to a server-reported lifetime
func newAuthToken(value string, lifetime time.Duration, now time.Time) *entities.AuthToken {
	return &entities.AuthToken{
		Value:     value,
		ExpiresAt: now.Add(lifetime - ExpirySafetyMargin),
	}
}
