package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
	"github.com/zatekoja/diagnosticpricesearch/pkg/retry"
)

// ApiCallOptions configures an ApiCall
type ApiCallOptions struct {
	// MaxRetries is the number of extra attempts for network and server errors
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// CacheTTL enables the per-caller result cache when positive
	CacheTTL time.Duration
	// CancelPrevious aborts the in-flight call when a new one starts
	CancelPrevious bool
	Name           string
}

type cachedCall[T any] struct {
	value     T
	expiresAt time.Time
}

// ApiCall runs upstream calls with exponential backoff on network and server
// errors, an optional keyed result cache and cancellation of superseded calls.
type ApiCall[T any] struct {
	opts   ApiCallOptions
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cache    map[string]cachedCall[T]
	cancel   context.CancelFunc
	inflight uint64
}

// NewApiCall creates an ApiCall
func NewApiCall[T any](opts ApiCallOptions) *ApiCall[T] {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 8 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "api_call"
	}
	return &ApiCall[T]{
		opts:   opts,
		logger: observability.ComponentLogger(opts.Name),
		now:    time.Now,
		cache:  make(map[string]cachedCall[T]),
	}
}

// Execute returns the cached value for key or runs fn. An empty key bypasses the cache.
func (a *ApiCall[T]) Execute(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if value, ok := a.cached(key); ok {
		return value, nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	if a.opts.CancelPrevious && a.cancel != nil {
		a.cancel()
	}
	a.inflight++
	id := a.inflight
	a.cancel = cancel
	a.mu.Unlock()

	var result T
	err := retry.Do(callCtx, retry.Config{
		MaxAttempts:   a.opts.MaxRetries + 1,
		InitialDelay:  a.opts.InitialDelay,
		MaxDelay:      a.opts.MaxDelay,
		BackoffFactor: 2,
		ShouldRetry:   apperrors.IsRetryable,
		OnRetry: func(attempt int, err error, nextDelay time.Duration) {
			a.logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", nextDelay).Str("key", key).Msg("retrying upstream call")
		},
	}, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})

	a.mu.Lock()
	if a.inflight == id {
		a.cancel = nil
	}
	a.mu.Unlock()

	if err != nil {
		if callCtx.Err() != nil && !apperrors.IsCancelled(err) {
			err = apperrors.NewCancelledError(err)
		}
		return zero, err
	}

	if key != "" && a.opts.CacheTTL > 0 {
		a.mu.Lock()
		a.cache[key] = cachedCall[T]{value: result, expiresAt: a.now().Add(a.opts.CacheTTL)}
		a.mu.Unlock()
	}
	return result, nil
}

// Cancel aborts the in-flight call, if any
func (a *ApiCall[T]) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// ClearCache drops every cached result
func (a *ApiCall[T]) ClearCache() {
	a.mu.Lock()
	a.cache = make(map[string]cachedCall[T])
	a.mu.Unlock()
}

func (a *ApiCall[T]) cached(key string) (T, bool) {
	var zero T
	if key == "" || a.opts.CacheTTL <= 0 {
		return zero, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok {
		return zero, false
	}
	if !a.now().Before(entry.expiresAt) {
		delete(a.cache, key)
		return zero, false
	}
	return entry.value, true
}
