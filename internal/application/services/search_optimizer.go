package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/providers"
	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
)

// Debouncer runs only the last function triggered within the delay window
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer. A non-positive delay runs functions synchronously.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing anything still pending
func (d *Debouncer) Trigger(fn func()) {
	if d.delay <= 0 {
		d.Stop()
		fn()
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop drops the pending function, if any
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// SearchOptimizer caches search results keyed by term and filters for a TTL
type SearchOptimizer[T any] struct {
	cache   providers.CacheProvider
	prefix  string
	ttl     time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSearchOptimizer creates an optimizer storing entries in cache under prefix
func NewSearchOptimizer[T any](cache providers.CacheProvider, prefix string, ttl time.Duration, metrics *observability.Metrics) *SearchOptimizer[T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchOptimizer[T]{
		cache:   cache,
		prefix:  prefix,
		ttl:     ttl,
		metrics: metrics,
		logger:  observability.ComponentLogger("search_optimizer"),
	}
}

// Key builds the cache key; terms are case- and whitespace-insensitive and
// filters are order-insensitive.
func (o *SearchOptimizer[T]) Key(term string, filters map[string]string) string {
	names := make([]string, 0, len(filters))
	for k := range filters {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(o.prefix)
	b.WriteString(":")
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(term), " ")))
	for _, k := range names {
		fmt.Fprintf(&b, "|%s=%s", k, filters[k])
	}
	return b.String()
}

// Search returns a cached result or runs fn and caches what it returns.
// cached reports whether the value came from the cache. Errors are never cached.
func (o *SearchOptimizer[T]) Search(ctx context.Context, term string, filters map[string]string, fn func(ctx context.Context) (T, error)) (result T, cached bool, err error) {
	key := o.Key(term, filters)

	if o.cache != nil {
		data, getErr := o.cache.Get(ctx, key)
		if getErr == nil {
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr == nil {
				observability.RecordCacheHit(ctx, o.metrics, o.prefix)
				return result, true, nil
			}
			o.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		} else if !errors.Is(getErr, providers.ErrCacheMiss) {
			o.logger.Warn().Err(getErr).Str("key", key).Msg("search cache read failed")
		}
		observability.RecordCacheMiss(ctx, o.metrics, o.prefix)
	}

	result, err = fn(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}

	if o.cache != nil {
		if data, marshalErr := json.Marshal(result); marshalErr == nil {
			seconds := int(o.ttl / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			if setErr := o.cache.Set(ctx, key, data, seconds); setErr != nil {
				o.logger.Warn().Err(setErr).Str("key", key).Msg("search cache write failed")
			}
		}
	}
	return result, false, nil
}

// Invalidate drops one cached entry
func (o *SearchOptimizer[T]) Invalidate(ctx context.Context, term string, filters map[string]string) error {
	if o.cache == nil {
		return nil
	}
	return o.cache.Delete(ctx, o.Key(term, filters))
}
