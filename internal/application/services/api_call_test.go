package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

func fastApiCall[T any](opts ApiCallOptions) *ApiCall[T] {
	opts.InitialDelay = time.Millisecond
	opts.MaxDelay = 4 * time.Millisecond
	return NewApiCall[T](opts)
}

func TestApiCall_RetriesTransientFailures(t *testing.T) {
	call := fastApiCall[int](ApiCallOptions{MaxRetries: 3})
	var attempts int32

	got, err := call.Execute(context.Background(), "", func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return 0, apperrors.NewServerError("upstream returned 503", 503)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(3), attempts)
}

func TestApiCall_DoesNotRetryClientErrors(t *testing.T) {
	call := fastApiCall[int](ApiCallOptions{MaxRetries: 3})
	var attempts int32

	_, err := call.Execute(context.Background(), "", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, apperrors.NewAuthenticationError("bad credentials", nil)
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeAuthentication, apperrors.TypeOf(err))
	assert.Equal(t, int32(1), attempts)
}

func TestApiCall_GivesUpAfterMaxRetries(t *testing.T) {
	call := fastApiCall[int](ApiCallOptions{MaxRetries: 2})
	var attempts int32

	_, err := call.Execute(context.Background(), "", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, apperrors.NewNetworkError("connection refused", errors.New("dial tcp"))
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeNetwork, apperrors.TypeOf(err))
	assert.Equal(t, int32(3), attempts)
}

func TestApiCall_CachesByKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	call := fastApiCall[string](ApiCallOptions{CacheTTL: time.Minute})
	call.now = func() time.Time { return now }
	var calls int32
	fn := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := call.Execute(context.Background(), "branch:1:page:1", fn)
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	}
	assert.Equal(t, int32(1), calls)

	now = now.Add(time.Minute)
	_, err := call.Execute(context.Background(), "branch:1:page:1", fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)

	call.ClearCache()
	_, err = call.Execute(context.Background(), "branch:1:page:1", fn)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestApiCall_ErrorsAreNotCached(t *testing.T) {
	call := fastApiCall[string](ApiCallOptions{CacheTTL: time.Minute})
	var calls int32

	_, err := call.Execute(context.Background(), "k", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", apperrors.NewValidationError("bad page")
	})
	require.Error(t, err)

	got, err := call.Execute(context.Background(), "k", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls)
}

func TestApiCall_CancelPrevious(t *testing.T) {
	call := fastApiCall[string](ApiCallOptions{CancelPrevious: true})
	started := make(chan struct{})
	firstErr := make(chan error, 1)

	go func() {
		_, err := call.Execute(context.Background(), "", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", apperrors.NewCancelledError(ctx.Err())
		})
		firstErr <- err
	}()
	<-started

	got, err := call.Execute(context.Background(), "", func(ctx context.Context) (string, error) {
		return "second", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	select {
	case err := <-firstErr:
		assert.True(t, apperrors.IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("first call was not cancelled")
	}
}

func TestApiCall_Cancel(t *testing.T) {
	call := fastApiCall[int](ApiCallOptions{MaxRetries: 5})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := call.Execute(context.Background(), "", func(ctx context.Context) (int, error) {
			select {
			case <-started:
			default:
				close(started)
			}
			<-ctx.Done()
			return 0, apperrors.NewNetworkError("aborted", ctx.Err())
		})
		done <- err
	}()
	<-started
	call.Cancel()

	select {
	case err := <-done:
		assert.True(t, apperrors.IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("call was not cancelled")
	}
}
