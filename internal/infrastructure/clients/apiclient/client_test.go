package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

func TestDo_SuccessAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", Options{Name: "legacy", Headers: map[string]string{"X-Test": "yes"}})
	defer client.Close()

	resp, err := client.Do(context.Background(), http.MethodGet, "/services", func(r *resty.Request) {
		r.SetQueryParam("page", "2")
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.JSONEq(t, `{"ok":true}`, resp.String())
}

func TestDo_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := New(server.URL, Options{Name: "legacy"})
	resp, err := client.Do(context.Background(), http.MethodGet, "/services", nil)
	require.NoError(t, err)
	assert.Equal(t, ClassServer, Classify(context.Background(), resp, nil))

	statusErr := StatusError("legacy", resp)
	assert.Equal(t, apperrors.ErrorTypeServer, apperrors.TypeOf(statusErr))
	assert.Equal(t, http.StatusBadGateway, apperrors.StatusCodeOf(statusErr))
	assert.Contains(t, statusErr.Error(), "upstream down")
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(url, Options{Name: "legacy", Timeout: time.Second})
	_, err := client.Do(context.Background(), http.MethodGet, "/services", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeNetwork, apperrors.TypeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDo_CancelledIsDistinguishable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := New(server.URL, Options{Name: "token_auth"})
	_, err := client.Do(ctx, http.MethodGet, "/services", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestDo_LimiterRespectsCancelledContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := New("http://127.0.0.1:1", Options{Limiter: limiter})
	_, err := client.Do(ctx, http.MethodGet, "/services", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassNone, Classify(context.Background(), nil, nil))
	assert.Equal(t, ClassCancelled, Classify(context.Background(), nil, context.Canceled))
	assert.Equal(t, ClassNetwork, Classify(context.Background(), nil, context.DeadlineExceeded))
}
