package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTavilyForTest(t *testing.T, url string) *TavilyClient {
	t.Helper()
	t.Setenv(EnvTavilyAPIKey, "tv-key")
	c, err := NewTavilyClient(NewLimiter(0))
	require.NoError(t, err)
	return c.WithEndpoint(url)
}

func TestSearchSendsKeyAndDecodes(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(tavilyResponse{Results: []Result{
			{URL: "https://a.example/1", Title: "One", Snippet: "text", Score: 0.9},
			{URL: "https://a.example/2", Title: "Two", Score: 0.4},
		}})
	}))
	defer srv.Close()

	c := newTavilyForTest(t, srv.URL)
	results, err := c.Search(context.Background(), "orchestration pipelines", 5)
	require.NoError(t, err)

	assert.Equal(t, "tv-key", got.APIKey)
	assert.Equal(t, 5, got.MaxResults)
	require.Len(t, results, 2)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(tavilyResponse{Results: []Result{{URL: "https://a.example/1"}}})
	}))
	defer srv.Close()

	c := newTavilyForTest(t, srv.URL)
	results, err := c.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTavilyForTest(t, srv.URL)
	_, err := c.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewTavilyClientRequiresKey(t *testing.T) {
	t.Setenv(EnvTavilyAPIKey, "")
	_, err := NewTavilyClient(NewLimiter(0))
	assert.ErrorIs(t, err, ErrNoSearchKey)
}

func TestLimiterSpacesCalls(t *testing.T) {
	// 600/min = one call every 100ms after the initial token.
	l := NewLimiter(600)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterRespectsContext(t *testing.T) {
	l := NewLimiter(1) // one call per minute
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}
