package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webToolsForTest(limit int64) *WebTools {
	return NewWebTools(WebConfig{
		FetchLimit: limit,
		RatePerSec: 1000, // keep tests fast
		Burst:      1000,
		Timeout:    5 * time.Second,
	})
}

func TestWebFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello from upstream")
	}))
	defer srv.Close()

	wt := webToolsForTest(1 << 20)
	out, err := wt.fetch(context.Background(), json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)))
	require.NoError(t, err)
	res := out.(webFetchOutput)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hello from upstream", res.Body)
	assert.False(t, res.Truncated)
}

func TestWebFetchTruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	wt := webToolsForTest(10)
	out, err := wt.fetch(context.Background(), json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)))
	require.NoError(t, err)
	res := out.(webFetchOutput)
	assert.Len(t, res.Body, 10)
	assert.True(t, res.Truncated)
}

func TestWebStatusReportsCodeAndLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wt := webToolsForTest(1 << 20)
	out, err := wt.status(context.Background(), json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)))
	require.NoError(t, err)
	res := out.(webStatusOutput)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.GreaterOrEqual(t, res.LatencyMS, int64(0))
}

func TestWebFetchRejectsBadURLs(t *testing.T) {
	wt := webToolsForTest(1 << 20)
	for _, u := range []string{"", "ftp://example.com/file", "not a url at all", "file:///etc/passwd"} {
		_, err := wt.fetch(context.Background(), json.RawMessage(fmt.Sprintf(`{"url":%q}`, u)))
		assert.ErrorIs(t, err, ErrBadInput, "url %q must be rejected", u)
	}
}

func TestWebCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wt := webToolsForTest(1 << 20)
	args := json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL))

	// 5xx responses still reach the caller while the breaker counts them.
	for i := 0; i < 3; i++ {
		out, err := wt.fetch(context.Background(), args)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, out.(webFetchOutput).StatusCode)
	}

	_, err := wt.fetch(context.Background(), args)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
