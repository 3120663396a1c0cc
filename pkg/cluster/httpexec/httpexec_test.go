package httpexec

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/dctables/pkg/clients"
	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/errors"
)

func executorFor(t *testing.T, h http.HandlerFunc) *Executor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	addr := srv.Listener.Addr().(*net.TCPAddr)

	cfg := clients.DefaultHTTPConfig()
	cfg.Retry = clients.RetryPolicy{MaxAttempts: 1}
	client := clients.NewHTTPClient(cfg, zaptest.NewLogger(t))
	node := cluster.Node{Name: "node0001", Host: addr.IP.String(), Port: addr.Port}
	return New(node, client, nil, zaptest.NewLogger(t))
}

func testRequest() *cluster.Request {
	return &cluster.Request{Collector: "vertica_log", Remote: "vertica_log", Columns: []string{"time", "node_name"}}
}

func writeFrames(w http.ResponseWriter, frames ...Frame) {
	w.Header().Set("Content-Type", ContentType)
	enc := json.NewEncoder(w)
	for _, f := range frames {
		_ = enc.Encode(f)
	}
}

func TestStreamWithoutEndMarker(t *testing.T) {
	ex := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, Frame{Block: []byte("b1")})
	})

	var got []string
	err := ex.Fetch(context.Background(), testRequest(), func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "end marker")
	assert.Equal(t, []string{"b1"}, got)
}

func TestRequestHeaders(t *testing.T) {
	ex := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, FetchPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "zstd")

		var req cluster.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vertica_log", req.Collector)
		writeFrames(w, Frame{End: true})
	})
	assert.NoError(t, ex.Fetch(context.Background(), testRequest(), func([]byte) error { return nil }))
}

func TestAgentRejectsRequest(t *testing.T) {
	ex := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "columns are required", http.StatusBadRequest)
	})
	err := ex.Fetch(context.Background(), testRequest(), func([]byte) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Contains(t, err.Error(), "columns are required")
}

func TestRemoteTimeoutFrame(t *testing.T) {
	ex := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, Frame{Error: "statement timeout", Kind: "timeout"}, Frame{End: true})
	})
	err := ex.Fetch(context.Background(), testRequest(), func([]byte) error { return nil })
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestFetchCancelled(t *testing.T) {
	release := make(chan struct{})
	ex := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, Frame{Block: []byte("b1")})
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := ex.Fetch(ctx, testRequest(), func([]byte) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, "timeout", cluster.Classify(err))
}

func TestReadFramesSkipsEmpty(t *testing.T) {
	n, err := readFrames(strings.NewReader("{}\n{\"block\":\"YQ==\"}\n{\"end\":true}\n"), func(b []byte) error {
		assert.Equal(t, "a", string(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
