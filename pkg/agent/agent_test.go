package agent

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dctables/pkg/clients"
	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/cluster/httpexec"
	"github.com/ajitpratap0/dctables/pkg/compression"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/planner"
	"github.com/ajitpratap0/dctables/pkg/testutil"
)

func startAgent(t *testing.T, fake *testutil.FakeExecutor, cfg Config) cluster.Node {
	t.Helper()
	s, err := New(fake, cfg, testutil.TestLogger(t))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	addr := srv.Listener.Addr().(*net.TCPAddr)
	return cluster.Node{Name: fake.Name, Host: addr.IP.String(), Port: addr.Port}
}

func newClient(t *testing.T, h2c bool) *clients.HTTPClient {
	cfg := clients.DefaultHTTPConfig()
	cfg.H2C = h2c
	cfg.Retry = clients.RetryPolicy{MaxAttempts: 1}
	c := clients.NewHTTPClient(cfg, testutil.TestLogger(t))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func request() *cluster.Request {
	return &cluster.Request{
		CatalogPath: "/catalog",
		Collector:   "dc_errors",
		Remote:      "v_internal.dc_errors",
		Columns:     []string{"time", "node_name", "message"},
		Predicates: planner.PredicateMap{
			planner.TimeColumn: {{Op: planner.OpGT, Value: int64(762_521_600_000_000)}},
			planner.NodeColumn: {{Op: planner.OpEQ, Value: "node0001"}},
		},
	}
}

func fetchAll(t *testing.T, ex cluster.Executor) ([]string, error) {
	t.Helper()
	var got []string
	err := ex.Fetch(testutil.TestContext(t), request(), func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	return got, err
}

func TestFetchRoundTrip(t *testing.T) {
	blocks := [][]byte{
		[]byte("762521600000001\x01node0001\x01disk full"),
		[]byte(strings.Repeat("762521600000002\x01node0001\x01retry\x02", 100)),
	}
	for _, alg := range append([]compression.Algorithm{compression.None}, compression.Supported...) {
		t.Run(string(alg), func(t *testing.T) {
			fake := &testutil.FakeExecutor{Name: "node0001", Blocks: blocks}
			cfg := DefaultConfig()
			cfg.Compression = []string{string(alg)}
			node := startAgent(t, fake, cfg)

			ex := httpexec.New(node, newClient(t, false), nil, testutil.TestLogger(t))
			assert.Equal(t, "node0001", ex.Node())

			got, err := fetchAll(t, ex)
			require.NoError(t, err)
			assert.Equal(t, []string{string(blocks[0]), string(blocks[1])}, got)

			reqs := fake.Requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, request(), reqs[0])
		})
	}
}

func TestFetchOverH2C(t *testing.T) {
	fake := &testutil.FakeExecutor{Name: "node0002", Blocks: [][]byte{[]byte("a"), []byte("b")}}
	cfg := DefaultConfig()
	cfg.H2C = true
	node := startAgent(t, fake, cfg)

	ex := httpexec.New(node, newClient(t, true), []compression.Algorithm{compression.Zstd}, testutil.TestLogger(t))
	got, err := fetchAll(t, ex)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestFetchRemoteError(t *testing.T) {
	fake := &testutil.FakeExecutor{
		Name:   "node0003",
		Blocks: [][]byte{[]byte("partial")},
		Err:    errors.New(errors.ErrorTypeQuery, "relation v_internal.dc_errors does not exist"),
	}
	node := startAgent(t, fake, DefaultConfig())

	ex := httpexec.New(node, newClient(t, false), nil, testutil.TestLogger(t))
	got, err := fetchAll(t, ex)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Contains(t, err.Error(), "does not exist")
	assert.Equal(t, []string{"partial"}, got)
	assert.Equal(t, "remote", cluster.Classify(err))
}

func TestFetchEmitErrorStopsStream(t *testing.T) {
	fake := &testutil.FakeExecutor{Name: "node0001", Blocks: [][]byte{[]byte("1"), []byte("2"), []byte("3")}}
	node := startAgent(t, fake, DefaultConfig())
	ex := httpexec.New(node, newClient(t, false), nil, testutil.TestLogger(t))

	stop := errors.New(errors.ErrorTypeData, "enough")
	err := ex.Fetch(testutil.TestContext(t), request(), func([]byte) error { return stop })
	assert.Same(t, stop, err)
}

func TestFetchRejectsBadRequest(t *testing.T) {
	fake := &testutil.FakeExecutor{Name: "node0001"}
	s, err := New(fake, DefaultConfig(), testutil.TestLogger(t))
	require.NoError(t, err)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, httpexec.FetchPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, httpexec.FetchPath, strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, httpexec.FetchPath, strings.NewReader(`{"collector":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.Requests())
}

func TestHealthAndMetrics(t *testing.T) {
	s, err := New(&testutil.FakeExecutor{Name: "node0001"}, DefaultConfig(), testutil.TestLogger(t))
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","node":"node0001"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeStopsOnCancel(t *testing.T) {
	s, err := New(&testutil.FakeExecutor{Name: "node0001"}, DefaultConfig(), testutil.TestLogger(t))
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	testutil.AssertEventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, "agent never became healthy")

	cancel()
	assert.NoError(t, <-done)
}

func TestNewRejectsUnknownCompression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compression = []string{"brotli"}
	_, err := New(&testutil.FakeExecutor{Name: "n"}, cfg, testutil.TestLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
