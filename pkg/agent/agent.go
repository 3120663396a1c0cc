// Package agent serves fetch requests on a cluster node.
//
// The agent wraps a node-local cluster.Executor (normally a sqlexec one) and
// exposes it with the protocol spoken by httpexec, so the query side can fan
// out over HTTP. It also serves /healthz and the prometheus /metrics page.
package agent

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/cluster/httpexec"
	"github.com/ajitpratap0/dctables/pkg/compression"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/metrics"
	"github.com/ajitpratap0/dctables/pkg/observability"
)

// Config configures the agent server.
type Config struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// H2C accepts cleartext HTTP/2 with prior knowledge next to HTTP/1.1.
	H2C bool `mapstructure:"h2c" yaml:"h2c"`
	// Compression lists the response encodings offered, in preference
	// order. Empty offers every supported one.
	Compression       []string      `mapstructure:"compression" yaml:"compression"`
	CompressionLevel  int           `mapstructure:"compression_level" yaml:"compression_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Metrics           bool          `mapstructure:"metrics" yaml:"metrics"`
}

// DefaultConfig returns the agent defaults.
func DefaultConfig() Config {
	return Config{
		Listen:            ":5450",
		CompressionLevel:  int(compression.Default),
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		Metrics:           true,
	}
}

// Server is a node agent.
type Server struct {
	executor  cluster.Executor
	config    Config
	supported []compression.Algorithm
	level     compression.Level
	logger    *zap.Logger
}

// New creates an agent serving executor.
func New(executor cluster.Executor, config Config, logger *zap.Logger) (*Server, error) {
	supported := compression.Supported
	if len(config.Compression) > 0 {
		supported = make([]compression.Algorithm, 0, len(config.Compression))
		for _, name := range config.Compression {
			alg, err := compression.Parse(name)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid agent compression")
			}
			supported = append(supported, alg)
		}
	}
	level := compression.Level(config.CompressionLevel)
	if level == 0 {
		level = compression.Default
	}

	return &Server{
		executor:  executor,
		config:    config,
		supported: supported,
		level:     level,
		logger:    logger.With(zap.String("component", "agent"), zap.String("node", executor.Node())),
	}, nil
}

// Handler returns the agent's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(httpexec.FetchPath, observability.TracingMiddleware("agent.fetch", http.HandlerFunc(s.handleFetch)))
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.config.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if s.config.H2C {
		return h2c.NewHandler(mux, &http2.Server{})
	}
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to listen on "+s.config.Listen)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("agent listening", zap.String("addr", ln.Addr().String()), zap.Bool("h2c", s.config.H2C))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, errors.ErrorTypeConnection, "agent stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("agent shutdown incomplete", zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeTimeout, "agent shutdown")
	}
	s.logger.Info("agent stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "node": s.executor.Node()})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cluster.Request
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid fetch request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.DecodeNumbers(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("collector", req.Collector))
	log := s.logger.With(zap.String("table", req.Collector))

	alg := compression.Negotiate(r.Header.Get("Accept-Encoding"), s.supported)
	cw, err := compression.NewWriter(w, alg, s.level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", httpexec.ContentType)
	if alg != compression.None {
		w.Header().Set("Content-Encoding", string(alg))
	}
	w.Header().Add("Vary", "Accept-Encoding")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(cw)
	send := func(f httpexec.Frame) error {
		if err := enc.Encode(f); err != nil {
			return err
		}
		if err := cw.Flush(); err != nil {
			return err
		}
		return rc.Flush()
	}

	timer := metrics.NewTimer()
	blocks := 0
	fetchErr := s.executor.Fetch(ctx, &req, func(block []byte) error {
		blocks++
		if err := send(httpexec.Frame{Block: block}); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "client went away")
		}
		return nil
	})
	metrics.AgentRequests.WithLabelValues(req.Collector, metrics.Status(fetchErr)).Inc()

	if fetchErr != nil {
		if ctx.Err() != nil {
			log.Debug("fetch abandoned by client", zap.Error(fetchErr))
			return
		}
		log.Warn("fetch failed", zap.Error(fetchErr), zap.Int("blocks", blocks))
		if err := send(httpexec.Frame{Error: fetchErr.Error(), Kind: cluster.Classify(fetchErr)}); err != nil {
			return
		}
	}
	if err := send(httpexec.Frame{End: true}); err != nil {
		log.Debug("failed to send end marker", zap.Error(err))
		return
	}
	if err := cw.Close(); err != nil {
		log.Debug("failed to close response stream", zap.Error(err))
	}
	log.Debug("fetch served",
		zap.Int("blocks", blocks),
		zap.String("encoding", string(alg)),
		zap.Duration("duration", timer.Stop()))
}
