// Package cluster fans a fetch out to every node of the cluster and funnels
// the raw text blocks the nodes stream back into one consumer.
//
// Each node is reached through an Executor. Cluster.Fetch starts one
// goroutine per executor, forwards blocks over a channel in the order they
// arrive, and finishes once every node has sent its end marker (returned
// from Executor.Fetch) or the fetch timeout expires. Nodes that fail or stay
// silent are reported together in a *NodeErrors; blocks that did arrive are
// kept.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/logger"
	"github.com/ajitpratap0/dctables/pkg/metrics"
	"github.com/ajitpratap0/dctables/pkg/observability"
)

// Executor runs a fetch on one node.
type Executor interface {
	// Node returns the node name, unique within the cluster.
	Node() string
	// Fetch streams the node's rows for req to emit, one wire block per
	// call. Returning marks the end of the node's stream. emit errors must
	// be returned unchanged.
	Fetch(ctx context.Context, req *Request, emit func(block []byte) error) error
}

// BlockHandler consumes one block. It runs on the goroutine that called
// Fetch, never concurrently with itself.
type BlockHandler func(node string, block []byte) error

// FetchConfig controls fan-out fetches.
type FetchConfig struct {
	// Timeout bounds the wait for every node's end marker. Zero waits
	// until the caller's context is done.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// FailOnNodeError makes a query fail when any node fails instead of
	// returning the rows the other nodes sent.
	FailOnNodeError bool `mapstructure:"fail_on_node_error" yaml:"fail_on_node_error"`
	// BlockRows is the number of rows per block produced by node-side
	// executors.
	BlockRows int `mapstructure:"block_rows" yaml:"block_rows"`
}

// DefaultFetchConfig returns the fetch defaults.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:   5 * time.Minute,
		BlockRows: 1000,
	}
}

// NodeError is the failure of a single node.
type NodeError struct {
	Node string
	Kind string // connection, timeout or remote
	Err  error
}

func (e NodeError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Node, e.Kind, e.Err)
}

// NodeErrors collects the nodes that failed during one fetch.
type NodeErrors struct {
	Nodes  int
	Failed []NodeError
}

func (e *NodeErrors) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d of %d nodes failed: %s", len(e.Failed), e.Nodes, strings.Join(parts, "; "))
}

// Unwrap exposes the per-node causes to errors.Is and errors.As.
func (e *NodeErrors) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// FailedNodes returns the names of the failed nodes, sorted.
func (e *NodeErrors) FailedNodes() []string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Node
	}
	sort.Strings(names)
	return names
}

// AsNodeErrors reports whether err only describes failed nodes, meaning the
// rows received from the remaining nodes are still valid.
func AsNodeErrors(err error) (*NodeErrors, bool) {
	var ne *NodeErrors
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// Cluster is the set of executors a fetch is broadcast to.
type Cluster struct {
	executors []Executor
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a cluster over executors.
func New(executors []Executor, config FetchConfig, logger *zap.Logger) *Cluster {
	return &Cluster{
		executors: executors,
		timeout:   config.Timeout,
		logger:    logger.With(zap.String("component", "cluster")),
	}
}

// Nodes returns the node names in executor order.
func (c *Cluster) Nodes() []string {
	names := make([]string, len(c.executors))
	for i, ex := range c.executors {
		names[i] = ex.Node()
	}
	return names
}

type event struct {
	node  string
	block []byte
	end   bool
	err   error
}

// Fetch broadcasts req to every node and passes each block to handle as it
// arrives. It returns:
//   - nil when every node sent its end marker without error;
//   - a *NodeErrors (wrapped as a connection error) when some nodes failed
//     or did not finish within the timeout, after handling every block that
//     did arrive;
//   - the handler's error, unchanged, if handle fails;
//   - a timeout error if ctx is done first.
func (c *Cluster) Fetch(ctx context.Context, req *Request, handle BlockHandler) (err error) {
	if len(c.executors) == 0 {
		return errors.New(errors.ErrorTypeConfig, "cluster has no nodes")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	fetchID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.FetchIDKey, fetchID)
	ctx, span := observability.StartSpan(ctx, "cluster.fetch",
		attribute.String("fetch.id", fetchID),
		attribute.String("collector", req.Collector),
		attribute.Int("nodes", len(c.executors)),
		attribute.Int("predicates", req.Predicates.Len()),
	)
	log := c.logger.With(zap.String("fetch_id", fetchID), zap.String("table", req.Collector))

	timer := metrics.NewTimer()
	metrics.ActiveFetches.Inc()
	defer func() {
		metrics.ActiveFetches.Dec()
		status := metrics.Status(err)
		if _, partial := AsNodeErrors(err); partial {
			status = "partial"
		}
		metrics.FetchDuration.WithLabelValues(req.Collector, status).Observe(timer.Stop().Seconds())
		observability.EndSpan(span, err)
	}()

	var fetchCtx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		fetchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	events := make(chan event, 2*len(c.executors))
	var g errgroup.Group
	for _, ex := range c.executors {
		ex := ex
		g.Go(func() error {
			c.runNode(fetchCtx, ex, req, events)
			return nil
		})
	}

	log.Debug("fetch started", zap.Int("nodes", len(c.executors)))

	ended := make(map[string]error, len(c.executors))
	var blocks, bytes int
	var handleErr error
	consume := func(ev event) {
		if ev.end {
			ended[ev.node] = ev.err
			return
		}
		if handleErr != nil {
			return
		}
		blocks++
		bytes += len(ev.block)
		metrics.FetchBlocks.WithLabelValues(req.Collector, ev.node).Inc()
		metrics.FetchBytes.WithLabelValues(req.Collector, ev.node).Add(float64(len(ev.block)))
		if err := handle(ev.node, ev.block); err != nil {
			handleErr = err
			cancel()
		}
	}

wait:
	for len(ended) < len(c.executors) && handleErr == nil {
		select {
		case ev := <-events:
			consume(ev)
		case <-fetchCtx.Done():
			break wait
		}
	}

	cancel()
	_ = g.Wait()
	close(events)
	for ev := range events {
		consume(ev)
	}

	if handleErr != nil {
		return handleErr
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "fetch cancelled")
	}

	nodeErrs := &NodeErrors{Nodes: len(c.executors)}
	for _, ex := range c.executors {
		node := ex.Node()
		nerr, done := ended[node]
		if !done {
			nerr = errors.Newf(errors.ErrorTypeTimeout, "no end marker within %s", c.timeout)
		}
		if nerr == nil {
			continue
		}
		kind := Classify(nerr)
		metrics.NodeErrors.WithLabelValues(node, kind).Inc()
		nodeErrs.Failed = append(nodeErrs.Failed, NodeError{Node: node, Kind: kind, Err: nerr})
	}

	span.SetAttributes(attribute.Int("blocks", blocks), attribute.Int("bytes", bytes))
	if len(nodeErrs.Failed) > 0 {
		log.Warn("fetch finished with failed nodes",
			zap.Strings("failed", nodeErrs.FailedNodes()),
			zap.Int("blocks", blocks),
			zap.Error(nodeErrs))
		return errors.Wrap(nodeErrs, errors.ErrorTypeConnection, "incomplete fetch")
	}

	log.Debug("fetch finished", zap.Int("blocks", blocks), zap.Int("bytes", bytes))
	return nil
}

// runNode streams one node's blocks into events and always finishes with an
// end event unless the fetch has been abandoned.
func (c *Cluster) runNode(ctx context.Context, ex Executor, req *Request, events chan<- event) {
	node := ex.Node()
	ctx = context.WithValue(ctx, logger.NodeKey, node)
	ctx, span := observability.StartSpan(ctx, "cluster.fetch.node", attribute.String("node", node))

	err := ex.Fetch(ctx, req, func(block []byte) error {
		select {
		case events <- event{node: node, block: block}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil && ctx.Err() != nil && !errors.IsType(err, errors.ErrorTypeTimeout) {
		err = errors.Wrap(err, errors.ErrorTypeTimeout, "node fetch interrupted")
	}
	observability.EndSpan(span, err)
	if err != nil {
		logger.WithContext(ctx).Debug("node fetch failed", zap.String("kind", Classify(err)), zap.Error(err))
	}

	select {
	case events <- event{node: node, end: true, err: err}:
	case <-ctx.Done():
		// the consumer may already be gone; the buffered channel still
		// takes the marker if there is room
		select {
		case events <- event{node: node, end: true, err: err}:
		default:
		}
	}
}

// Classify names the kind of a node failure: timeout, connection or remote.
func Classify(err error) string {
	switch {
	case errors.IsType(err, errors.ErrorTypeTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.IsType(err, errors.ErrorTypeConnection):
		return "connection"
	}
	return "remote"
}
