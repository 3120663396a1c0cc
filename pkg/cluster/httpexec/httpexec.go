// Package httpexec fetches collector rows from node agents over HTTP.
//
// The request is the JSON encoded cluster.Request, POSTed to FetchPath. The
// agent answers with newline delimited JSON frames, optionally compressed
// with the negotiated Content-Encoding:
//
//	{"block":"<base64 wire block>"}
//	{"block":"..."}
//	{"end":true}
//
// A failure on the node is sent as {"error":"...","kind":"..."} before the
// end frame. A stream that stops before the end frame means the node was
// lost mid-fetch.
package httpexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/clients"
	"github.com/ajitpratap0/dctables/pkg/cluster"
	"github.com/ajitpratap0/dctables/pkg/compression"
	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/observability"
)

// FetchPath is the agent endpoint serving fetches.
const FetchPath = "/v1/fetch"

// ContentType is the media type of the response stream.
const ContentType = "application/x-ndjson"

// Frame is one line of the response stream.
type Frame struct {
	Block []byte `json:"block,omitempty"`
	End   bool   `json:"end,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Executor is a cluster.Executor reaching one node agent.
type Executor struct {
	node   string
	url    string
	client *clients.HTTPClient
	accept string
	logger *zap.Logger
}

// New creates an executor for the agent of node. accept lists the
// response encodings the executor reads, nil for all supported ones.
func New(node cluster.Node, client *clients.HTTPClient, accept []compression.Algorithm, logger *zap.Logger) *Executor {
	if accept == nil {
		accept = compression.Supported
	}
	return &Executor{
		node:   node.Name,
		url:    "http://" + node.Address() + FetchPath,
		client: client,
		accept: compression.AcceptEncoding(accept),
		logger: logger.With(zap.String("component", "httpexec"), zap.String("node", node.Name)),
	}
}

// Node implements cluster.Executor.
func (e *Executor) Node() string { return e.node }

// Fetch implements cluster.Executor.
func (e *Executor) Fetch(ctx context.Context, req *cluster.Request, emit func([]byte) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode fetch request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid agent address")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", ContentType)
	if e.accept != "" {
		httpReq.Header.Set("Accept-Encoding", e.accept)
	}
	observability.InjectHTTP(ctx, httpReq.Header)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf(errors.ErrorTypeQuery, "agent answered %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	alg, err := compression.Parse(resp.Header.Get("Content-Encoding"))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "unsupported response encoding")
	}
	r, err := compression.NewReader(resp.Body, alg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to open response stream")
	}
	defer r.Close()

	blocks, err := readFrames(r, emit)
	if err != nil && ctx.Err() != nil && !errors.IsType(err, errors.ErrorTypeTimeout) {
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "fetch interrupted")
	}
	if err == nil {
		e.logger.Debug("stream finished", zap.Int("blocks", blocks), zap.String("encoding", string(alg)))
	}
	return err
}

// readFrames decodes frames from r until the end frame and returns the
// number of blocks emitted.
func readFrames(r io.Reader, emit func([]byte) error) (int, error) {
	dec := json.NewDecoder(r)
	blocks := 0
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return blocks, errors.New(errors.ErrorTypeConnection, "stream closed before end marker")
			}
			return blocks, errors.Wrap(err, errors.ErrorTypeConnection, "broken response stream")
		}

		switch {
		case f.Error != "":
			return blocks, remoteError(f)
		case f.End:
			return blocks, nil
		case len(f.Block) > 0:
			blocks++
			if err := emit(f.Block); err != nil {
				return blocks, err
			}
		}
	}
}

func remoteError(f Frame) error {
	errType := errors.ErrorTypeQuery
	switch f.Kind {
	case "timeout":
		errType = errors.ErrorTypeTimeout
	case "connection":
		errType = errors.ErrorTypeConnection
	}
	return errors.New(errType, fmt.Sprintf("node: %s", f.Error))
}
