// Package compression wraps the streaming codecs used for fetch responses
// between the agent and the cluster client.
//
// Algorithm names double as HTTP content codings, so a client advertises
// the codecs it reads in Accept-Encoding and the agent answers with the
// first one both sides support:
//
//	alg := compression.Negotiate(r.Header.Get("Accept-Encoding"), compression.Supported)
//	w, err := compression.NewWriter(rw, alg, compression.Default)
//
// Writers flush through to the underlying stream so each response frame
// reaches the client as soon as it is written.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is a compression algorithm and its content-coding name.
type Algorithm string

const (
	// None leaves the stream as is.
	None Algorithm = "identity"
	// Gzip is gzip.
	Gzip Algorithm = "gzip"
	// Snappy is framed snappy.
	Snappy Algorithm = "snappy"
	// S2 is framed s2, which also reads snappy streams.
	S2 Algorithm = "s2"
	// LZ4 is the lz4 frame format.
	LZ4 Algorithm = "lz4"
	// Zstd is zstandard.
	Zstd Algorithm = "zstd"
)

// Supported lists the algorithms in order of preference.
var Supported = []Algorithm{Zstd, LZ4, S2, Snappy, Gzip}

// Level trades speed for ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// Parse maps a configured name to an algorithm.
func Parse(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "", "none", None:
		return None, nil
	case Gzip, Snappy, S2, LZ4, Zstd:
		return a, nil
	default:
		return None, fmt.Errorf("unsupported compression algorithm %q", name)
	}
}

// Writer is a compressing stream.
type Writer interface {
	io.WriteCloser
	// Flush writes any buffered data to the underlying stream.
	Flush() error
}

// NewWriter returns a writer that compresses into w. Closing it does not
// close w.
func NewWriter(w io.Writer, alg Algorithm, level Level) (Writer, error) {
	switch alg {
	case None, "":
		return nopWriter{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, gzipLevel(level))
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		opts := []s2.WriterOption{}
		switch {
		case level >= Best:
			opts = append(opts, s2.WriterBestCompression())
		case level >= Better:
			opts = append(opts, s2.WriterBetterCompression())
		}
		return s2.NewWriter(w, opts...), nil
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
			return nil, err
		}
		return zw, nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)), zstd.WithEncoderConcurrency(1))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", alg)
	}
}

// NewReader returns a reader that decompresses r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", alg)
	}
}

// Negotiate picks the algorithm of supported with the highest quality in
// the Accept-Encoding header. A "*" entry weighs the codings the header
// does not name, q=0 excludes a coding, and ties go to the earlier entry of
// supported. None is returned when nothing is acceptable.
func Negotiate(acceptEncoding string, supported []Algorithm) Algorithm {
	weights := make(map[Algorithm]float64)
	wildcard := -1.0
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q, ok := quality(params)
		if !ok {
			continue
		}
		if name == "*" {
			wildcard = q
			continue
		}
		weights[Algorithm(name)] = q
	}

	best, bestQ := None, 0.0
	for _, alg := range supported {
		q, ok := weights[alg]
		if !ok {
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = alg, q
		}
	}
	return best
}

// quality reads the q parameter of one Accept-Encoding entry; it is 1 when
// absent. Malformed weights reject the entry.
func quality(params string) (float64, bool) {
	for _, p := range strings.Split(params, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || q < 0 || q > 1 {
			return 0, false
		}
		return q, true
	}
	return 1, true
}

// AcceptEncoding renders algorithms as an Accept-Encoding header value.
func AcceptEncoding(algs []Algorithm) string {
	names := make([]string, len(algs))
	for i, a := range algs {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

// Compress compresses data in memory.
func Compress(data []byte, alg Algorithm, level Level) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, alg, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress decompresses data in memory.
func Decompress(data []byte, alg Algorithm) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(data), alg)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriter struct {
	io.Writer
}

func (nopWriter) Flush() error { return nil }
func (nopWriter) Close() error { return nil }

func gzipLevel(l Level) int {
	switch {
	case l <= 0:
		return gzip.DefaultCompression
	case l <= Fastest:
		return gzip.BestSpeed
	case l >= Best:
		return gzip.BestCompression
	default:
		return int(l)
	}
}

func lz4Level(l Level) lz4.CompressionLevel {
	switch {
	case l <= Fastest:
		return lz4.Fast
	case l >= Best:
		return lz4.Level9
	case l >= Better:
		return lz4.Level6
	default:
		return lz4.Level3
	}
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= Fastest:
		return zstd.SpeedFastest
	case l >= Best:
		return zstd.SpeedBestCompression
	case l >= Better:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedDefault
	}
}
