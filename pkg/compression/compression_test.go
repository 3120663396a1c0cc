package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("2024-03-01 12:00:00\x01node0001\x01message text\x02", 200))

	for _, alg := range append([]Algorithm{None}, Supported...) {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(fmt.Sprintf("%s/%d", alg, level), func(t *testing.T) {
				compressed, err := Compress(original, alg, level)
				require.NoError(t, err)
				if alg != None {
					assert.Less(t, len(compressed), len(original))
				}

				got, err := Decompress(compressed, alg)
				require.NoError(t, err)
				assert.Equal(t, original, got)
			})
		}
	}
}

func TestWriterFlushDeliversFrames(t *testing.T) {
	const frame = "first frame\n"
	for _, alg := range Supported {
		t.Run(string(alg), func(t *testing.T) {
			pr, pw := io.Pipe()
			w, err := NewWriter(pw, alg, Default)
			require.NoError(t, err)

			proceed := make(chan struct{}, 1)
			done := make(chan error, 1)
			go func() {
				_, err := w.Write([]byte(frame))
				if err == nil {
					err = w.Flush()
				}
				if err == nil {
					<-proceed
					err = w.Close()
				}
				_ = pw.CloseWithError(err)
				done <- err
			}()

			r, err := NewReader(pr, alg)
			require.NoError(t, err)

			// the frame is readable while the writer is still open
			buf := make([]byte, len(frame))
			_, err = io.ReadFull(r, buf)
			require.NoError(t, err)
			assert.Equal(t, frame, string(buf))
			proceed <- struct{}{}

			rest, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Empty(t, rest)
			require.NoError(t, <-done)
			require.NoError(t, r.Close())
		})
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		header    string
		supported []Algorithm
		want      Algorithm
	}{
		{"gzip, zstd", Supported, Zstd},
		{"gzip, zstd;q=0", Supported, Gzip},
		{"gzip, zstd; q=0.000", Supported, Gzip},
		{" LZ4 ;q=0.5, gzip", Supported, Gzip},
		{"zstd;q=0.2, gzip;q=0.8, lz4;q=0.8", Supported, LZ4},
		{"*;q=0.1, gzip", Supported, Gzip},
		{"*", Supported, Zstd},
		{"*;q=0, snappy", Supported, Snappy},
		{"zstd;q=bogus, gzip;q=0.3", Supported, Gzip},
		{"zstd;q=2", Supported, None},
		{"br", Supported, None},
		{"", Supported, None},
		{"zstd, gzip", []Algorithm{Gzip}, Gzip},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.header, tt.supported))
		})
	}
}

func TestParse(t *testing.T) {
	for _, name := range []string{"", "none", "identity"} {
		alg, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, None, alg)
	}
	alg, err := Parse(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, alg)

	_, err = Parse("brotli")
	assert.Error(t, err)

	// raw deflate cannot deliver flushed frames to a streaming reader
	_, err = Parse("deflate")
	assert.Error(t, err)
	assert.NotContains(t, Supported, Algorithm("deflate"))

	_, err = NewWriter(&bytes.Buffer{}, Algorithm("brotli"), Default)
	assert.Error(t, err)
	_, err = NewReader(&bytes.Buffer{}, Algorithm("brotli"))
	assert.Error(t, err)
}

func TestAcceptEncoding(t *testing.T) {
	assert.Equal(t, "zstd, gzip", AcceptEncoding([]Algorithm{Zstd, Gzip}))
	assert.Equal(t, Zstd, Negotiate(AcceptEncoding(Supported), Supported))
}
