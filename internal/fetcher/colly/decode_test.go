package collyfetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

const samplePage = `{"data":{"__T":[],"__next__":0}}`

func compress(t *testing.T, encoding string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch encoding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	case "zlib":
		w = zlib.NewWriter(&buf)
	case "deflate":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		w = fw
	default:
		t.Fatalf("unknown encoding %q", encoding)
	}
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		codec  string
	}{
		{header: "gzip", codec: "gzip"},
		{header: "br", codec: "br"},
		{header: "deflate", codec: "zlib"},
		{header: "deflate", codec: "deflate"},
	}
	for _, tc := range cases {
		t.Run(tc.header+"/"+tc.codec, func(t *testing.T) {
			t.Parallel()
			raw := io.NopCloser(bytes.NewReader(compress(t, tc.codec, []byte(samplePage))))
			body, err := decodeBody(tc.header, raw)
			require.NoError(t, err)
			require.NotNil(t, body)
			got, err := io.ReadAll(body)
			require.NoError(t, err)
			require.NoError(t, body.Close())
			assert.Equal(t, samplePage, string(got))
		})
	}
}

func TestDecodeBodyUnknownEncodingIsLeftAlone(t *testing.T) {
	t.Parallel()

	body, err := decodeBody("zstd", io.NopCloser(bytes.NewReader(nil)))
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestDecodeBodyRejectsCorruptGzip(t *testing.T) {
	t.Parallel()

	_, err := decodeBody("gzip", io.NopCloser(bytes.NewReader([]byte("not gzip"))))
	require.Error(t, err)
}

func TestFetchDecodesCompressedResponses(t *testing.T) {
	t.Parallel()

	for _, encoding := range []string{"gzip", "br"} {
		t.Run(encoding, func(t *testing.T) {
			t.Parallel()
			payload := compress(t, encoding, []byte(samplePage))
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(payload)
			}))
			t.Cleanup(srv.Close)

			f := New(Config{Timeout: 5 * time.Second})
			resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
				URL:     srv.URL,
				Headers: http.Header{"Accept-Encoding": {"gzip, deflate, br"}},
			})
			require.NoError(t, err)
			assert.Equal(t, samplePage, string(resp.Body))
			assert.Empty(t, resp.Headers.Get("Content-Encoding"))
		})
	}
}
