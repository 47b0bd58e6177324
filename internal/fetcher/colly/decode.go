package collyfetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport undoes Content-Encoding before colly sees the body.
// Setting Accept-Encoding explicitly disables net/http's transparent gzip,
// and colly has no brotli support.
type decodingTransport struct {
	base http.RoundTripper
}

func newDecodingTransport(base http.RoundTripper) *decodingTransport {
	return &decodingTransport{base: base}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.Body == nil || req.Method == http.MethodHead {
		return resp, err
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" {
		return resp, nil
	}
	body, err := decodeBody(encoding, resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if body == nil {
		return resp, nil
	}
	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

// decodeBody wraps raw for the given encoding. It returns nil for encodings
// it does not understand, leaving the response untouched.
func decodeBody(encoding string, raw io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		return &decodedBody{Reader: gz, closers: []io.Closer{gz, raw}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(raw), closers: []io.Closer{raw}}, nil
	case "deflate":
		buffered := bufio.NewReader(raw)
		if isZlibHeader(buffered) {
			zr, err := zlib.NewReader(buffered)
			if err != nil {
				return nil, fmt.Errorf("deflate decode: %w", err)
			}
			return &decodedBody{Reader: zr, closers: []io.Closer{zr, raw}}, nil
		}
		fl := flate.NewReader(buffered)
		return &decodedBody{Reader: fl, closers: []io.Closer{fl, raw}}, nil
	default:
		return nil, nil
	}
}

// isZlibHeader reports whether the stream starts with an RFC 1950 header.
// Servers disagree on whether "deflate" means raw or zlib-wrapped data.
func isZlibHeader(r *bufio.Reader) bool {
	b, err := r.Peek(2)
	if err != nil {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
