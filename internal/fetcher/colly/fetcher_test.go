package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://bbs.nga.cn/read.php?tid=1",
		Headers: http.Header{"X-Requested-With": {"XMLHttpRequest"}},
	}
	start := time.Unix(0, 0)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusForbidden,
		Body:       []byte("denied"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://bbs.nga.cn/nuke.php?__lib=login"),
		},
	})
	if result.StatusCode != http.StatusForbidden || string(result.Body) != "denied" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.URL != "https://bbs.nga.cn/nuke.php?__lib=login" {
		t.Fatalf("expected final url recorded, got %q", result.URL)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestCopyHeadersReplacesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{
		"User-Agent": {"colly - https://github.com/gocolly/colly/v2"},
		"Accept":     {"*/*"},
	}}
	f.copyHeaders(crawler.FetchRequest{Headers: http.Header{
		"User-Agent": {"Mozilla/5.0"},
	}}, collyReq)

	assert.Equal(t, []string{"Mozilla/5.0"}, collyReq.Headers.Values("User-Agent"))
	assert.Equal(t, "*/*", collyReq.Headers.Get("Accept"))
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(crawler.FetchRequest{}, collyReq)
	if len(*collyReq.Headers) != 0 {
		t.Fatalf("expected no headers to be copied, got %+v", *collyReq.Headers)
	}
}

func TestFetchSendsHeadersAndReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ngaPassportUid=42", r.Header.Get("Cookie"))
		assert.Equal(t, "Mozilla/5.0 test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL: srv.URL + "/read.php?tid=7",
		Headers: http.Header{
			"Cookie":     {"ngaPassportUid=42"},
			"User-Agent": {"Mozilla/5.0 test"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(resp.Body))
	assert.Equal(t, srv.URL+"/read.php?tid=7", resp.URL)
	assert.Positive(t, resp.Duration)
}

func TestFetchReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFetchReportsFinalURLAfterRedirect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/thread.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login.php?from=thread", http.StatusFound)
	})
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("please log in"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/thread.php?fid=7"})
	require.NoError(t, err)
	assert.True(t, crawler.IsLoginRedirect(resp.URL, []string{"login.php"}), "final url %q", resp.URL)
}

func TestFetchRoutesThroughRequestProxy(t *testing.T) {
	t.Parallel()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "forum.invalid", r.URL.Host)
		_, _ = w.Write([]byte("via proxy"))
	}))
	t.Cleanup(proxy.Close)

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:   "http://forum.invalid/read.php?tid=1",
		Proxy: proxy.Listener.Addr().String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "via proxy", string(resp.Body))
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	started := time.Now()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestProxyFromContext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://bbs.nga.cn/", nil)
	u, err := proxyFromContext(req)
	require.NoError(t, err)
	assert.Nil(t, u)

	req = req.WithContext(context.WithValue(req.Context(), proxyKey{}, "10.0.0.1:3128"))
	u, err = proxyFromContext(req)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:3128", u.String())

	req = req.WithContext(context.WithValue(req.Context(), proxyKey{}, "socks5://10.0.0.2:1080"))
	u, err = proxyFromContext(req)
	require.NoError(t, err)
	assert.Equal(t, "socks5", u.Scheme)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
