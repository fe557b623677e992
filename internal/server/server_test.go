package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/config"
	"github.com/JustVugg/msgboard/internal/forwarder"
)

const (
	homeDoc    = "<html><body>home</body></html>"
	messageDoc = "<html><body><form method=post action=/message></form></body></html>"
	errorDoc   = "<html><body>not found</body></html>"
	styleDoc   = "body { color: red; }"
)

type recordingSender struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (s *recordingSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, string(payload))
	return s.err
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func writeSite(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	for name, content := range map[string]string{
		"index.html":        homeDoc,
		"message.html":      messageDoc,
		"error.html":        errorDoc,
		"style.css":         styleDoc,
		"assets/app.js":     "console.log(1)",
		"notes.unknownext1": "plain words",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
}

func setupTest(t *testing.T, fn func(cfg *config.Config)) (*Server, *recordingSender, string) {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "site")
	writeSite(t, root)

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Pages.Root = root
	cfg.Storage.Path = filepath.Join(dir, "storage", "data.json")
	if fn != nil {
		fn(cfg)
	}

	sender := &recordingSender{}
	return New(cfg, sender, zap.NewNop()), sender, root
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *Server, sender *recordingSender, root string){
		"home page is served":                       testHome,
		"query string is ignored":                   testHomeWithQuery,
		"message page is served":                    testMessage,
		"unknown path returns the error document":   testNotFound,
		"message route is an exact match":           testMessageTrailingSlash,
		"static file gets its content type":         testStaticCSS,
		"nested static file is served":              testStaticNested,
		"unknown extension is plain text":           testStaticUnknownExtension,
		"matching etag yields not modified":         testStaticETag,
		"directory is a server error":               testStaticDirectory,
		"paths cannot escape the document root":     testTraversal,
		"missing home document is a server error":   testMissingHome,
		"missing error document still returns 404":  testMissingErrorDoc,
		"post forwards the body and redirects":      testSubmit,
		"post to any path redirects home":           testSubmitAnyPath,
		"post redirects even when forwarding fails": testSubmitSendFails,
		"post without content length is rejected":   testSubmitNoContentLength,
		"chunked post is rejected":                  testSubmitChunked,
		"unsupported method is not implemented":     testNotImplemented,
		"health endpoint reports":                   testHealth,
	} {
		t.Run(scenario, func(t *testing.T) {
			s, sender, root := setupTest(t, nil)
			fn(t, s, sender, root)
		})
	}
}

func testHome(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Equal(t, homeDoc, rec.Body.String())
}

func testHomeWithQuery(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/?utm=x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, homeDoc, rec.Body.String())
}

func testMessage(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/message", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Equal(t, messageDoc, rec.Body.String())
}

func testNotFound(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/nonexistent-path", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Equal(t, errorDoc, rec.Body.String())
}

func testMessageTrailingSlash(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/message/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errorDoc, rec.Body.String())
}

func testStaticCSS(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css"))
	assert.Equal(t, styleDoc, rec.Body.String())
}

func testStaticNested(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Equal(t, "console.log(1)", rec.Body.String())
}

func testStaticUnknownExtension(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/notes.unknownext1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func testStaticETag(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
	req.Header.Set("If-None-Match", etag)
	rec = do(t, s, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	require.NoError(t, os.WriteFile(filepath.Join(root, "style.css"), []byte("body { color: blue; }"), 0o644))
	rec = do(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, etag, rec.Header().Get("ETag"))
}

func testStaticDirectory(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/assets", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func testTraversal(t *testing.T, s *Server, sender *recordingSender, root string) {
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(root), "secret.txt"), []byte("secret"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/../secret.txt"
	rec := do(t, s, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func testMissingHome(t *testing.T, s *Server, sender *recordingSender, root string) {
	require.NoError(t, os.Remove(filepath.Join(root, "index.html")))
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func testMissingErrorDoc(t *testing.T, s *Server, sender *recordingSender, root string) {
	require.NoError(t, os.Remove(filepath.Join(root, "error.html")))
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func testSubmit(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/message", strings.NewReader("name=Alice&msg=Hi+there")))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, []string{"name=Alice&msg=Hi+there"}, sender.sent())
}

func testSubmitAnyPath(t *testing.T, s *Server, sender *recordingSender, root string) {
	for _, target := range []string{"/", "/some/where", "/style.css"} {
		rec := do(t, s, httptest.NewRequest(http.MethodPost, target, strings.NewReader("not a form at all")))
		assert.Equal(t, http.StatusFound, rec.Code, target)
		assert.Equal(t, "/", rec.Header().Get("Location"), target)
	}
	assert.Len(t, sender.sent(), 3)
}

func testSubmitSendFails(t *testing.T, s *Server, sender *recordingSender, root string) {
	sender.err = errors.New("network unreachable")
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b")))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func testSubmitNoContentLength(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sender.sent())
}

func testSubmitChunked(t *testing.T, s *Server, sender *recordingSender, root string) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b"))
	req.ContentLength = -1
	rec := do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sender.sent())
}

func testNotImplemented(t *testing.T, s *Server, sender *recordingSender, root string) {
	for _, target := range []string{"/", "/message", "/style.css"} {
		rec := do(t, s, httptest.NewRequest(http.MethodPut, target, strings.NewReader("a=b")))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, target)
	}
	assert.Empty(t, sender.sent())
}

func testHealth(t *testing.T, s *Server, sender *recordingSender, root string) {
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/_board/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/_board/health", nil))
	// no store file was created in this test
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthReportsDaemonAddr(t *testing.T) {
	for name, tc := range map[string]struct {
		opts []Option
		want string
	}{
		"configured address": {want: config.DefaultDaemonListen},
		"bound address":      {opts: []Option{WithDaemonAddr("127.0.0.1:41234")}, want: "127.0.0.1:41234"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.Path = filepath.Join(t.TempDir(), "data.json")
			s := New(cfg, &recordingSender{}, zap.NewNop(), tc.opts...)

			rec := do(t, s, httptest.NewRequest(http.MethodGet, "/_board/health", nil))
			var report struct {
				Daemon string `json:"daemon"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tc.want, report.Daemon)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := setupTest(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
	})

	do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/_board/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `msgboard_http_requests_total{method="GET",route="home",status="2xx"}`)
}

func TestMetricsDisabledFallsBackToStatic(t *testing.T) {
	s, _, _ := setupTest(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/_board/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitedSubmissions(t *testing.T) {
	s, sender, _ := setupTest(t, func(cfg *config.Config) {
		cfg.RateLimit = &config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}
	})

	first := do(t, s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=1")))
	second := do(t, s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=2")))

	assert.Equal(t, http.StatusFound, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, []string{"a=1"}, sender.sent())
}

func TestCORS(t *testing.T) {
	s, _, _ := setupTest(t, func(cfg *config.Config) {
		cfg.Server.CORS = &config.CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://example.com"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := do(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfiguredHeaders(t *testing.T) {
	s, _, _ := setupTest(t, func(cfg *config.Config) {
		cfg.Server.Headers = &config.HeadersConfig{
			Add: map[string]string{"X-Content-Type-Options": "nosniff"},
		}
	})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=b")))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReload(t *testing.T) {
	s, _, _ := setupTest(t, nil)

	newRoot := t.TempDir()
	writeSite(t, newRoot)
	require.NoError(t, os.WriteFile(filepath.Join(newRoot, "index.html"), []byte("new home"), 0o644))

	cfg := config.Default()
	cfg.Pages.Root = newRoot
	s.Reload(cfg)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "new home", rec.Body.String())
}

func TestServeOverTCP(t *testing.T) {
	s, sender, _ := setupTest(t, nil)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	base := "http://" + s.Addr().String()
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Post(base+"/message", "application/x-www-form-urlencoded", strings.NewReader("name=Alice&msg=Hi+there"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, []string{"name=Alice&msg=Hi+there"}, sender.sent())

	// an io.Reader of unknown length is sent chunked, without Content-Length
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("a=b"))
		pw.Close()
	}()
	resp, err = client.Post(base+"/", "application/x-www-form-urlencoded", pr)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(base + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, homeDoc, string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

var _ forwarder.Sender = (*recordingSender)(nil)
