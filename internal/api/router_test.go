package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/whisperd/internal/api"
	"github.com/kiranshivaraju/whisperd/internal/api/handler"
	mw "github.com/kiranshivaraju/whisperd/internal/api/middleware"
	"github.com/kiranshivaraju/whisperd/internal/cache"
	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/engine"
	"github.com/kiranshivaraju/whisperd/internal/engine/mock"
	"github.com/kiranshivaraju/whisperd/internal/resolve"
	"github.com/kiranshivaraju/whisperd/internal/runner"
	"github.com/kiranshivaraju/whisperd/internal/status"
	"github.com/kiranshivaraju/whisperd/internal/store"
	"github.com/kiranshivaraju/whisperd/internal/upload"
	"github.com/kiranshivaraju/whisperd/internal/worker"
	"github.com/kiranshivaraju/whisperd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "static-test-token"

// --- stub store that knows no hashed keys ---

type stubStore struct{}

func (s *stubStore) Ping(_ context.Context) error { return nil }
func (s *stubStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error     { return nil }
func (s *stubStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (s *stubStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error          { return nil }

// --- stub cache counting per key ---

type stubCache struct {
	count atomic.Int64
}

func (c *stubCache) Ping(_ context.Context) error { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return c.count.Add(1), nil
}

// --- router fixture ---

type fixture struct {
	root   string
	router http.Handler
}

func newFixture(t *testing.T, rpm int) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	records := status.NewStore()
	eng := mock.NewMockEngine()
	r := runner.New(records, upload.NewCoordinator(records), eng, runner.Config{
		OutDir:   root,
		Defaults: engine.Options{Lang: "en", Task: engine.TaskTranscribe},
	}, runner.WithLogger(logger))

	pool := worker.NewPool(logger, worker.WithWorkers(2))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})
	d := handler.NewDispatcher(r, pool)

	return &fixture{
		root: root,
		router: api.NewRouter(api.Dependencies{
			Auth:            mw.NewAuth(&stubStore{}, []string{testToken}),
			RateLimit:       mw.NewRateLimit(&stubCache{}, rpm),
			OverviewHandler: handler.NewOverviewHandler("test", eng.Name(), api.Prefix),
			HealthHandler:   handler.NewHealthHandler(nil),
			RunHandler:      handler.NewRunHandler(d),
			URIHandler:      handler.NewURIHandler(d),
			BytesHandler:    handler.NewBytesHandler(d),
			ResultHandler:   handler.NewResultHandler(resolve.New(records), root),
			DownloadHandler: handler.NewDownloadHandler(root),
		}),
	}
}

func (f *fixture) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) code.Response {
	t.Helper()
	var resp code.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// --- router tests ---

func TestRouter_PublicEndpoints(t *testing.T) {
	f := newFixture(t, 60)

	for _, path := range []string{"/whisper/v1/", "/whisper/v1/health"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	f := newFixture(t, 60)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/whisper/v1/run"},
		{http.MethodPost, "/whisper/v1/uri"},
		{http.MethodPost, "/whisper/v1/bytes"},
		{http.MethodGet, "/whisper/v1/result/abc"},
		{http.MethodGet, "/whisper/v1/download?file_path=x"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			req.Header.Set("Authorization", "Bearer wrong-token")
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, code.InvalidKey, decode(t, w).Code)
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t, 60)

	w := f.do(http.MethodGet, "/whisper/v1/nonexistent", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RateLimited(t *testing.T) {
	f := newFixture(t, 1)

	first := f.do(http.MethodGet, "/whisper/v1/result/none", nil, "")
	assert.Equal(t, http.StatusOK, first.Code)

	second := f.do(http.MethodGet, "/whisper/v1/result/none", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, code.ServerIsBusy, decode(t, second).Code)
}

func TestRouter_RequestIDHeaderAccepted(t *testing.T) {
	f := newFixture(t, 60)

	req := httptest.NewRequest(http.MethodGet, "/whisper/v1/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UnwiredHandler(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(nil, []string{testToken}),
		RateLimit: mw.NewRateLimit(nil, 0),
	})

	req := httptest.NewRequest(http.MethodPost, "/whisper/v1/run", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, code.TaskNotSupported, decode(t, w).Code)
}

// --- end-to-end job lifecycle through the router ---

func TestRouter_BytesThenResultThenDownload(t *testing.T) {
	f := newFixture(t, 60)

	w := f.do(http.MethodPost, "/whisper/v1/bytes?content_id=e2e", strings.NewReader("RIFF...."), "audio/wav")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, code.Success, decode(t, w).Code)

	w = f.do(http.MethodGet, "/whisper/v1/result/e2e", nil, "")
	resp := decode(t, w)
	require.Equal(t, code.Success, resp.Code)
	artifact := filepath.Join(f.root, "e2e", "e2e.wav")
	assert.Equal(t, artifact, resp.Content["result"])

	w = f.do(http.MethodGet, "/whisper/v1/download?file_path="+url.QueryEscape(artifact), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RIFF....", w.Body.String())
}

func TestRouter_AsyncURIEventuallyDone(t *testing.T) {
	f := newFixture(t, 60)
	media := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(media, []byte("id3"), 0o644))

	body, _ := json.Marshal(map[string]any{"uri": media, "content_id": "later", "async": true})
	w := f.do(http.MethodPost, "/whisper/v1/uri", strings.NewReader(string(body)), "application/json")
	assert.Equal(t, code.ProcessPending, decode(t, w).Code)

	require.Eventually(t, func() bool {
		var resp code.Response
		w := f.do(http.MethodGet, "/whisper/v1/result/later", nil, "")
		return json.Unmarshal(w.Body.Bytes(), &resp) == nil && resp.Code == code.Success
	}, 5*time.Second, 20*time.Millisecond)
}

// Verify stubs satisfy the interfaces they stand in for
var _ store.Store = (*stubStore)(nil)
var _ cache.Cache = (*stubCache)(nil)
