package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/whisperd/internal/api/middleware"
	"github.com/kiranshivaraju/whisperd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock KeyStore ---

type mockStore struct {
	keys []*models.APIKey
	err  error

	mu      sync.Mutex
	touched []uuid.UUID
	lookups int
}

func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	return m.keys, m.err
}

func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

// --- Mock Cache ---

type mockCache struct {
	counter int64
	err     error
	keys    []string
}

func (m *mockCache) Ping(_ context.Context) error { return nil }
func (m *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.keys = append(m.keys, key)
	m.counter++
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func body(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var b map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, nil)
	w := serve(auth.Authenticate(okHandler()), "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(512), body(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockStore{}, []string{"abc123"})
	w := serve(auth.Authenticate(okHandler()), "Basic abc123")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth_StaticToken(t *testing.T) {
	auth := mw.NewAuth(nil, []string{"", "secret-token"})
	w := serve(auth.Authenticate(okHandler()), "Bearer secret-token")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_StaticTokenWrong(t *testing.T) {
	auth := mw.NewAuth(nil, []string{"secret-token"})
	w := serve(auth.Authenticate(okHandler()), "Bearer secret-tokem")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Invalid key", body(t, w)["message"])
}

func TestAuth_StaticTokenSkipsStore(t *testing.T) {
	ms := &mockStore{}
	auth := mw.NewAuth(ms, []string{"secret-token"})
	w := serve(auth.Authenticate(okHandler()), "Bearer secret-token")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, ms.lookups)
}

func TestAuth_KeyTooShort(t *testing.T) {
	ms := &mockStore{}
	auth := mw.NewAuth(ms, nil)
	w := serve(auth.Authenticate(okHandler()), "Bearer short")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, ms.lookups)
}

func TestAuth_KeyNotFound(t *testing.T) {
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{}}, nil)
	w := serve(auth.Authenticate(okHandler()), "Bearer wd_test1234567890")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth_StoreError(t *testing.T) {
	auth := mw.NewAuth(&mockStore{err: errors.New("db down")}, nil)
	w := serve(auth.Authenticate(okHandler()), "Bearer wd_test1234567890")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, float64(500), body(t, w)["code"])
}

func TestAuth_WrongPassword(t *testing.T) {
	rawKey := "wd_test1234567890abcdef"
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		KeyHash:   hashKey(t, "different_key_entirely"),
		KeyPrefix: rawKey[:8],
	}}}
	auth := mw.NewAuth(ms, nil)
	w := serve(auth.Authenticate(okHandler()), "Bearer "+rawKey)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "wd_test1234567890abcdef"
	keyID := uuid.New()
	ms := &mockStore{keys: []*models.APIKey{{
		ID:        keyID,
		Name:      "ci",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:8],
	}}}
	auth := mw.NewAuth(ms, nil)

	var gotName string
	var gotOK bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName, gotOK = mw.GetKeyName(r)
		w.WriteHeader(http.StatusOK)
	})
	w := serve(auth.Authenticate(inner), "Bearer "+rawKey)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotOK)
	assert.Equal(t, "ci", gotName)

	assert.Eventually(t, func() bool {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		return len(ms.touched) == 1 && ms.touched[0] == keyID
	}, time.Second, 10*time.Millisecond)
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func withSubject(subject string) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	return req.WithContext(mw.WithSubject(req.Context(), subject))
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCache{counter: 0}
	handler := mw.NewRateLimit(mc, 60).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSubject("wd_test1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, []string{"whisperd:ratelimit:wd_test1"}, mc.keys)
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCache{counter: 60} // next IncrWithExpiry will return 61
	handler := mw.NewRateLimit(mc, 60).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSubject("wd_over1"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, float64(503), body(t, w)["code"])
}

func TestRateLimit_CacheErrorFailsOpen(t *testing.T) {
	mc := &mockCache{err: errors.New("redis down")}
	handler := mw.NewRateLimit(mc, 60).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withSubject("wd_test1"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NoSubject_PassThrough(t *testing.T) {
	mc := &mockCache{}
	w := serve(mw.NewRateLimit(mc, 60).Limit(okHandler()), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mc.keys)
}

func TestRateLimit_NilCacheDisabled(t *testing.T) {
	handler := mw.NewRateLimit(nil, 1).Limit(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withSubject("wd_test1"))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	w := serve(mw.Recovery(panicking), "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	b := body(t, w)
	assert.Equal(t, float64(500), b["code"])
	assert.Equal(t, "Unknown error", b["message"])
}

func TestRecovery_NoPanic(t *testing.T) {
	w := serve(mw.Recovery(okHandler()), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	w := serve(mw.Logger(okHandler()), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
