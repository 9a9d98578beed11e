package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/whisperd/internal/api/response"
	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/store"
	"github.com/kiranshivaraju/whisperd/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyStore is the subset of store.Store used to validate hashed keys.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth validates bearer tokens against static tokens from config and, when
// a key store is configured, against bcrypt-hashed keys in Postgres.
type Auth struct {
	store  KeyStore
	tokens [][]byte
}

// NewAuth creates a new Auth middleware. ks may be nil.
func NewAuth(ks KeyStore, tokens []string) *Auth {
	a := &Auth{store: ks}
	for _, t := range tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Authenticate validates the Bearer token and records the caller subject
// in the request context. Any failure answers 403 with InvalidKey.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, code.InvalidKey, "Missing or invalid Authorization header")
			return
		}

		if a.matchStatic(rawKey) {
			ctx := setSubject(r.Context(), "token:"+fingerprint(rawKey))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if a.store == nil || len(rawKey) < store.KeyPrefixLen {
			response.Error(w, code.InvalidKey, "Invalid API key")
			return
		}

		prefix := rawKey[:store.KeyPrefixLen]
		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			slog.Error("api key lookup failed", "prefix", prefix, "error", err)
			response.Error(w, code.Unknown, "Failed to validate API key")
			return
		}

		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}
			ctx := setSubject(r.Context(), prefix)
			ctx = setKeyName(ctx, key.Name)

			go func(id uuid.UUID) {
				if err := a.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
					slog.Warn("update api key last used", "key_id", id, "error", err)
				}
			}(key.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		response.Error(w, code.InvalidKey, "Invalid API key")
	})
}

func (a *Auth) matchStatic(rawKey string) bool {
	candidate := []byte(rawKey)
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t, candidate) == 1 {
			return true
		}
	}
	return false
}

func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
