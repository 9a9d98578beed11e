package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	subjectKey contextKey = "auth_subject"
	keyNameKey contextKey = "auth_key_name"
)

// setSubject stores the rate-limit subject of the authenticated caller: a
// key prefix or a static-token fingerprint.
func setSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

func getSubject(r *http.Request) (string, bool) {
	subject, ok := r.Context().Value(subjectKey).(string)
	return subject, ok
}

func setKeyName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyNameKey, name)
}

// GetKeyName returns the name of the API key that authenticated r.
func GetKeyName(r *http.Request) (string, bool) {
	name, ok := r.Context().Value(keyNameKey).(string)
	return name, ok
}

// WithSubject returns ctx carrying an authenticated subject (for testing).
func WithSubject(ctx context.Context, subject string) context.Context {
	return setSubject(ctx, subject)
}
