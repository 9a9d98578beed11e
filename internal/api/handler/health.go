package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/whisperd/internal/api/response"
	"github.com/kiranshivaraju/whisperd/internal/code"
)

// Pinger is any dependency with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewHealthHandler returns an http.HandlerFunc for GET /health. Only the
// dependencies passed in are probed.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.WriteStatus(w, http.StatusServiceUnavailable, code.ServerIsBusy.New(map[string]any{
				"detail":   "One or more services degraded",
				"services": checks,
			}))
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
