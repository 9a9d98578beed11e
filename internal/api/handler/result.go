package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/whisperd/internal/api/response"
	"github.com/kiranshivaraju/whisperd/internal/code"
)

// Results resolves a content id to its current response.
type Results interface {
	ResolveID(root, contentID string) code.Response
}

// NewResultHandler returns an http.HandlerFunc for GET /result/{contentID}.
func NewResultHandler(res Results, outDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Write(w, res.ResolveID(outDir, chi.URLParam(r, "contentID")))
	}
}
