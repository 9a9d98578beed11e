package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/whisperd/internal/api/response"
	"github.com/kiranshivaraju/whisperd/internal/code"
)

// NewDownloadHandler returns an http.HandlerFunc for GET /download. Only
// regular files under outDir are served.
func NewDownloadHandler(outDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requested := r.URL.Query().Get("file_path")
		if requested == "" {
			response.Error(w, code.InputIsEmpty, "file_path is required")
			return
		}

		path, ok := within(outDir, requested)
		if !ok {
			response.Error(w, code.FileNotFound, fmt.Sprintf("File %s not found", requested))
			return
		}

		f, err := os.Open(path)
		if err != nil {
			response.Error(w, code.FileNotFound, fmt.Sprintf("File %s not found", requested))
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			response.Error(w, code.FileNotFound, fmt.Sprintf("File %s not found", requested))
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}

// within resolves p against root and reports whether it stays inside root.
func within(root, p string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(absRoot, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}
