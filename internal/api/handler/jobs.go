package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	mw "github.com/kiranshivaraju/whisperd/internal/api/middleware"
	"github.com/kiranshivaraju/whisperd/internal/api/response"
	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/engine"
	"github.com/kiranshivaraju/whisperd/internal/runner"
	"github.com/kiranshivaraju/whisperd/internal/upload"
)

// multipartMemory is the in-memory budget for multipart parsing; larger
// parts are spooled to temporary files.
const multipartMemory = upload.ChunkSize

// NewRunHandler returns an http.HandlerFunc for POST /run (multipart upload).
func NewRunHandler(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			response.Error(w, code.InputIsEmpty, "multipart form with at least one file is required")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := append(r.MultipartForm.File["file"], r.MultipartForm.File["files"]...)
		files := make([]runner.FileUpload, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				closeAll(files)
				response.Error(w, code.UploadFailed, fmt.Sprintf("open %s: %v", fh.Filename, err))
				return
			}
			files = append(files, runner.FileUpload{Name: fh.Filename, Reader: f})
		}
		defer closeAll(files)

		async, err := parseBool(r.FormValue("async"))
		if err != nil {
			response.Error(w, code.InvalidTask, "async must be a boolean")
			return
		}

		submit(w, r, d, runner.Input{
			Mode:      runner.ModeUpload,
			ContentID: r.FormValue("content_id"),
			Files:     files,
			Options: engine.Options{
				Lang:  r.FormValue("lang"),
				Task:  r.FormValue("task"),
				Model: r.FormValue("model"),
			},
		}, async)
	}
}

type uriRequest struct {
	URI       string         `json:"uri"`
	URIs      []string       `json:"uris"`
	ContentID string         `json:"content_id"`
	Options   engine.Options `json:"options"`
	Async     bool           `json:"async"`
}

// NewURIHandler returns an http.HandlerFunc for POST /uri.
func NewURIHandler(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req uriRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			response.Error(w, code.InvalidTask, "Invalid JSON body: "+err.Error())
			return
		}

		uris := req.URIs
		if req.URI != "" {
			uris = append([]string{req.URI}, uris...)
		}

		submit(w, r, d, runner.Input{
			Mode:      runner.ModeURI,
			ContentID: req.ContentID,
			URIs:      uris,
			Options:   req.Options,
		}, req.Async)
	}
}

// NewBytesHandler returns an http.HandlerFunc for POST /bytes. The raw body
// is the media; Content-Type selects the stored file suffix.
func NewBytesHandler(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		async, err := parseBool(q.Get("async"))
		if err != nil {
			response.Error(w, code.InvalidTask, "async must be a boolean")
			return
		}

		in := runner.Input{
			Mode:        runner.ModeBytes,
			ContentID:   q.Get("content_id"),
			ContentType: r.Header.Get("Content-Type"),
			Options: engine.Options{
				Lang:  q.Get("lang"),
				Task:  q.Get("task"),
				Model: q.Get("model"),
			},
		}
		// Chunked requests report ContentLength -1, so emptiness is read
		// off the stream.
		body := bufio.NewReader(r.Body)
		if _, err := body.Peek(1); !errors.Is(err, io.EOF) {
			in.Body = body
		}

		submit(w, r, d, in, async)
	}
}

func submit(w http.ResponseWriter, r *http.Request, d *Dispatcher, in runner.Input, async bool) {
	resp := d.Dispatch(r.Context(), in, async)

	key, _ := mw.GetKeyName(r)
	slog.Info("job submitted",
		"mode", in.Mode,
		"content_id", resp.Content["content_id"],
		"code", resp.Code,
		"async", async,
		"api_key", key,
	)
	response.Write(w, resp)
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func closeAll(files []runner.FileUpload) {
	for _, f := range files {
		if c, ok := f.Reader.(multipart.File); ok {
			c.Close()
		}
	}
}
