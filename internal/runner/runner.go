// Package runner drives a transcription job through its lifecycle:
// allocate a record, materialize the input, run the engine and record the
// outcome. Every path answers with a code.Response; nothing propagates.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/engine"
	"github.com/kiranshivaraju/whisperd/internal/fetch"
	"github.com/kiranshivaraju/whisperd/internal/status"
)

// Mode selects how a job's input reaches the engine.
type Mode int

const (
	ModeUpload Mode = iota + 1
	ModeURI
	ModeBytes
)

func (m Mode) String() string {
	switch m {
	case ModeUpload:
		return "upload"
	case ModeURI:
		return "uri"
	case ModeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// FileUpload is one multipart file part.
type FileUpload struct {
	Name   string
	Reader io.Reader
}

// Input describes a job submission. Only the fields of the selected Mode
// are read.
type Input struct {
	Mode        Mode
	ContentID   string
	Files       []FileUpload
	URIs        []string
	Body        io.Reader
	ContentType string
	Options     engine.Options
}

// Records is the subset of status.Store the runner needs.
type Records interface {
	Allocate(contentID, root string) (string, string, error)
	Write(location string, st status.Status, detail string) error
	Transition(location string, to status.Status, detail string) error
}

// Uploader streams a payload next to the record and marks it UPLOADED.
type Uploader interface {
	Save(ctx context.Context, src io.Reader, name, location, dest string) error
}

// ObjectSource opens remote objects referenced by s3:// URIs.
type ObjectSource interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// WebSource downloads media referenced by http(s) URIs.
type WebSource interface {
	Get(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Job is a prepared submission whose inputs are on local disk.
type Job struct {
	ContentID string
	Location  string
	Dir       string
	Inputs    []string
	Options   engine.Options

	release func()
	once    sync.Once
}

// Detail is the record detail for a job: its inputs joined by commas.
func (j *Job) Detail() string {
	return strings.Join(j.Inputs, ",")
}

func (j *Job) done() {
	j.once.Do(func() {
		if j.release != nil {
			j.release()
		}
	})
}

// Config holds runner settings.
type Config struct {
	OutDir   string
	Defaults engine.Options
}

type Runner struct {
	records  Records
	uploader Uploader
	engine   engine.Engine
	objects  ObjectSource
	web      WebSource
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

type Option func(*Runner)

// WithObjectSource enables s3:// inputs.
func WithObjectSource(src ObjectSource) Option {
	return func(r *Runner) { r.objects = src }
}

// WithWebSource enables http(s) inputs.
func WithWebSource(src WebSource) Option {
	return func(r *Runner) { r.web = src }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(records Records, uploader Uploader, eng engine.Engine, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		records:  records,
		uploader: uploader,
		engine:   eng,
		cfg:      cfg,
		logger:   slog.Default(),
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run prepares and executes a job on the calling goroutine.
func (r *Runner) Run(ctx context.Context, in Input) code.Response {
	job, resp := r.Prepare(ctx, in)
	if job == nil {
		return resp
	}
	return r.Execute(ctx, job)
}

// Prepare validates the input, allocates the record and materializes the
// payload. A nil Job means the returned response is final.
func (r *Runner) Prepare(ctx context.Context, in Input) (*Job, code.Response) {
	opts, resp, ok := r.validate(in)
	if !ok {
		return nil, resp
	}

	if in.ContentID != "" && !r.acquire(in.ContentID) {
		r.logger.Warn("content id already in flight", "content_id", in.ContentID)
		return nil, busy(in.ContentID)
	}

	id, location, err := r.records.Allocate(in.ContentID, r.cfg.OutDir)
	if err != nil {
		r.releaseID(in.ContentID)
		if errors.Is(err, status.ErrInvalidID) {
			return nil, code.InvalidID.New(map[string]any{"content_id": in.ContentID, "detail": err.Error()})
		}
		r.logger.Error("allocate record", "content_id", in.ContentID, "error", err)
		return nil, code.ProcessFailed.New(map[string]any{"content_id": in.ContentID, "error": err.Error()})
	}
	if in.ContentID == "" && !r.acquire(id) {
		return nil, busy(id)
	}

	job := &Job{
		ContentID: id,
		Location:  location,
		Dir:       filepath.Dir(location),
		Options:   opts,
	}
	job.release = func() { r.releaseID(id) }

	resp = r.guard(job, func() code.Response {
		inputs, err := r.materialize(ctx, job, in)
		if err != nil {
			r.logger.Warn("materialize input", "content_id", id, "mode", in.Mode, "error", err)
			return code.UploadFailed.New(map[string]any{"content_id": id, "detail": err.Error()})
		}
		job.Inputs = inputs
		return code.UploadSuccess.New(map[string]any{"content_id": id, "detail": job.Detail()})
	})
	if resp.IsError() {
		job.done()
		return nil, resp
	}
	return job, resp
}

// Enqueue marks a prepared job PENDING before it is handed to a worker.
func (r *Runner) Enqueue(job *Job) code.Response {
	if err := r.records.Transition(job.Location, status.Pending, "File queued for processing"); err != nil {
		resp := r.fail(job, err)
		job.done()
		return resp
	}
	return code.FromStatus(status.Pending, job.ContentID, "")
}

// Reject fails a prepared job that could not be scheduled.
func (r *Runner) Reject(job *Job, reason error) code.Response {
	defer job.done()
	if err := r.records.Write(job.Location, status.Failed, reason.Error()); err != nil {
		r.logger.Error("record rejection", "content_id", job.ContentID, "error", err)
	}
	return busy(job.ContentID)
}

// Execute runs inference for a prepared job and records DONE or FAILED.
func (r *Runner) Execute(ctx context.Context, job *Job) code.Response {
	defer job.done()

	return r.guard(job, func() code.Response {
		detail := job.Detail()
		if err := r.records.Transition(job.Location, status.Running, detail); err != nil {
			return r.fail(job, err)
		}
		r.logger.Info("job running", "content_id", job.ContentID, "engine", r.engine.Name(), "inputs", len(job.Inputs))

		result, err := r.engine.Transcribe(ctx, engine.Request{
			Inputs:    job.Inputs,
			ContentID: job.ContentID,
			OutDir:    job.Dir,
			Options:   job.Options,
		})
		if err != nil {
			r.logger.Warn("inference failed", "content_id", job.ContentID,
				"error", fmt.Errorf("%w: %w", engine.ErrInferenceFailed, err))
			return r.fail(job, err)
		}

		if err := r.records.Transition(job.Location, status.Done, detail); err != nil {
			return r.fail(job, err)
		}
		r.logger.Info("job done", "content_id", job.ContentID, "status", status.Done)
		return code.Success.New(map[string]any{"content_id": job.ContentID, "result": result})
	})
}

// guard converts a panic inside fn into a FAILED record and a
// ProcessFailed response.
func (r *Runner) guard(job *Job, fn func() code.Response) (resp code.Response) {
	defer func() {
		if p := recover(); p != nil {
			resp = r.fail(job, fmt.Errorf("panic: %v", p))
		}
	}()
	return fn()
}

func (r *Runner) fail(job *Job, err error) code.Response {
	if werr := r.records.Write(job.Location, status.Failed, err.Error()); werr != nil {
		r.logger.Error("record failure", "content_id", job.ContentID, "error", werr)
	}
	r.logger.Error("job failed", "content_id", job.ContentID, "status", status.Failed, "error", err)
	return code.ProcessFailed.New(map[string]any{"content_id": job.ContentID, "error": err.Error()})
}

func (r *Runner) validate(in Input) (engine.Options, code.Response, bool) {
	reject := func(c code.Code, detail string) (engine.Options, code.Response, bool) {
		return engine.Options{}, c.New(map[string]any{"content_id": in.ContentID, "detail": detail}), false
	}

	if in.ContentID != "" && !status.ValidID(in.ContentID) {
		return reject(code.InvalidID, fmt.Sprintf("invalid content id %q", in.ContentID))
	}

	switch in.Mode {
	case ModeUpload:
		if len(in.Files) == 0 {
			return reject(code.InputIsEmpty, "no files uploaded")
		}
	case ModeURI:
		if len(in.URIs) == 0 {
			return reject(code.InputIsEmpty, "no uri given")
		}
		for _, uri := range in.URIs {
			t, err := fetch.Parse(uri)
			if err != nil {
				return reject(code.FileNotFound, err.Error())
			}
			if t.Kind == fetch.KindS3 && r.objects == nil {
				return reject(code.TaskNotSupported, "s3 inputs are not configured")
			}
			if t.Kind == fetch.KindHTTP && r.web == nil {
				return reject(code.TaskNotSupported, "http inputs are not configured")
			}
			if t.Kind == fetch.KindLocal {
				if info, err := os.Stat(t.Path); err != nil || info.IsDir() {
					return reject(code.FileNotFound, fmt.Sprintf("File %s not found", t.Path))
				}
			}
		}
	case ModeBytes:
		if in.Body == nil {
			return reject(code.InputIsEmpty, "request body is empty")
		}
	default:
		return reject(code.TaskNotSupported, fmt.Sprintf("unsupported input mode %q", in.Mode))
	}

	opts := in.Options.Merge(r.cfg.Defaults)
	if err := opts.Validate(); err != nil {
		return reject(code.InvalidTask, err.Error())
	}
	return opts, code.Response{}, true
}

func (r *Runner) materialize(ctx context.Context, job *Job, in Input) ([]string, error) {
	switch in.Mode {
	case ModeUpload:
		paths := make([]string, 0, len(in.Files))
		for _, f := range in.Files {
			name := safeName(f.Name)
			dest := filepath.Join(job.Dir, name)
			if err := r.uploader.Save(ctx, f.Reader, name, job.Location, dest); err != nil {
				return nil, err
			}
			paths = append(paths, dest)
		}
		return paths, nil

	case ModeBytes:
		name := job.ContentID + "." + suffixFor(in.ContentType)
		dest := filepath.Join(job.Dir, name)
		if err := r.uploader.Save(ctx, in.Body, name, job.Location, dest); err != nil {
			return nil, err
		}
		return []string{dest}, nil

	case ModeURI:
		paths := make([]string, 0, len(in.URIs))
		seen := make(map[string]bool)
		for i, uri := range in.URIs {
			t, err := fetch.Parse(uri)
			if err != nil {
				return nil, err
			}
			if t.Kind == fetch.KindLocal {
				paths = append(paths, t.Path)
				continue
			}
			name := safeName(t.Name())
			if seen[name] {
				name = fmt.Sprintf("%d_%s", i, name)
			}
			seen[name] = true
			dest, err := r.download(ctx, job, t, name)
			if err != nil {
				return nil, err
			}
			paths = append(paths, dest)
		}
		return paths, nil
	}
	return nil, fmt.Errorf("unsupported input mode %q", in.Mode)
}

func (r *Runner) download(ctx context.Context, job *Job, t fetch.Target, name string) (string, error) {
	rc, err := r.open(ctx, t)
	if err != nil {
		detail := fmt.Sprintf("File %s upload failed: %v", name, err)
		if werr := r.records.Write(job.Location, status.Failed, detail); werr != nil {
			r.logger.Error("record failure", "content_id", job.ContentID, "error", werr)
		}
		return "", err
	}
	defer rc.Close()

	dest := filepath.Join(job.Dir, name)
	if err := r.uploader.Save(ctx, rc, name, job.Location, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *Runner) open(ctx context.Context, t fetch.Target) (io.ReadCloser, error) {
	if t.Kind == fetch.KindHTTP {
		return r.web.Get(ctx, t.URL)
	}
	return r.objects.Open(ctx, t.Bucket, t.Key)
}

func (r *Runner) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) releaseID(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// InFlight reports whether id is currently owned by a job in this process.
func (r *Runner) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

func busy(id string) code.Response {
	return code.ServerIsBusy.New(map[string]any{
		"content_id": id,
		"detail":     fmt.Sprintf("File %s is already being processed", id),
	})
}

// safeName reduces a client supplied name to a base name. Commas separate
// inputs in a record detail, so they are replaced.
func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, ",", "_")
	if base == "." || base == "/" || base == ".." || base == "" {
		return "unknown"
	}
	return base
}

// suffixFor derives the file suffix from a media type, e.g. audio/wav -> wav.
func suffixFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return "bin"
	}
	parts := strings.Split(mediaType, "/")
	suffix := parts[len(parts)-1]
	if suffix == "" || strings.ContainsAny(suffix, `/\.`) {
		return "bin"
	}
	return suffix
}
