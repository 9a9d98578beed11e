// Package upload streams inbound job payloads to disk and records the
// outcome in the job's status record.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/whisperd/internal/status"
)

// ChunkSize is the read size used when copying an inbound stream.
const ChunkSize = 1 << 20

var ErrUploadFailed = errors.New("upload failed")

// Records is the subset of the status store the coordinator needs.
type Records interface {
	Write(location string, st status.Status, detail string) error
	Transition(location string, to status.Status, detail string) error
}

// Coordinator copies payloads in fixed-size chunks and marks the record
// UPLOADED or FAILED.
type Coordinator struct {
	records   Records
	chunkSize int
}

// NewCoordinator creates a Coordinator with the default 1 MiB chunk size.
func NewCoordinator(records Records) *Coordinator {
	return &Coordinator{records: records, chunkSize: ChunkSize}
}

// Save writes src to dest. On success the record becomes UPLOADED; on any
// failure the record becomes FAILED and the returned error wraps
// ErrUploadFailed.
func (c *Coordinator) Save(ctx context.Context, src io.Reader, name, location, dest string) error {
	if err := c.copy(ctx, src, dest); err != nil {
		return c.fail(location, name, dest, err)
	}

	if err := c.records.Transition(location, status.Uploaded,
		fmt.Sprintf("File %s uploaded successfully", name)); err != nil {
		return c.fail(location, name, dest, err)
	}

	slog.Info("upload saved", "file", name, "path", dest)
	return nil
}

func (c *Coordinator) copy(ctx context.Context, src io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	buf := make([]byte, c.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return rerr
		}
	}
	return f.Close()
}

func (c *Coordinator) fail(location, name, dest string, cause error) error {
	detail := fmt.Sprintf("File %s upload failed: %v", name, cause)
	if err := c.records.Write(location, status.Failed, detail); err != nil {
		slog.Error("failed to record upload failure", "location", location, "error", err)
	}
	_ = os.Remove(dest)
	slog.Warn("upload failed", "file", name, "error", cause)
	return fmt.Errorf("%w: %s: %v", ErrUploadFailed, name, cause)
}
