// Package resolve answers result queries from a job's status record.
package resolve

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/status"
)

var ErrMissingResultArtifact = errors.New("result artifact missing")

// Records is the read side of status.Store.
type Records interface {
	Read(location string) (status.Record, error)
}

// Resolver maps a record to the response a polling client receives. It
// never writes.
type Resolver struct {
	records Records
	stat    func(string) (os.FileInfo, error)
}

func New(records Records) *Resolver {
	return &Resolver{records: records, stat: os.Stat}
}

// ResolveID validates contentID and resolves its record under root.
func (r *Resolver) ResolveID(root, contentID string) code.Response {
	if !status.ValidID(contentID) {
		return code.InvalidID.New(map[string]any{
			"content_id": contentID,
			"detail":     fmt.Sprintf("invalid content id %q", contentID),
		})
	}
	return r.Resolve(contentID, status.Location(root, contentID))
}

// Resolve reads the record at location. Non-DONE records are reported
// through code.FromStatus; DONE records are checked for their artifacts.
func (r *Resolver) Resolve(contentID, location string) code.Response {
	rec, err := r.records.Read(location)
	switch {
	case errors.Is(err, status.ErrRecordNotFound):
		return failed(contentID, "Status file not found.")
	case errors.Is(err, status.ErrMalformedRecord):
		return failed(contentID, "Malformed status file.")
	case errors.Is(err, status.ErrUnknownStatus):
		return failed(contentID, fmt.Sprintf("Unknown status '%s'.", rec.Status))
	case err != nil:
		return failed(contentID, err.Error())
	}

	if rec.Status != status.Done {
		return code.FromStatus(rec.Status, contentID, rec.Detail)
	}

	if err := r.VerifyArtifacts(rec.Detail); err != nil {
		return failed(contentID, "Result file not found.")
	}
	return code.Success.New(map[string]any{"content_id": contentID, "result": rec.Detail})
}

// VerifyArtifacts stats every comma separated path of a DONE detail. A
// detail naming a single existing path that itself contains a comma is
// accepted as is.
func (r *Resolver) VerifyArtifacts(detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: empty detail", ErrMissingResultArtifact)
	}
	if _, err := r.stat(detail); err == nil {
		return nil
	}
	for _, p := range strings.Split(detail, ",") {
		if _, err := r.stat(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMissingResultArtifact, p, err)
		}
	}
	return nil
}

func failed(contentID, detail string) code.Response {
	return code.ProcessFailed.New(map[string]any{"content_id": contentID, "detail": detail})
}
