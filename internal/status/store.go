package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	fileSuffix = ".status"
	separator  = "\t"
)

var (
	ErrRecordNotFound    = errors.New("status record not found")
	ErrMalformedRecord   = errors.New("malformed status record")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidID         = errors.New("invalid content id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Record is the parsed content of a status file.
type Record struct {
	Status Status
	Detail string
}

// Store reads and writes status records on the local filesystem.
// Concurrent writers to the same record race; the last rename wins, but a
// reader never observes a partially written file.
type Store struct {
	newID func() string
}

// NewStore creates a Store generating 32-char hex ids for empty content ids.
func NewStore() *Store {
	return &Store{newID: newHexID}
}

// NewStoreWithIDs creates a Store with a custom id generator.
func NewStoreWithIDs(gen func() string) *Store {
	return &Store{newID: gen}
}

func newHexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id is safe to use as a path component.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Location returns the record path for id under root.
func Location(root, id string) string {
	return filepath.Join(root, id, id+fileSuffix)
}

// Allocate resolves the content id (generating one when empty), creates its
// directory under root and writes a fresh READY record, replacing any
// previous record for the same id.
func (s *Store) Allocate(contentID, root string) (string, string, error) {
	if contentID == "" {
		contentID = s.newID()
	}
	if !ValidID(contentID) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, contentID)
	}

	location := Location(root, contentID)
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return "", "", fmt.Errorf("create record directory: %w", err)
	}
	if err := s.Write(location, Ready, contentID+" ready for processing"); err != nil {
		return "", "", err
	}
	return contentID, location, nil
}

// Write replaces the whole record with (st, detail).
func (s *Store) Write(location string, st Status, detail string) error {
	if !st.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(st))
	}

	dir := filepath.Dir(location)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(location)+".*")
	if err != nil {
		return fmt.Errorf("write status record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(string(st) + separator + detail); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write status record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write status record: %w", err)
	}
	if err := os.Rename(tmpName, location); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write status record: %w", err)
	}
	return nil
}

// Read parses the record at location. The content is split on the first
// separator only, so a detail may itself contain tabs. On ErrUnknownStatus
// the returned Record still carries the raw token and detail.
func (s *Store) Read(location string) (Record, error) {
	raw, err := os.ReadFile(location)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, location)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read status record: %w", err)
	}

	content := strings.TrimSuffix(string(raw), "\n")
	token, detail, ok := strings.Cut(content, separator)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrMalformedRecord, location)
	}

	st, err := Parse(token)
	if err != nil {
		return Record{Status: Status(token), Detail: detail}, err
	}
	return Record{Status: st, Detail: detail}, nil
}

// Transition moves the record to `to` if the state machine allows it.
func (s *Store) Transition(location string, to Status, detail string) error {
	current, err := s.Read(location)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	return s.Write(location, to, detail)
}
