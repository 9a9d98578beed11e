// Package engine defines the contract between the job runner and a speech
// recognition backend. The engine is opaque to the runner: it gets input
// paths and options, writes its own artifacts under OutDir, and returns a
// structured payload.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInferenceFailed = errors.New("inference failed")
	ErrInvalidOptions  = errors.New("invalid engine options")
)

const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
	TaskAll        = "all"
)

// Options are the per-job knobs a caller may set. Empty fields fall back
// on the engine defaults.
type Options struct {
	Lang  string `json:"lang,omitempty"  yaml:"lang"`
	Task  string `json:"task,omitempty"  yaml:"task"`
	Model string `json:"model,omitempty" yaml:"model"`
}

// Validate rejects unsupported tasks and malformed language codes.
func (o Options) Validate() error {
	switch o.Task {
	case "", TaskTranscribe, TaskTranslate, TaskAll:
	default:
		return fmt.Errorf("%w: task must be one of transcribe, translate, all; got %q", ErrInvalidOptions, o.Task)
	}
	if o.Lang != "" && !validLang(o.Lang) {
		return fmt.Errorf("%w: lang %q", ErrInvalidOptions, o.Lang)
	}
	if strings.ContainsAny(o.Model, `/\`) {
		return fmt.Errorf("%w: model must be a name, not a path", ErrInvalidOptions)
	}
	return nil
}

// Merge fills empty fields of o from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.Lang == "" {
		o.Lang = defaults.Lang
	}
	if o.Task == "" {
		o.Task = defaults.Task
	}
	if o.Model == "" {
		o.Model = defaults.Model
	}
	return o
}

// Tasks expands the "all" task into its concrete runs.
func (o Options) Tasks() []string {
	switch o.Task {
	case TaskAll:
		return []string{TaskTranscribe, TaskTranslate}
	case "":
		return []string{TaskTranscribe}
	default:
		return []string{o.Task}
	}
}

func validLang(s string) bool {
	if len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-') {
			return false
		}
	}
	return true
}

// Request is one inference call.
type Request struct {
	Inputs    []string
	ContentID string
	OutDir    string
	Options   Options
}

// Result is the engine payload returned to the caller on success.
type Result map[string]any

// Engine runs speech recognition. Implementations must be safe for
// concurrent use.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
}
