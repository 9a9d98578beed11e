package mock

import (
	"context"

	"github.com/kiranshivaraju/whisperd/internal/engine"
)

// MockEngine satisfies engine.Engine for testing.
type MockEngine struct {
	Name_          string
	TranscribeFunc func(ctx context.Context, req engine.Request) (engine.Result, error)
}

func (m *MockEngine) Name() string { return m.Name_ }

func (m *MockEngine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	return engine.Result{}, nil
}

// NewMockEngine returns a MockEngine echoing its inputs with a fixed script.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Name_: "mock",
		TranscribeFunc: func(_ context.Context, req engine.Request) (engine.Result, error) {
			return engine.Result{
				"audio":  req.Inputs,
				"script": "mock transcript",
			}, nil
		},
	}
}

// NewFailingEngine returns a MockEngine that always returns err.
func NewFailingEngine(err error) *MockEngine {
	return &MockEngine{
		Name_: "mock-failing",
		TranscribeFunc: func(_ context.Context, _ engine.Request) (engine.Result, error) {
			return nil, err
		},
	}
}

// NewPanickingEngine returns a MockEngine that panics with v.
func NewPanickingEngine(v any) *MockEngine {
	return &MockEngine{
		Name_: "mock-panicking",
		TranscribeFunc: func(_ context.Context, _ engine.Request) (engine.Result, error) {
			panic(v)
		},
	}
}

// Compile-time check that MockEngine implements Engine.
var _ engine.Engine = (*MockEngine)(nil)
