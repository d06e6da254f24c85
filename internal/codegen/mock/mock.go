package mock

import (
	"context"
	"sync"

	"github.com/dylan-isaac/dotfiles-sub000/internal/codegen"
)

// Generator is a test double that records every request. Handler, when
// set, decides the outcome of each call; otherwise calls succeed.
type Generator struct {
	mu      sync.Mutex
	calls   []codegen.Request
	Handler func(ctx context.Context, call int, req codegen.Request) error
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Name() string { return "mock" }

func (g *Generator) Generate(ctx context.Context, req codegen.Request) error {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	call := len(g.calls) - 1
	g.mu.Unlock()

	if g.Handler != nil {
		return g.Handler(ctx, call, req)
	}
	return nil
}

// Calls returns a copy of the recorded requests.
func (g *Generator) Calls() []codegen.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]codegen.Request(nil), g.calls...)
}

var _ codegen.Generator = (*Generator)(nil)
