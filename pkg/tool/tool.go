// Package tool registers named tools, gates them behind activatable groups and
// executes batches of calls with uniform error reporting.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

// Tool represents an invocable capability.
type Tool interface {
	// Name returns the unique identifier of the tool.
	Name() string

	// Description gives a short human readable summary.
	Description() string

	// Schema describes the tool parameters. An empty schema accepts any payload.
	Schema() schema.Schema

	// Invoke runs the tool with a validated payload and the merged context chain.
	Invoke(ctx context.Context, call Call) ([]Segment, error)
}

// Call is what a tool receives for a single invocation.
type Call struct {
	ID      string
	Name    string
	Payload map[string]any
	Context toolctx.Chain
}

// String returns payload[key] when it is a string.
func (c Call) String(key string) (string, bool) {
	v, ok := c.Payload[key].(string)
	return v, ok
}

// Func is the signature wrapped by FuncTool.
type Func func(ctx context.Context, call Call) ([]Segment, error)

// FuncTool is a tool backed by a local Go function.
type FuncTool struct {
	name        string
	description string
	schema      schema.Schema
	fn          Func
}

// NewFuncTool builds a local tool.
func NewFuncTool(name, description string, s schema.Schema, fn Func) *FuncTool {
	return &FuncTool{name: name, description: description, schema: s, fn: fn}
}

func (t *FuncTool) Name() string          { return t.name }
func (t *FuncTool) Description() string   { return t.description }
func (t *FuncTool) Schema() schema.Schema { return t.schema }

func (t *FuncTool) Invoke(ctx context.Context, call Call) ([]Segment, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %s has no implementation", t.name)
	}
	return t.fn(ctx, call)
}

// ErrDeclaredOnly is returned when a DeclaredTool is invoked in-process.
var ErrDeclaredOnly = errors.New("tool is declared only and executes outside this runtime")

// DeclaredTool advertises a tool whose execution happens elsewhere, for
// example on the client that consumes the advertised definitions.
type DeclaredTool struct {
	name        string
	description string
	schema      schema.Schema
}

func NewDeclaredTool(name, description string, s schema.Schema) *DeclaredTool {
	return &DeclaredTool{name: name, description: description, schema: s}
}

func (t *DeclaredTool) Name() string          { return t.name }
func (t *DeclaredTool) Description() string   { return t.description }
func (t *DeclaredTool) Schema() schema.Schema { return t.schema }

func (t *DeclaredTool) Invoke(context.Context, Call) ([]Segment, error) {
	return nil, fmt.Errorf("%s: %w", t.name, ErrDeclaredOnly)
}
