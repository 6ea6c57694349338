// Package sdktool adapts agentsdk-go tools, including its builtin file and
// shell tools, to the capkit Tool interface.
package sdktool

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/cexll/agentsdk-go/pkg/tool"
	toolbuiltin "github.com/cexll/agentsdk-go/pkg/tool/builtin"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/tool"
)

// Tool wraps an agentsdk-go tool.
type Tool struct {
	inner  sdk.Tool
	schema schema.Schema
}

// Wrap adapts t. Its schema is converted once.
func Wrap(t sdk.Tool) (*Tool, error) {
	if t == nil {
		return nil, errors.New("sdk tool is nil")
	}
	var s schema.Schema
	if js := t.Schema(); js != nil {
		converted, err := schema.FromAny(js)
		if err != nil {
			return nil, fmt.Errorf("sdk tool %s: schema: %w", t.Name(), err)
		}
		s = converted
	}
	return &Tool{inner: t, schema: s}, nil
}

func (t *Tool) Name() string          { return t.inner.Name() }
func (t *Tool) Description() string   { return t.inner.Description() }
func (t *Tool) Schema() schema.Schema { return t.schema }

// Unwrap returns the adapted tool.
func (t *Tool) Unwrap() sdk.Tool { return t.inner }

func (t *Tool) Invoke(ctx context.Context, call tool.Call) ([]tool.Segment, error) {
	params := call.Payload
	if params == nil {
		params = map[string]any{}
	}
	res, err := t.inner.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	if !res.Success && res.Error != nil {
		return nil, res.Error
	}
	var segs []tool.Segment
	if res.Output != "" {
		segs = append(segs, tool.Text(res.Output))
	}
	if res.OutputRef != nil {
		segs = append(segs, tool.Data(res.OutputRef))
	}
	if res.Data != nil {
		segs = append(segs, tool.Data(res.Data))
	}
	if !res.Success {
		msg := res.Output
		if msg == "" {
			msg = t.Name() + " reported failure"
		}
		return nil, errors.New(msg)
	}
	return segs, nil
}

// FileTools returns the read-only filesystem builtins confined to root.
func FileTools(root string) ([]*Tool, error) {
	return wrapAll(
		toolbuiltin.NewReadToolWithRoot(root),
		toolbuiltin.NewGlobToolWithRoot(root),
		toolbuiltin.NewGrepToolWithRoot(root),
	)
}

// ShellTools returns the shell builtin running in root.
func ShellTools(root string) ([]*Tool, error) {
	return wrapAll(toolbuiltin.NewBashToolWithRoot(root))
}

func wrapAll(tools ...sdk.Tool) ([]*Tool, error) {
	out := make([]*Tool, 0, len(tools))
	for _, t := range tools {
		w, err := Wrap(t)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
