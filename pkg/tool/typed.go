package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stellarlinkco/capkit/pkg/schema"
)

// NewTypedTool derives the parameter schema from In and decodes each payload
// into In before calling fn.
func NewTypedTool[In any](name, description string, fn func(ctx context.Context, call Call, in In) ([]Segment, error)) (*FuncTool, error) {
	s, err := schema.Reflect[In]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return NewFuncTool(name, description, s, func(ctx context.Context, call Call) ([]Segment, error) {
		var in In
		raw, err := json.Marshal(call.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return fn(ctx, call, in)
	}), nil
}
