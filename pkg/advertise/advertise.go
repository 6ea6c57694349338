// Package advertise converts toolkit definitions into the tool parameter
// types of model provider SDKs.
package advertise

import (
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/tool"
)

// Anthropic converts defs into Messages API tool params.
func Anthropic(defs []tool.Definition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		input, err := encodeSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", name, err)
		}
		param := anthropicsdk.ToolParam{
			Name:        name,
			InputSchema: input,
		}
		if desc := strings.TrimSpace(def.Description); desc != "" {
			param.Description = anthropicsdk.String(desc)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func encodeSchema(s schema.Schema) (anthropicsdk.ToolInputSchemaParam, error) {
	if s.IsEmpty() {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var input anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &input); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if input.Type == "" {
		input.Type = "object"
	}
	return input, nil
}

// OpenAI converts defs into Chat Completions function tools.
func OpenAI(defs []tool.Definition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		param := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       name,
				Parameters: functionParameters(def.Parameters),
			},
		}
		if desc := strings.TrimSpace(def.Description); desc != "" {
			param.Function.Description = openai.Opt(desc)
		}
		out = append(out, param)
	}
	return out
}

func functionParameters(s schema.Schema) shared.FunctionParameters {
	params := make(shared.FunctionParameters, len(s)+1)
	for k, v := range s.Clone() {
		params[k] = v
	}
	if _, ok := params["type"]; !ok {
		params["type"] = schema.TypeObject
	}
	return params
}
