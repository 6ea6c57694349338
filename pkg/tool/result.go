package tool

import (
	"encoding/json"
	"strings"

	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

// ErrorPrefix starts the text of every failed Result.
const ErrorPrefix = "Tool execution failed: "

// SegmentKind distinguishes output segments.
type SegmentKind string

const (
	SegmentText SegmentKind = "text"
	SegmentData SegmentKind = "data"
)

// Segment is one piece of tool output.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	Data any         `json:"data,omitempty"`
}

// Text returns a text segment.
func Text(s string) Segment { return Segment{Kind: SegmentText, Text: s} }

// Data returns a structured segment.
func Data(v any) Segment { return Segment{Kind: SegmentData, Data: v} }

// Request is one entry of a batch.
type Request struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
	// Context holds call scoped values; it outranks session and registration
	// defaults.
	Context toolctx.Chain `json:"-"`
}

// Result is the outcome of one Request.
type Result struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Segments []Segment `json:"segments"`
	IsError  bool      `json:"is_error"`
}

// Text joins the result segments. Data segments are rendered as JSON.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		switch seg.Kind {
		case SegmentData:
			raw, err := json.Marshal(seg.Data)
			if err != nil {
				continue
			}
			parts = append(parts, string(raw))
		default:
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func failure(req Request, msg string) Result {
	return Result{
		ID:       req.ID,
		Name:     req.Name,
		Segments: []Segment{Text(ErrorPrefix + msg)},
		IsError:  true,
	}
}
