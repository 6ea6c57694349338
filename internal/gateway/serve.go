package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/stellarlinkco/capkit/pkg/tool"
	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

const maxLineSize = 4 << 20

// Batch is one line of the serve protocol. A bare JSON array of calls is
// accepted as shorthand for {"calls": [...]}.
type Batch struct {
	ID         string         `json:"id,omitempty"`
	Calls      []tool.Request `json:"calls"`
	Sequential *bool          `json:"sequential,omitempty"`
	// Context becomes the session chain as string values keyed by name.
	Context map[string]string `json:"context,omitempty"`
}

// Reply answers one Batch.
type Reply struct {
	ID      string        `json:"id,omitempty"`
	Results []tool.Result `json:"results"`
	Error   string        `json:"error,omitempty"`
}

// ParseBatch decodes a batch in either accepted form.
func ParseBatch(data []byte) (Batch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Batch{}, errors.New("empty batch")
	}
	var b Batch
	if data[0] == '[' {
		if err := json.Unmarshal(data, &b.Calls); err != nil {
			return Batch{}, fmt.Errorf("decode calls: %w", err)
		}
		return b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}

// Session converts the batch context into a chain.
func (b Batch) Session() toolctx.Chain {
	if len(b.Context) == 0 {
		return toolctx.Chain{}
	}
	keys := make([]string, 0, len(b.Context))
	for k := range b.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]toolctx.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, toolctx.Keyed(k, b.Context[k]))
	}
	return toolctx.New(entries...)
}

// Execute runs b against the toolkit.
func (g *Gateway) Execute(ctx context.Context, b Batch) Reply {
	opts := []tool.InvokeOption{tool.WithContext(b.Session())}
	if b.Sequential != nil {
		if *b.Sequential {
			opts = append(opts, tool.Sequential())
		} else {
			opts = append(opts, tool.Parallel())
		}
	}
	results := g.kit.Invoke(ctx, b.Calls, opts...)
	if results == nil {
		results = []tool.Result{}
	}
	return Reply{ID: b.ID, Results: results}
}

// Serve reads one batch per line from r and writes one reply per line to w
// until r is exhausted or ctx ends. Malformed lines get an error reply and do
// not stop the loop.
func (g *Gateway) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var reply Reply
		batch, err := ParseBatch(line)
		if err != nil {
			g.log.Warn().Err(err).Msg("rejected batch")
			reply = Reply{Results: []tool.Result{}, Error: err.Error()}
		} else {
			reply = g.Execute(ctx, batch)
		}
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read batch: %w", err)
	}
	return nil
}
