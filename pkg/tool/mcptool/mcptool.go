// Package mcptool exposes tools served over the Model Context Protocol as
// capkit tools.
package mcptool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/tool"
)

const (
	clientName    = "capkit"
	clientVersion = "dev"

	defaultTimeout = 10 * time.Second
)

// Caller is the part of an MCP client session a Tool needs.
type Caller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// Tool forwards invocations to a remote MCP tool.
type Tool struct {
	name        string
	remoteName  string
	description string
	schema      schema.Schema
	origin      string
	caller      Caller
}

// New wraps remote. origin names the server and becomes the OriginClient of
// the registration.
func New(caller Caller, origin string, remote *mcp.Tool) (*Tool, error) {
	if caller == nil {
		return nil, errors.New("mcp caller is nil")
	}
	if remote == nil || strings.TrimSpace(remote.Name) == "" {
		return nil, errors.New("mcp tool has no name")
	}
	s, err := schema.FromAny(remote.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: input schema: %w", remote.Name, err)
	}
	return &Tool{
		name:        remote.Name,
		remoteName:  remote.Name,
		description: remote.Description,
		schema:      s,
		origin:      origin,
		caller:      caller,
	}, nil
}

func (t *Tool) Name() string          { return t.name }
func (t *Tool) Description() string   { return t.description }
func (t *Tool) Schema() schema.Schema { return t.schema }

// Origin returns the server name the tool came from.
func (t *Tool) Origin() string { return t.origin }

func (t *Tool) Invoke(ctx context.Context, call tool.Call) ([]tool.Segment, error) {
	args := call.Payload
	if args == nil {
		args = map[string]any{}
	}
	res, err := t.caller.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.remoteName,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("mcp call returned nil result")
	}
	segs := convertContent(res)
	if res.IsError {
		msg := joinText(segs)
		if msg == "" {
			msg = "remote tool reported an error"
		}
		return nil, errors.New(msg)
	}
	return segs, nil
}

func convertContent(res *mcp.CallToolResult) []tool.Segment {
	segs := make([]tool.Segment, 0, len(res.Content)+1)
	for _, part := range res.Content {
		if txt, ok := part.(*mcp.TextContent); ok {
			segs = append(segs, tool.Text(txt.Text))
			continue
		}
		segs = append(segs, tool.Data(part))
	}
	if res.StructuredContent != nil {
		segs = append(segs, tool.Data(res.StructuredContent))
	}
	return segs
}

func joinText(segs []tool.Segment) string {
	var parts []string
	for _, s := range segs {
		if s.Kind == tool.SegmentText && s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ServerSpec describes how to reach an MCP server. Exactly one of Command and
// URL is set.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	Timeout time.Duration
}

// Transport builds the client transport for spec.
func (s ServerSpec) Transport() (mcp.Transport, error) {
	switch {
	case s.URL != "" && s.Command != "":
		return nil, fmt.Errorf("mcp server %s: both command and url set", s.Name)
	case s.URL != "":
		return &mcp.StreamableClientTransport{Endpoint: s.URL}, nil
	case s.Command != "":
		cmd := exec.Command(s.Command, s.Args...) // #nosec G204
		if len(s.Env) > 0 {
			cmd.Env = os.Environ()
			keys := make([]string, 0, len(s.Env))
			for k := range s.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Env = append(cmd.Env, k+"="+s.Env[k])
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	default:
		return nil, fmt.Errorf("mcp server %s: command or url required", s.Name)
	}
}

// Client is a connected MCP server.
type Client struct {
	name    string
	session *mcp.ClientSession
}

// Connect dials the server described by spec.
func Connect(ctx context.Context, spec ServerSpec) (*Client, error) {
	transport, err := spec.Transport()
	if err != nil {
		return nil, err
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ConnectTransport(connectCtx, spec.Name, transport)
}

// ConnectTransport connects over an existing transport.
func ConnectTransport(ctx context.Context, name string, transport mcp.Transport) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("mcp server name is empty")
	}
	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", name, err)
	}
	return &Client{name: name, session: session}, nil
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// Tools lists and wraps every tool the server offers.
func (c *Client) Tools(ctx context.Context) ([]*Tool, error) {
	var out []*Tool
	for remote, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list mcp tools of %s: %w", c.name, err)
		}
		t, err := New(c.session, c.name, remote)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Close ends the session.
func (c *Client) Close() error {
	if c == nil || c.session == nil {
		return nil
	}
	return c.session.Close()
}

// Register adds every tool of c to kit with c's name as origin client and
// returns the registered names.
func Register(ctx context.Context, kit *tool.Toolkit, c *Client, opts ...tool.RegisterOption) ([]string, error) {
	tools, err := c.Tools(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		o := append([]tool.RegisterOption{tool.WithOriginClient(c.name)}, opts...)
		if err := kit.Register(t, o...); err != nil {
			return names, err
		}
		names = append(names, t.Name())
	}
	return names, nil
}
