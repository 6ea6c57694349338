// Package gateway assembles a toolkit from configuration and serves it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarlinkco/capkit/internal/config"
	"github.com/stellarlinkco/capkit/internal/cron"
	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/tool"
	"github.com/stellarlinkco/capkit/pkg/tool/mcptool"
	"github.com/stellarlinkco/capkit/pkg/tool/sdktool"
)

// Connector dials an MCP server. Tests replace it with in-memory transports.
type Connector func(ctx context.Context, spec mcptool.ServerSpec) (*mcptool.Client, error)

// Options for creating a Gateway
type Options struct {
	Logger         zerolog.Logger
	TracerProvider trace.TracerProvider
	Connector      Connector
	Observers      []tool.Observer
	SignalChan     chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg     *config.Config
	kit     *tool.Toolkit
	sched   *cron.Scheduler
	log     zerolog.Logger
	connect Connector

	mu      sync.Mutex
	clients map[string]*mcptool.Client

	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(ctx, cfg, Options{Logger: zerolog.Nop()})
}

// NewWithOptions builds the toolkit described by cfg: groups first, then
// builtin and MCP tools, then member patterns, presets and schedules.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	connect := opts.Connector
	if connect == nil {
		connect = mcptool.Connect
	}
	g := &Gateway{
		cfg:        cfg,
		log:        opts.Logger.With().Str("component", "gateway").Logger(),
		connect:    connect,
		clients:    make(map[string]*mcptool.Client),
		signalChan: opts.SignalChan,
	}

	toolOpts, err := executorOptions(cfg.Executor, opts)
	if err != nil {
		return nil, err
	}
	g.kit = tool.New(toolOpts...)
	g.sched = cron.NewScheduler(g.kit, opts.Logger)

	for _, gc := range cfg.Groups {
		if err := g.kit.CreateGroup(gc.Name, gc.Description, gc.IsActive()); err != nil {
			return nil, fmt.Errorf("create group %s: %w", gc.Name, err)
		}
	}
	if err := g.registerBuiltins(); err != nil {
		return nil, err
	}
	for _, sc := range cfg.MCPServers {
		if err := g.connectServer(ctx, sc); err != nil {
			// A missing server must not take the local tools down with it.
			g.log.Error().Err(err).Str("server", sc.Name).Msg("mcp server unavailable")
		}
	}
	g.applyMembers(cfg)
	g.applyPresets(cfg)
	if err := g.sched.Reconcile(windows(cfg)); err != nil {
		g.closeClients()
		return nil, fmt.Errorf("group schedules: %w", err)
	}
	return g, nil
}

func executorOptions(ec config.ExecutorConfig, opts Options) ([]tool.Option, error) {
	out := []tool.Option{
		tool.WithLogger(opts.Logger),
		tool.WithMaxConcurrency(ec.MaxConcurrency),
		tool.WithCallTimeout(ec.CallTimeout),
		tool.WithSequentialDefault(ec.Sequential),
	}
	switch ec.Validator {
	case "", config.DefaultValidator:
	case "strict":
		out = append(out, tool.WithValidator(schema.NewStrictValidator()))
	default:
		return nil, fmt.Errorf("unknown validator %q", ec.Validator)
	}
	if opts.TracerProvider != nil {
		out = append(out, tool.WithTracerProvider(opts.TracerProvider))
	}
	for _, obs := range opts.Observers {
		out = append(out, tool.WithObserver(obs))
	}
	return out, nil
}

type builtinSet struct {
	group string
	tools []*sdktool.Tool
}

func (g *Gateway) registerBuiltins() error {
	var sets []builtinSet
	if g.cfg.Builtins.Files {
		files, err := sdktool.FileTools(g.cfg.Workspace)
		if err != nil {
			return fmt.Errorf("builtin file tools: %w", err)
		}
		sets = append(sets, builtinSet{config.GroupFiles, files})
	}
	if g.cfg.Builtins.Shell {
		shell, err := sdktool.ShellTools(g.cfg.Workspace)
		if err != nil {
			return fmt.Errorf("builtin shell tools: %w", err)
		}
		sets = append(sets, builtinSet{config.GroupShell, shell})
	}
	for _, set := range sets {
		g.ensureGroup(set.group)
		for _, t := range set.tools {
			if err := g.kit.Register(t, tool.WithGroup(set.group)); err != nil {
				return fmt.Errorf("register builtin: %w", err)
			}
		}
	}
	return nil
}

// ensureGroup creates an inactive group when the configuration omits one a
// tool source needs.
func (g *Gateway) ensureGroup(name string) {
	if err := g.kit.CreateGroup(name, "", false); err == nil {
		g.log.Warn().Str("group", name).Msg("group not configured, created inactive")
	}
}

func (g *Gateway) connectServer(ctx context.Context, sc config.MCPServerConfig) error {
	client, err := g.connect(ctx, mcptool.ServerSpec{
		Name:    sc.Name,
		Command: sc.Command,
		Args:    sc.Args,
		Env:     sc.Env,
		URL:     sc.URL,
		Timeout: sc.Timeout,
	})
	if err != nil {
		return err
	}
	group := sc.Group
	if group == "" {
		group = sc.Name
	}
	g.ensureGroup(group)
	names, err := mcptool.Register(ctx, g.kit, client, tool.WithGroup(group))
	if err != nil {
		g.kit.RemoveByOrigin(sc.Name)
		_ = client.Close()
		return err
	}
	g.mu.Lock()
	g.clients[sc.Name] = client
	g.mu.Unlock()
	g.log.Info().Str("server", sc.Name).Str("group", group).Strs("tools", names).Msg("mcp server connected")
	return nil
}

// applyMembers adds every registered tool matching a group's member patterns.
func (g *Gateway) applyMembers(cfg *config.Config) {
	names := g.kit.ToolNames()
	for _, gc := range cfg.Groups {
		for _, pattern := range gc.Members {
			if !doublestar.ValidatePattern(pattern) {
				g.log.Warn().Str("group", gc.Name).Str("pattern", pattern).Msg("invalid member pattern")
				continue
			}
			matched := 0
			for _, name := range names {
				if ok, _ := doublestar.Match(pattern, name); ok {
					g.kit.AddToGroup(gc.Name, name)
					matched++
				}
			}
			if matched == 0 {
				g.log.Debug().Str("group", gc.Name).Str("pattern", pattern).Msg("member pattern matched no tools")
			}
		}
	}
}

func (g *Gateway) applyPresets(cfg *config.Config) {
	for name, params := range cfg.Presets {
		if err := g.kit.UpdatePresets(name, params); err != nil {
			g.log.Warn().Err(err).Str("tool", name).Msg("presets not applied")
		}
	}
}

func windows(cfg *config.Config) []cron.Window {
	var out []cron.Window
	for _, gc := range cfg.Groups {
		if gc.Schedule.IsZero() {
			continue
		}
		out = append(out, cron.Window{
			Group:      gc.Name,
			Activate:   gc.Schedule.Activate,
			Deactivate: gc.Schedule.Deactivate,
		})
	}
	return out
}

// Toolkit returns the assembled toolkit.
func (g *Gateway) Toolkit() *tool.Toolkit { return g.kit }

// Scheduler returns the group schedule runner.
func (g *Gateway) Scheduler() *cron.Scheduler { return g.sched }

// Reload re-applies groups, member patterns, presets and schedules from cfg.
// Executor settings, builtins and MCP servers only change on restart.
func (g *Gateway) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("reload: nil config")
	}
	if err := g.sched.Reconcile(windows(cfg)); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if cfg.Executor != g.cfg.Executor {
		g.log.Warn().Msg("executor settings changed, restart to apply")
	}

	known := make(map[string]struct{})
	for _, grp := range g.kit.Groups() {
		known[grp.Name] = struct{}{}
	}
	for _, gc := range cfg.Groups {
		if _, ok := known[gc.Name]; !ok {
			if err := g.kit.CreateGroup(gc.Name, gc.Description, gc.IsActive()); err != nil {
				return fmt.Errorf("reload: create group %s: %w", gc.Name, err)
			}
			continue
		}
		if gc.Schedule.IsZero() {
			if err := g.kit.SetGroupsActive([]string{gc.Name}, gc.IsActive()); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
		}
	}
	g.applyMembers(cfg)
	g.applyPresets(cfg)
	g.cfg = cfg
	g.log.Info().Strs("active", g.kit.ActiveGroupNames()).Msg("configuration reloaded")
	return nil
}

// Disconnect drops an MCP server and every tool it contributed.
func (g *Gateway) Disconnect(server string) []string {
	g.mu.Lock()
	client, ok := g.clients[server]
	delete(g.clients, server)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	removed := g.kit.RemoveByOrigin(server)
	if err := client.Close(); err != nil {
		g.log.Warn().Err(err).Str("server", server).Msg("close mcp session")
	}
	g.log.Info().Str("server", server).Strs("tools", removed).Msg("mcp server disconnected")
	return removed
}

// Run starts the schedules and blocks until a signal arrives or ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.sched.Start(ctx)
	g.log.Info().Strs("tools", g.kit.ToolNames()).Strs("active", g.kit.ActiveGroupNames()).Msg("gateway running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.log.Info().Msg("shutting down")
	return g.Shutdown()
}

// Shutdown stops schedules and closes MCP sessions.
func (g *Gateway) Shutdown() error {
	g.sched.Stop()
	g.closeClients()
	g.log.Info().Msg("shutdown complete")
	return nil
}

func (g *Gateway) closeClients() {
	g.mu.Lock()
	clients := g.clients
	g.clients = make(map[string]*mcptool.Client)
	g.mu.Unlock()
	for name, c := range clients {
		if err := c.Close(); err != nil {
			g.log.Warn().Err(err).Str("server", name).Msg("close mcp session")
		}
	}
}
