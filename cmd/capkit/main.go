package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/capkit/internal/config"
	"github.com/stellarlinkco/capkit/internal/gateway"
	"github.com/stellarlinkco/capkit/internal/logging"
	"github.com/stellarlinkco/capkit/internal/telemetry"
	"github.com/stellarlinkco/capkit/pkg/advertise"
	"github.com/stellarlinkco/capkit/pkg/tool"
)

// GatewayFactory builds the gateway a command works against (allows injection in tests)
type GatewayFactory func(ctx context.Context, cfg *config.Config, opts gateway.Options) (*gateway.Gateway, error)

// CLIOptions carries injectable dependencies for the commands.
type CLIOptions struct {
	GatewayFactory GatewayFactory
	Stdin          io.Reader
}

type cli struct {
	opts       CLIOptions
	configPath string
	verbose    bool
}

func newRootCmd(opts CLIOptions) *cobra.Command {
	if opts.GatewayFactory == nil {
		opts.GatewayFactory = gateway.NewWithOptions
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:           "capkit",
		Short:         "capkit - grouped tool runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default ~/.capkit/config.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log every tool call to stderr")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the workspace",
		RunE:  c.runInit,
	}
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE:  c.runTools,
	}
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "List tool groups",
		RunE:  c.runGroups,
	}
	groupsCmd.Flags().Bool("notice", false, "print the activated groups notice instead of a table")

	schemaCmd := &cobra.Command{
		Use:   "schema [tool...]",
		Short: "Print advertised tool definitions",
		RunE:  c.runSchema,
	}
	schemaCmd.Flags().String("format", "raw", "output format: raw, anthropic or openai")

	invokeCmd := &cobra.Command{
		Use:   "invoke [batch-json]",
		Short: "Run one batch of tool calls",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.runInvoke,
	}
	invokeCmd.Flags().StringP("file", "f", "", "read the batch from a file ('-' for stdin)")
	invokeCmd.Flags().Bool("sequential", false, "run calls one at a time in order")
	invokeCmd.Flags().Bool("parallel", false, "run calls concurrently")
	invokeCmd.MarkFlagsMutuallyExclusive("sequential", "parallel")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-line batches on stdin/stdout with schedules and config reload",
		RunE:  c.runServe,
	}

	root.AddCommand(initCmd, toolsCmd, groupsCmd, schemaCmd, invokeCmd, serveCmd)
	return root
}

func main() {
	if err := newRootCmd(CLIOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) path() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.ConfigPath()
}

// env is everything a command needs; close releases it.
type env struct {
	cfg    *config.Config
	gw     *gateway.Gateway
	log    zerolog.Logger
	tracer *telemetry.Provider
}

func (e *env) close() {
	_ = e.gw.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tracer.Shutdown(ctx); err != nil {
		e.log.Warn().Err(err).Msg("flush traces")
	}
}

func (c *cli) open(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(c.path())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
	tp, err := telemetry.Setup(cmd.Context(), cfg.Tracing)
	if err != nil {
		return nil, err
	}
	opts := gateway.Options{Logger: log, TracerProvider: tp}
	if c.verbose {
		opts.Observers = append(opts.Observers, verboseObserver(cmd.ErrOrStderr()))
	}
	gw, err := c.opts.GatewayFactory(cmd.Context(), cfg, opts)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return &env{cfg: cfg, gw: gw, log: log, tracer: tp}, nil
}

func verboseObserver(w io.Writer) tool.Observer {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, args...)
	}
	return tool.ObserverFuncs{
		Start: func(req tool.Request) {
			printf("→ %s %s\n", req.ID, req.Name)
		},
		Finish: func(res tool.Result, elapsed time.Duration) {
			status := "ok"
			if res.IsError {
				status = "error"
			}
			printf("← %s %s %s (%s)\n", res.ID, res.Name, status, elapsed.Round(time.Millisecond))
		},
	}
}

func (c *cli) runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := c.path()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", path)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Fprintf(out, "Workspace ready: %s\n", cfg.Workspace)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to add groups, presets and MCP servers\n", path)
	fmt.Fprintln(out, "  2. Run 'capkit tools' to see what is registered")
	return nil
}

func (c *cli) runTools(cmd *cobra.Command, args []string) error {
	e, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	kit := e.gw.Toolkit()

	memberOf := groupsByTool(kit.Groups())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCALLABLE\tGROUPS\tORIGIN")
	for _, name := range kit.ToolNames() {
		entry, _ := kit.Lookup(name)
		origin := entry.Registration.OriginClient
		if origin == "" {
			origin = "-"
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", name, kit.IsCallable(name), strings.Join(memberOf[name], ","), origin)
	}
	return w.Flush()
}

func groupsByTool(groups []tool.Group) map[string][]string {
	out := make(map[string][]string)
	for _, g := range groups {
		for _, m := range g.Members {
			out[m] = append(out[m], g.Name)
		}
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func (c *cli) runGroups(cmd *cobra.Command, args []string) error {
	e, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	kit := e.gw.Toolkit()
	out := cmd.OutOrStdout()

	if notice, _ := cmd.Flags().GetBool("notice"); notice {
		fmt.Fprintln(out, kit.ActivatedGroupsNotice())
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tACTIVE\tTOOLS\tDESCRIPTION")
	for _, g := range kit.Groups() {
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", g.Name, g.Active, strings.Join(g.Members, ","), g.Description)
	}
	return w.Flush()
}

func (c *cli) runSchema(cmd *cobra.Command, args []string) error {
	e, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	kit := e.gw.Toolkit()

	defs := kit.Definitions()
	if len(args) > 0 {
		defs = defs[:0:0]
		for _, name := range args {
			s, err := kit.ComposedSchema(name)
			if err != nil {
				return err
			}
			entry, _ := kit.Lookup(name)
			defs = append(defs, tool.Definition{Name: name, Description: entry.Tool.Description(), Parameters: s})
		}
	}

	format, _ := cmd.Flags().GetString("format")
	var v any
	switch format {
	case "raw", "":
		v = defs
	case "anthropic":
		tools, err := advertise.Anthropic(defs)
		if err != nil {
			return err
		}
		v = tools
	case "openai":
		v = advertise.OpenAI(defs)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return writeJSON(cmd.OutOrStdout(), v)
}

func (c *cli) runInvoke(cmd *cobra.Command, args []string) error {
	data, err := c.readBatch(cmd, args)
	if err != nil {
		return err
	}
	batch, err := gateway.ParseBatch(data)
	if err != nil {
		return err
	}
	if seq, _ := cmd.Flags().GetBool("sequential"); seq {
		batch.Sequential = &seq
	}
	if par, _ := cmd.Flags().GetBool("parallel"); par {
		off := false
		batch.Sequential = &off
	}

	e, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	return writeJSON(cmd.OutOrStdout(), e.gw.Execute(cmd.Context(), batch))
}

func (c *cli) readBatch(cmd *cobra.Command, args []string) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case len(args) == 1 && file != "":
		return nil, fmt.Errorf("pass the batch as an argument or with --file, not both")
	case len(args) == 1:
		return []byte(args[0]), nil
	case file == "" || file == "-":
		return io.ReadAll(c.opts.Stdin)
	default:
		return os.ReadFile(file)
	}
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	e.gw.Scheduler().Start(ctx)
	if err := config.Watch(c.path(), func(cfg *config.Config, err error) {
		if err != nil {
			e.log.Error().Err(err).Msg("config reload failed")
			return
		}
		if err := e.gw.Reload(cfg); err != nil {
			e.log.Error().Err(err).Msg("config reload failed")
		}
	}); err != nil {
		e.log.Warn().Err(err).Msg("config watch disabled")
	}

	e.log.Info().Strs("tools", e.gw.Toolkit().ToolNames()).Msg("serving batches on stdin")
	return e.gw.Serve(ctx, c.opts.Stdin, cmd.OutOrStdout())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
