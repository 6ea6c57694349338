package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultValidator      = "default"
	DefaultServiceName    = "capkit"
	DefaultSampleRate     = 1.0
	DefaultMCPTimeout     = 10 * time.Second
	DefaultMaxConcurrency = 0

	GroupFiles = "fs"
	GroupShell = "shell"

	envPrefix = "CAPKIT"
)

type Config struct {
	Workspace  string                    `yaml:"workspace"`
	Log        LogConfig                 `yaml:"log"`
	Executor   ExecutorConfig            `yaml:"executor"`
	Tracing    TracingConfig             `yaml:"tracing"`
	Builtins   BuiltinsConfig            `yaml:"builtins"`
	Groups     []GroupConfig             `yaml:"groups,omitempty"`
	Presets    map[string]map[string]any `yaml:"presets,omitempty"`
	MCPServers []MCPServerConfig         `yaml:"mcp_servers,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" (default) or "json"
}

type ExecutorConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	Sequential     bool          `yaml:"sequential"`
	CallTimeout    time.Duration `yaml:"call_timeout,omitempty"`
	Validator      string        `yaml:"validator"` // "default" or "strict"
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Insecure    bool    `yaml:"insecure,omitempty"`
	ServiceName string  `yaml:"service_name,omitempty"`
	SampleRate  float64 `yaml:"sample_rate,omitempty"`
}

// BuiltinsConfig toggles the agentsdk builtin tools. File tools join the
// "fs" group and the shell tool joins the "shell" group.
type BuiltinsConfig struct {
	Files bool `yaml:"files"`
	Shell bool `yaml:"shell"`
}

type GroupConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
	// Members are doublestar patterns matched against registered tool names.
	Members  []string       `yaml:"members,omitempty"`
	Schedule ScheduleConfig `yaml:"schedule,omitempty"`
}

// IsActive reports the configured initial state; groups are active unless
// stated otherwise.
func (g GroupConfig) IsActive() bool {
	return g.Active == nil || *g.Active
}

// ScheduleConfig holds cron specs that flip a group on and off.
type ScheduleConfig struct {
	Activate   string `yaml:"activate,omitempty"`
	Deactivate string `yaml:"deactivate,omitempty"`
}

func (s ScheduleConfig) IsZero() bool {
	return s.Activate == "" && s.Deactivate == ""
}

type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Group   string            `yaml:"group,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: filepath.Join(ConfigDir(), "workspace"),
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Executor: ExecutorConfig{
			MaxConcurrency: DefaultMaxConcurrency,
			Validator:      DefaultValidator,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
			SampleRate:  DefaultSampleRate,
		},
		Builtins: BuiltinsConfig{Files: true},
		Groups: []GroupConfig{
			{Name: GroupFiles, Description: "Read, search and list files in the workspace."},
			{Name: GroupShell, Description: "Run shell commands in the workspace.", Active: boolPtr(false)},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".capkit")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the manifest at path, or the defaults when the file does not
// exist, and applies CAPKIT_* environment overrides.
//
// The file is decoded with yaml.v3 directly because viper folds map keys to
// lower case and tool names in presets are case sensitive; viper only
// resolves the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnv(newViper(path), cfg); err != nil {
		return nil, err
	}
	cfg.Workspace = expandPath(cfg.Workspace)
	if cfg.Workspace == "" {
		cfg.Workspace = DefaultConfig().Workspace
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Executor.Validator == "" {
		cfg.Executor.Validator = DefaultValidator
	}
	if cfg.Tracing.SampleRate <= 0 {
		cfg.Tracing.SampleRate = DefaultSampleRate
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// envKeys lists the scalar settings that may be overridden from the
// environment, e.g. CAPKIT_EXECUTOR_MAX_CONCURRENCY.
var envKeys = []string{
	"workspace",
	"log.level",
	"log.format",
	"executor.max_concurrency",
	"executor.sequential",
	"executor.call_timeout",
	"executor.validator",
	"tracing.enabled",
	"tracing.endpoint",
	"tracing.insecure",
	"tracing.service_name",
	"tracing.sample_rate",
	"builtins.files",
	"builtins.shell",
}

func applyEnv(v *viper.Viper, cfg *Config) error {
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
		if !v.IsSet(key) {
			continue
		}
		switch key {
		case "workspace":
			cfg.Workspace = v.GetString(key)
		case "log.level":
			cfg.Log.Level = v.GetString(key)
		case "log.format":
			cfg.Log.Format = v.GetString(key)
		case "executor.max_concurrency":
			cfg.Executor.MaxConcurrency = v.GetInt(key)
		case "executor.sequential":
			cfg.Executor.Sequential = v.GetBool(key)
		case "executor.call_timeout":
			cfg.Executor.CallTimeout = v.GetDuration(key)
		case "executor.validator":
			cfg.Executor.Validator = v.GetString(key)
		case "tracing.enabled":
			cfg.Tracing.Enabled = v.GetBool(key)
		case "tracing.endpoint":
			cfg.Tracing.Endpoint = v.GetString(key)
		case "tracing.insecure":
			cfg.Tracing.Insecure = v.GetBool(key)
		case "tracing.service_name":
			cfg.Tracing.ServiceName = v.GetString(key)
		case "tracing.sample_rate":
			cfg.Tracing.SampleRate = v.GetFloat64(key)
		case "builtins.files":
			cfg.Builtins.Files = v.GetBool(key)
		case "builtins.shell":
			cfg.Builtins.Shell = v.GetBool(key)
		}
	}
	return nil
}

// Validate reports the first structural problem in cfg.
func (c *Config) Validate() error {
	switch c.Executor.Validator {
	case "", "default", "strict":
	default:
		return fmt.Errorf("executor.validator: unknown validator %q", c.Executor.Validator)
	}
	if c.Executor.MaxConcurrency < 0 {
		return errors.New("executor.max_concurrency must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Groups))
	for i, g := range c.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("groups[%d]: name is empty", i)
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("groups[%d]: duplicate group %q", i, g.Name)
		}
		seen[g.Name] = struct{}{}
	}
	servers := make(map[string]struct{}, len(c.MCPServers))
	for i, s := range c.MCPServers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("mcp_servers[%d]: name is empty", i)
		}
		if _, dup := servers[s.Name]; dup {
			return fmt.Errorf("mcp_servers[%d]: duplicate server %q", i, s.Name)
		}
		servers[s.Name] = struct{}{}
		if (s.Command == "") == (s.URL == "") {
			return fmt.Errorf("mcp_servers[%d]: exactly one of command and url is required", i)
		}
	}
	return nil
}

// Group returns the group configuration named name.
func (c *Config) Group(name string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupConfig{}, false
}

func Save(path string, cfg *Config) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Watch calls onChange with the reloaded configuration whenever the file at
// path is written. The watcher lives for the rest of the process.
func Watch(path string, onChange func(*Config, error)) error {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Load(path))
	})
	v.WatchConfig()
	return nil
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

func boolPtr(b bool) *bool { return &b }
