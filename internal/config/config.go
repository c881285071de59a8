package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration values rejected at setup time.
var ErrInvalidConfig = errors.New("invalid configuration")

// Inspector modes accepted by InspectorConfig.Mode.
const (
	InspectorModeBestEffort = "best-effort"
	InspectorModeRequired   = "required"
	InspectorModeOff        = "off"
)

const (
	MinStackFrames     = 1
	MaxStackFrames     = 64
	DefaultStackFrames = 8
)

// Config captures all tunable settings for the grabctx server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	MCP       MCPConfig       `yaml:"mcp"`
	Inspector InspectorConfig `yaml:"inspector"`
	Selection SelectionConfig `yaml:"selection"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Mangle    MangleConfig    `yaml:"mangle"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless defaults to false: selection needs a visible window.
	Headless *bool `yaml:"headless"`
	// StartURL is opened in a fresh tab when the browser starts.
	StartURL string `yaml:"start_url"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Timeout applied to each page evaluation issued by the bridge.
	EvalTimeout string `yaml:"eval_timeout"`
}

type MCPConfig struct {
	// When set, serves MCP over SSE on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// InspectorConfig controls component-tree extraction.
type InspectorConfig struct {
	Mode      string `yaml:"react_inspector_mode"`
	MaxFrames int    `yaml:"max_react_stack_frames"`
}

// SelectionConfig controls the interactive selection session.
type SelectionConfig struct {
	Hotkey Hotkey `yaml:"hotkey"`
	// Concurrency bounds in-flight element inspections during finalize.
	Concurrency int `yaml:"concurrency"`
	// FrameInterval is the coalescing window for pointer and viewport events.
	FrameInterval string `yaml:"frame_interval"`
}

// Hotkey holds the global toggle combination. A YAML `false` disables it.
type Hotkey struct {
	Disabled bool
	Combo    string
}

// UnmarshalYAML accepts either a combination string or a boolean.
func (h *Hotkey) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: selection.hotkey must be a string or false", ErrInvalidConfig)
	}
	if node.Tag == "!!bool" {
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return err
		}
		if enabled {
			return fmt.Errorf("%w: selection.hotkey: true is not a key combination", ErrInvalidConfig)
		}
		*h = Hotkey{Disabled: true}
		return nil
	}
	*h = Hotkey{Combo: strings.TrimSpace(node.Value)}
	return nil
}

// MarshalYAML mirrors UnmarshalYAML.
func (h Hotkey) MarshalYAML() (interface{}, error) {
	if h.Disabled {
		return false, nil
	}
	return h.Combo, nil
}

// SinksConfig enables the delivery targets for rendered sessions.
type SinksConfig struct {
	Clipboard   bool              `yaml:"clipboard"`
	Console     bool              `yaml:"console"`
	File        string            `yaml:"file"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	// HistorySize bounds the in-memory history served over MCP.
	HistorySize int `yaml:"history_size"`
}

type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// ObjectStoreConfig uploads each rendered session to S3-compatible storage.
type ObjectStoreConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MangleConfig controls the embedded selection fact store.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// SchemaPath replaces the bundled selection schema when set.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL session trace.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "grabctx-mcp",
			Version: "0.1.0",
			LogFile: "grabctx-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			StartURL:                 "about:blank",
			DefaultNavigationTimeout: "15s",
			EvalTimeout:              "5s",
		},
		Inspector: InspectorConfig{
			Mode:      InspectorModeBestEffort,
			MaxFrames: DefaultStackFrames,
		},
		Selection: SelectionConfig{
			Hotkey:        Hotkey{Combo: "Alt+Shift+G"},
			Concurrency:   4,
			FrameInterval: "16ms",
		},
		Sinks: SinksConfig{
			Console:     true,
			HistorySize: 32,
			WebSocket: WebSocketConfig{
				Addr: ":7331",
				Path: "/bundles",
			},
			ObjectStore: ObjectStoreConfig{
				Region: "us-east-1",
				Prefix: "grabctx/",
			},
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Recorder: RecorderConfig{
			Enable: false,
			Dir:    "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// LoadWithEnv loads an optional .env file, then the YAML config, then
// applies GRABCTX_* environment overrides before validating.
func LoadWithEnv(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg, os.Getenv)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("GRABCTX_DEBUGGER_URL"); v != "" {
		cfg.Browser.DebuggerURL = v
	}
	if v := getenv("GRABCTX_START_URL"); v != "" {
		cfg.Browser.StartURL = v
	}
	if v := getenv("GRABCTX_INSPECTOR_MODE"); v != "" {
		cfg.Inspector.Mode = v
	}
	if v := getenv("GRABCTX_MAX_STACK_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inspector.MaxFrames = n
		} else {
			// Keep the bad value visible to Validate instead of silently ignoring it.
			cfg.Inspector.MaxFrames = -1
		}
	}
	if v := getenv("GRABCTX_HOTKEY"); v != "" {
		if strings.EqualFold(v, "false") || strings.EqualFold(v, "off") {
			cfg.Selection.Hotkey = Hotkey{Disabled: true}
		} else {
			cfg.Selection.Hotkey = Hotkey{Combo: v}
		}
	}
	if v := getenv("GRABCTX_S3_ACCESS_KEY"); v != "" {
		cfg.Sinks.ObjectStore.AccessKey = v
	}
	if v := getenv("GRABCTX_S3_SECRET_KEY"); v != "" {
		cfg.Sinks.ObjectStore.SecretKey = v
	}
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if err := c.Inspector.Validate(); err != nil {
		return err
	}
	if c.Selection.Concurrency < 0 {
		return fmt.Errorf("%w: selection.concurrency must not be negative", ErrInvalidConfig)
	}
	if !c.Selection.Hotkey.Disabled && c.Selection.Hotkey.Combo == "" {
		return fmt.Errorf("%w: selection.hotkey is empty (use false to disable)", ErrInvalidConfig)
	}
	if store := c.Sinks.ObjectStore; store.Enabled && (store.Endpoint == "" || store.Bucket == "") {
		return fmt.Errorf("%w: sinks.object_store needs endpoint and bucket", ErrInvalidConfig)
	}
	return nil
}

// Validate rejects unknown modes and frame counts outside [1, 64].
func (i InspectorConfig) Validate() error {
	switch i.Mode {
	case InspectorModeBestEffort, InspectorModeRequired, InspectorModeOff:
	default:
		return fmt.Errorf("%w: inspector.react_inspector_mode %q (want best-effort, required or off)", ErrInvalidConfig, i.Mode)
	}
	if i.MaxFrames < MinStackFrames || i.MaxFrames > MaxStackFrames {
		return fmt.Errorf("%w: inspector.max_react_stack_frames %d outside [%d, %d]", ErrInvalidConfig, i.MaxFrames, MinStackFrames, MaxStackFrames)
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// EvaluationTimeout returns the per-evaluation timeout with a sane default.
func (b BrowserConfig) EvaluationTimeout() time.Duration {
	return parseDuration(b.EvalTimeout, 5*time.Second)
}

// IsHeadless returns whether Chrome should run headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// FrameDuration returns the coalescing window with a 16ms default.
func (s SelectionConfig) FrameDuration() time.Duration {
	return parseDuration(s.FrameInterval, 16*time.Millisecond)
}

// Workers returns the inspection concurrency with a default of 4.
func (s SelectionConfig) Workers() int {
	if s.Concurrency <= 0 {
		return 4
	}
	return s.Concurrency
}

// GetHistorySize returns the history capacity with a default of 32.
func (s SinksConfig) GetHistorySize() int {
	if s.HistorySize <= 0 {
		return 32
	}
	return s.HistorySize
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
