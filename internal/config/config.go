// Package config loads the engine's configuration (spec §6.5): recursion
// and per-node timeout limits, LLM provider wiring, the tool server
// manifest, and checkpoint persistence, plus the ambient sections every
// component needs (logging, observability, session/approval policy).
//
// Grounded on the teacher's internal/config/config.go: a single nested
// yaml-tagged struct, env overrides applied after parse, defaults filled
// in afterward, then validated as a batch with every issue collected
// rather than failing on the first.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgeflow/conductor/internal/toolbus"
	"github.com/forgeflow/conductor/internal/wfstate"
)

// Config is the engine's top-level configuration document.
type Config struct {
	Engine        EngineConfig           `yaml:"engine"`
	LLMProvider   LLMProviderConfig      `yaml:"llm_provider"`
	ToolServers   []toolbus.ServerConfig `yaml:"tool_server_manifest"`
	Checkpoint    CheckpointConfig       `yaml:"checkpoint"`
	Logging       LoggingConfig          `yaml:"logging"`
	Observability ObservabilityConfig    `yaml:"observability"`
	Session       SessionConfig          `yaml:"session"`
	Approval      ApprovalConfig         `yaml:"approval"`
	Memory        MemoryConfig           `yaml:"memory"`
}

// EngineConfig holds the graph's recursion and timeout knobs (spec §6.5).
type EngineConfig struct {
	RecursionLimit       int                   `yaml:"recursion_limit"`
	DefaultNodeTimeoutMS int                   `yaml:"default_node_timeout_ms"`
	NodeTimeoutMSByAgent map[wfstate.Agent]int `yaml:"node_timeout_ms"`
}

// NodeTimeouts converts the millisecond-denominated config values into the
// time.Duration map internal/workflow.WithNodeTimeouts expects.
func (e EngineConfig) NodeTimeouts() (time.Duration, map[wfstate.Agent]time.Duration) {
	def := time.Duration(e.DefaultNodeTimeoutMS) * time.Millisecond
	overrides := make(map[wfstate.Agent]time.Duration, len(e.NodeTimeoutMSByAgent))
	for agent, ms := range e.NodeTimeoutMSByAgent {
		overrides[agent] = time.Duration(ms) * time.Millisecond
	}
	return def, overrides
}

// LLMProviderConfig resolves which concrete provider backs each agent
// (spec §6.5 `llm_provider.default`, `llm_provider.per_agent`).
type LLMProviderConfig struct {
	Default  string                           `yaml:"default"`
	PerAgent map[wfstate.Agent]string         `yaml:"per_agent"`
	Accounts map[string]ProviderAccountConfig `yaml:"accounts"`
}

// ProviderAccountConfig is one named backend (e.g. "anthropic", "openai",
// or a second account of either) internal/providers' constructors consume.
type ProviderAccountConfig struct {
	Kind         string `yaml:"kind"` // "anthropic" | "openai"
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// ForAgent resolves the account name to use for one agent, falling back
// to Default when no per-agent override is set.
func (c LLMProviderConfig) ForAgent(agent wfstate.Agent) string {
	if name, ok := c.PerAgent[agent]; ok && name != "" {
		return name
	}
	return c.Default
}

// CheckpointConfig controls workflow checkpoint persistence (spec §6.5).
type CheckpointConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Directory   string        `yaml:"directory"`
	GCInterval  time.Duration `yaml:"gc_interval"`
	GCRetention time.Duration `yaml:"gc_retention"`
}

// LoggingConfig controls the observability.Logger wrapper.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// ObservabilityConfig controls metrics and tracing export.
type ObservabilityConfig struct {
	MetricsAddr    string  `yaml:"metrics_addr"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	TracingOTLPURL string  `yaml:"tracing_otlp_url"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

// SessionConfig controls the Session Controller's workspace handling and
// the control-plane listener that exposes it (spec §4.7, §6.4).
type SessionConfig struct {
	WorkspaceWriteProbe bool   `yaml:"workspace_write_probe"`
	ListenAddr          string `yaml:"listen_addr"`
}

// ApprovalConfig controls the HITL approval broker.
type ApprovalConfig struct {
	Secret         string        `yaml:"secret"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// MemoryConfig selects and configures the persistent memory backend.
type MemoryConfig struct {
	Backend    string `yaml:"backend"` // "postgres" | "sqlite" | "none"
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Load reads, parses, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.RecursionLimit == 0 {
		cfg.Engine.RecursionLimit = 20
	}
	if cfg.LLMProvider.Default == "" {
		cfg.LLMProvider.Default = "anthropic"
	}
	if cfg.Checkpoint.Enabled {
		if cfg.Checkpoint.Directory == "" {
			cfg.Checkpoint.Directory = "./checkpoints"
		}
		if cfg.Checkpoint.GCInterval == 0 {
			cfg.Checkpoint.GCInterval = time.Hour
		}
		if cfg.Checkpoint.GCRetention == 0 {
			cfg.Checkpoint.GCRetention = 7 * 24 * time.Hour
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.SampleRatio == 0 {
		cfg.Observability.SampleRatio = 1.0
	}
	if cfg.Approval.DefaultTimeout == 0 {
		cfg.Approval.DefaultTimeout = 5 * time.Minute
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "none"
	}
	if cfg.Session.ListenAddr == "" {
		cfg.Session.ListenAddr = ":8088"
	}
	for i := range cfg.ToolServers {
		if cfg.ToolServers[i].BootTimeout == 0 {
			cfg.ToolServers[i].BootTimeout = 10 * time.Second
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_RECURSION_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.RecursionLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_LLM_PROVIDER_DEFAULT")); v != "" {
		cfg.LLMProvider.Default = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_CHECKPOINT_DIR")); v != "" {
		cfg.Checkpoint.Directory = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_APPROVAL_SECRET")); v != "" {
		cfg.Approval.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_MEMORY_DSN")); v != "" {
		cfg.Memory.DSN = v
	}
}

// ValidationError collects every issue found, per the teacher's
// batch-validate style: a config with three problems reports all three
// in one failure rather than forcing three edit-reload cycles.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Engine.RecursionLimit <= 0 {
		issues = append(issues, "engine.recursion_limit must be > 0")
	}
	if cfg.Engine.DefaultNodeTimeoutMS < 0 {
		issues = append(issues, "engine.default_node_timeout_ms must be >= 0")
	}

	seen := make(map[string]bool, len(cfg.ToolServers))
	for i, srv := range cfg.ToolServers {
		if strings.TrimSpace(srv.Name) == "" {
			issues = append(issues, fmt.Sprintf("tool_server_manifest[%d].name is required", i))
			continue
		}
		if seen[srv.Name] {
			issues = append(issues, fmt.Sprintf("tool_server_manifest[%d].name %q is duplicated", i, srv.Name))
		}
		seen[srv.Name] = true
		if strings.TrimSpace(srv.Command) == "" {
			issues = append(issues, fmt.Sprintf("tool_server_manifest[%d].command is required", i))
		}
	}

	if cfg.Checkpoint.Enabled && strings.TrimSpace(cfg.Checkpoint.Directory) == "" {
		issues = append(issues, "checkpoint.directory is required when checkpoint.enabled is true")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Memory.Backend)) {
	case "none":
	case "postgres":
		if strings.TrimSpace(cfg.Memory.DSN) == "" {
			issues = append(issues, "memory.dsn is required when memory.backend is \"postgres\"")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Memory.SQLitePath) == "" {
			issues = append(issues, "memory.sqlite_path is required when memory.backend is \"sqlite\"")
		}
	default:
		issues = append(issues, "memory.backend must be \"postgres\", \"sqlite\", or \"none\"")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
