package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent" json:"agent"`
	Providers  ProvidersConfig  `mapstructure:"providers" json:"providers"`
	Safety     SafetyConfig     `mapstructure:"safety" json:"safety"`
	Consent    ConsentConfig    `mapstructure:"consent" json:"consent"`
	Policy     PolicyConfig     `mapstructure:"policy" json:"policy"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" json:"supervisor"`
	Tools      ToolsConfig      `mapstructure:"tools" json:"tools"`
	Subtask    SubtaskConfig    `mapstructure:"subtask" json:"subtask"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
}

// AgentConfig model and workspace parameters
type AgentConfig struct {
	Workspace     string  `mapstructure:"workspace" json:"workspace"`
	WorkspaceMode string  `mapstructure:"workspace_mode" json:"workspace_mode"`
	Model         string  `mapstructure:"model" json:"model"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature" json:"temperature"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenRouter ProviderConfig `mapstructure:"openrouter" json:"openrouter"`
	Claude     ProviderConfig `mapstructure:"claude" json:"claude"`
	OpenAI     ProviderConfig `mapstructure:"openai" json:"openai"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek" json:"deepseek"`
	Ollama     ProviderConfig `mapstructure:"ollama" json:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// SafetyConfig safety filter settings
type SafetyConfig struct {
	Mode           string `mapstructure:"mode" json:"mode"`
	PatternsFile   string `mapstructure:"patterns_file" json:"patterns_file"`
	Advisor        string `mapstructure:"advisor" json:"advisor"`
	AdvisorModel   string `mapstructure:"advisor_model" json:"advisor_model"`
	MaxEscalations int    `mapstructure:"max_escalations" json:"max_escalations"`
}

// ConsentConfig policy engine settings
type ConsentConfig struct {
	Level               string   `mapstructure:"level" json:"level"`
	MemoryWindowSeconds int      `mapstructure:"memory_window_seconds" json:"memory_window_seconds"`
	RulesFile           string   `mapstructure:"rules_file" json:"rules_file"`
	Presets             []string `mapstructure:"presets" json:"presets"`
	WatchRules          bool     `mapstructure:"watch_rules" json:"watch_rules"`
}

// PolicyConfig tool policy settings. Entries are tool ids or "server:*".
type PolicyConfig struct {
	Mode            string   `mapstructure:"mode" json:"mode"`
	Allow           []string `mapstructure:"allow" json:"allow"`
	Deny            []string `mapstructure:"deny" json:"deny"`
	RequireApproval []string `mapstructure:"require_approval" json:"require_approval"`
}

// SupervisorConfig execution supervisor settings
type SupervisorConfig struct {
	MaxTurns               int    `mapstructure:"max_turns" json:"max_turns"`
	MaxRetries             int    `mapstructure:"max_retries" json:"max_retries"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures" json:"max_consecutive_failures"`
	RetryBackoffMs         int    `mapstructure:"retry_backoff_ms" json:"retry_backoff_ms"`
	TaskTimeoutSeconds     int    `mapstructure:"task_timeout_seconds" json:"task_timeout_seconds"`
	ResultLog              string `mapstructure:"result_log" json:"result_log"`
}

// ToolsConfig tool settings
type ToolsConfig struct {
	Exec ExecToolConfig `mapstructure:"exec" json:"exec"`
}

// ExecToolConfig shell exec settings
type ExecToolConfig struct {
	Timeout             int  `mapstructure:"timeout" json:"timeout"`
	RestrictToWorkspace bool `mapstructure:"restrict_to_workspace" json:"restrict_to_workspace"`
}

// SubtaskConfig scoped sub-task settings
type SubtaskConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	MaxConcurrency int      `mapstructure:"max_concurrency" json:"max_concurrency"`
	AllowTools     []string `mapstructure:"allow_tools" json:"allow_tools"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return &Config{
		Agent: AgentConfig{
			Workspace:     filepath.Join(homeDir, ".warden", "workspace"),
			WorkspaceMode: "default",
			Model:         "anthropic/claude-sonnet-4-5",
			MaxTokens:     4096,
			Temperature:   0.2,
		},
		Safety: SafetyConfig{
			Mode:           "normal",
			Advisor:        "rules",
			MaxEscalations: 10,
		},
		Consent: ConsentConfig{
			Level:               "normal",
			MemoryWindowSeconds: 300,
			Presets:             []string{},
			WatchRules:          true,
		},
		Policy: PolicyConfig{
			Mode:            "relaxed",
			Allow:           []string{},
			Deny:            []string{},
			RequireApproval: []string{},
		},
		Supervisor: SupervisorConfig{
			MaxTurns:               30,
			MaxRetries:             3,
			MaxConsecutiveFailures: 3,
			RetryBackoffMs:         250,
			ResultLog:              "results.db",
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{
				Timeout:             60,
				RestrictToWorkspace: true,
			},
		},
		Subtask: SubtaskConfig{
			TimeoutSeconds: 300,
			MaxConcurrency: 2,
			AllowTools:     []string{},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the warden config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".warden")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from the default path, creating it on first run.
func Load() (*Config, error) {
	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		loadDotEnv(ConfigDir())
		if err := SaveTo(configPath, cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	return LoadFrom(configPath)
}

// LoadFrom reads a config file over the defaults. Environment variables with
// the WARDEN_ prefix override file values (WARDEN_SAFETY_MODE=paranoid).
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	loadDotEnv(filepath.Dir(configPath))

	defaults, err := json.Marshal(cfg)
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return cfg, fmt.Errorf("load default config: %w", err)
	}
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env from the config dir and then the working directory.
// Variables already set in the environment win.
func loadDotEnv(dir string) {
	for _, path := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("failed to load env file", "path", path, "error", err)
		}
	}
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to the default path
func Save(cfg *Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo saves config to path
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

var (
	validSafetyModes   = map[string]bool{"paranoid": true, "normal": true, "relaxed": true, "expert": true}
	validAdvisors      = map[string]bool{"off": true, "rules": true, "model": true}
	validConsentLevels = map[string]bool{"safe": true, "normal": true, "trusted": true, "yolo": true}
	validPolicyModes   = map[string]bool{"strict": true, "relaxed": true, "off": true}
	validLogLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks that the configuration values are within acceptable ranges
// and fills zero values with defaults.
func (c *Config) Validate() error {
	a := &c.Agent
	if a.Temperature < 0 || a.Temperature > 2.0 {
		return fmt.Errorf("agent.temperature must be between 0 and 2.0, got %f", a.Temperature)
	}
	if a.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be > 0, got %d", a.MaxTokens)
	}
	mode := strings.TrimSpace(a.WorkspaceMode)
	if mode != "" {
		validModes := map[string]bool{"default": true, "cwd": true, "path": true}
		if !validModes[strings.ToLower(mode)] {
			return fmt.Errorf("agent.workspace_mode must be one of: default, cwd, path; got %q", mode)
		}
		if strings.EqualFold(mode, "path") && strings.TrimSpace(a.Workspace) == "" {
			return fmt.Errorf("agent.workspace must be non-empty when workspace_mode is \"path\"")
		}
	}

	var err error
	if c.Safety.Mode, err = oneOf("safety.mode", c.Safety.Mode, "normal", validSafetyModes); err != nil {
		return err
	}
	if c.Safety.Advisor, err = oneOf("safety.advisor", c.Safety.Advisor, "rules", validAdvisors); err != nil {
		return err
	}
	if c.Safety.MaxEscalations < 0 {
		return fmt.Errorf("safety.max_escalations must not be negative, got %d", c.Safety.MaxEscalations)
	}
	if c.Safety.MaxEscalations == 0 {
		c.Safety.MaxEscalations = 10
	}

	if c.Consent.Level, err = oneOf("consent.level", c.Consent.Level, "normal", validConsentLevels); err != nil {
		return err
	}
	if c.Consent.MemoryWindowSeconds < 0 {
		return fmt.Errorf("consent.memory_window_seconds must not be negative, got %d", c.Consent.MemoryWindowSeconds)
	}
	if c.Consent.MemoryWindowSeconds == 0 {
		c.Consent.MemoryWindowSeconds = 300
	}

	if c.Policy.Mode, err = oneOf("policy.mode", c.Policy.Mode, "relaxed", validPolicyModes); err != nil {
		return err
	}

	s := &c.Supervisor
	for name, value := range map[string]int{
		"supervisor.max_turns":                s.MaxTurns,
		"supervisor.max_retries":              s.MaxRetries,
		"supervisor.max_consecutive_failures": s.MaxConsecutiveFailures,
		"supervisor.retry_backoff_ms":         s.RetryBackoffMs,
		"supervisor.task_timeout_seconds":     s.TaskTimeoutSeconds,
		"tools.exec.timeout":                  c.Tools.Exec.Timeout,
		"subtask.timeout_seconds":             c.Subtask.TimeoutSeconds,
		"subtask.max_concurrency":             c.Subtask.MaxConcurrency,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, value)
		}
	}
	if s.MaxTurns == 0 {
		s.MaxTurns = 30
	}
	if s.MaxConsecutiveFailures == 0 {
		s.MaxConsecutiveFailures = 3
	}
	if s.RetryBackoffMs == 0 {
		s.RetryBackoffMs = 250
	}
	if c.Tools.Exec.Timeout == 0 {
		c.Tools.Exec.Timeout = 60
	}
	if c.Subtask.TimeoutSeconds == 0 {
		c.Subtask.TimeoutSeconds = 300
	}
	if c.Subtask.MaxConcurrency == 0 {
		c.Subtask.MaxConcurrency = 2
	}

	if c.Log.Level, err = oneOf("log.level", c.Log.Level, "info", validLogLevels); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value, fallback string, valid map[string]bool) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback, nil
	}
	if !valid[normalized] {
		return "", fmt.Errorf("%s: unsupported value %q", field, value)
	}
	return normalized, nil
}

// MemoryWindow is the consent session-memory window.
func (c *Config) MemoryWindow() time.Duration {
	return time.Duration(c.Consent.MemoryWindowSeconds) * time.Second
}

// RetryBackoff is the base delay between retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Supervisor.RetryBackoffMs) * time.Millisecond
}

// TaskTimeout is the wall-clock ceiling per task; zero disables it.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Supervisor.TaskTimeoutSeconds) * time.Second
}

// StateDir is <workspace>/state.
func (c *Config) StateDir() string {
	return filepath.Join(c.WorkspacePath(), "state")
}

// RulesPath resolves the consent rules file.
func (c *Config) RulesPath() string {
	return c.statePath(c.Consent.RulesFile, "consent_rules.json")
}

// ResultLogPath resolves the result database; empty disables the log.
func (c *Config) ResultLogPath() string {
	if strings.TrimSpace(c.Supervisor.ResultLog) == "" {
		return ""
	}
	return c.statePath(c.Supervisor.ResultLog, "results.db")
}

func (c *Config) statePath(configured, fallback string) string {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return filepath.Join(c.StateDir(), fallback)
	}
	configured = expandHome(configured)
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(c.StateDir(), configured)
}

// WorkspacePath returns the expanded workspace path
func (c *Config) WorkspacePath() string {
	path, err := c.WorkspacePathChecked()
	if err != nil {
		return filepath.Join(ConfigDir(), "workspace")
	}
	return path
}

// WorkspacePathChecked returns the expanded workspace path or an error if invalid.
func (c *Config) WorkspacePathChecked() (string, error) {
	mode := strings.TrimSpace(c.Agent.WorkspaceMode)
	if mode == "" || strings.EqualFold(mode, "default") {
		return filepath.Join(ConfigDir(), "workspace"), nil
	}
	if strings.EqualFold(mode, "cwd") {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve cwd: %w", err)
		}
		return wd, nil
	}
	if !strings.EqualFold(mode, "path") {
		return "", fmt.Errorf("unknown workspace_mode: %s", mode)
	}
	if c.Agent.Workspace == "" {
		return "", fmt.Errorf("workspace is required when workspace_mode=path")
	}
	return expandHome(c.Agent.Workspace), nil
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(path[1:], string(filepath.Separator)), "/")
	return filepath.Join(homeDir, rest)
}
