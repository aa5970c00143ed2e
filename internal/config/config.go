package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/agentdbg/internal/control"
	"github.com/stupiduntilnot/agentdbg/internal/extract"
)

// DefaultFileName is the settings file looked up in the home directory.
const DefaultFileName = ".agentdbg.yaml"

// Config holds the settings of one agentdbg session. Values are layered:
// defaults, then the YAML settings file, then AGENTDBG_* environment
// variables (a .env file in the working directory is loaded first), then
// command-line flags applied by the caller.
type Config struct {
	Provider       string `yaml:"provider,omitempty"`
	APIKey         string `yaml:"api_key,omitempty"`
	BaseURL        string `yaml:"base_url,omitempty"`
	ModelID        string `yaml:"model_id,omitempty"`
	GeminiAPIKey   string `yaml:"gemini_api_key,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`

	MaxIterations int    `yaml:"max_iterations,omitempty"`
	MinProbes     int    `yaml:"min_probes,omitempty"`
	ContextWindow int    `yaml:"context_window,omitempty"`
	ExtractMode   string `yaml:"extract_mode,omitempty"`
	CondenseHelp  bool   `yaml:"condense_help,omitempty"`
	Stream        bool   `yaml:"stream,omitempty"`
	PromptFile    string `yaml:"prompt_file,omitempty"`

	CircuitThreshold       int `yaml:"circuit_threshold,omitempty"`
	CircuitCooldownSeconds int `yaml:"circuit_cooldown_seconds,omitempty"`

	Debugger       string `yaml:"debugger,omitempty"`
	GDBPath        string `yaml:"gdb_path,omitempty"`
	MaxOutputLines int    `yaml:"max_output_lines,omitempty"`
	MaxOutputBytes int    `yaml:"max_output_bytes,omitempty"`

	Audit  bool   `yaml:"audit,omitempty"`
	DBPath string `yaml:"db_path,omitempty"`

	Commander           string `yaml:"-"`
	DummyProviderScript string `yaml:"-"`
	DummyInputScript    string `yaml:"-"`
	DummyConfirmScript  string `yaml:"-"`
	SystemPrompt        string `yaml:"-"`
}

// Error reports an invalid or missing setting.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}

// Defaults returns the built-in settings.
func Defaults() Config {
	policy := control.DefaultPolicy()
	return Config{
		Provider:               "openai",
		APIKey:                 "lm-studio",
		BaseURL:                "http://localhost:1234/v1",
		TimeoutSeconds:         120,
		MaxIterations:          policy.MaxIterations,
		MinProbes:              policy.MinProbes,
		ContextWindow:          3,
		ExtractMode:            string(extract.ModeFenced),
		CondenseHelp:           true,
		Stream:                 true,
		CircuitThreshold:       3,
		CircuitCooldownSeconds: 30,
		Debugger:               "gdb",
		GDBPath:                "gdb",
		MaxOutputLines:         400,
		MaxOutputBytes:         64 * 1024,
		Audit:                  true,
		DBPath:                 defaultDBPath(),
		Commander:              "console",
		DummyProviderScript:    "ok",
	}
}

// DefaultPath returns ~/.agentdbg.yaml, or the bare file name when the
// home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agentdbg", "agentdbg.db")
	}
	return filepath.Join(home, ".agentdbg", "agentdbg.db")
}

// Load builds the session configuration from the settings file at path
// (DefaultPath when empty; a missing file is not an error), the optional
// .env file and the environment. The result is not validated.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path == "" {
		path = DefaultPath()
	}
	if err := decodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	applyEnv(&cfg)

	prompt, err := LoadPrompt(cfg.PromptFile)
	if err != nil {
		return Config{}, err
	}
	cfg.SystemPrompt = prompt
	return cfg, nil
}

// LoadFile reads only the settings stored in the file at path.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	return nil
}

// SaveFile writes cfg to path with owner-only permissions since it may
// hold an API key.
func SaveFile(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}

// LoadPrompt returns the prompt stored at path, or DefaultSystemPrompt
// when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(data), nil
}

func applyEnv(cfg *Config) {
	cfg.Provider = envOrDefault("AGENTDBG_PROVIDER", cfg.Provider)
	cfg.APIKey = envOrDefault("AGENTDBG_API_KEY", envOrDefault("OPENAI_API_KEY", cfg.APIKey))
	cfg.BaseURL = envOrDefault("AGENTDBG_BASE_URL", cfg.BaseURL)
	cfg.ModelID = envOrDefault("AGENTDBG_MODEL_ID", cfg.ModelID)
	cfg.GeminiAPIKey = envOrDefault("AGENTDBG_GEMINI_API_KEY", envOrDefault("GEMINI_API_KEY", cfg.GeminiAPIKey))
	cfg.TimeoutSeconds = envIntOrDefault("AGENTDBG_TIMEOUT_SECONDS", cfg.TimeoutSeconds)

	cfg.MaxIterations = envIntOrDefault("AGENTDBG_MAX_ITERATIONS", cfg.MaxIterations)
	cfg.MinProbes = envIntOrDefault("AGENTDBG_MIN_PROBES", cfg.MinProbes)
	cfg.ContextWindow = envIntOrDefault("AGENTDBG_CONTEXT_WINDOW", cfg.ContextWindow)
	cfg.ExtractMode = envOrDefault("AGENTDBG_EXTRACT_MODE", cfg.ExtractMode)
	cfg.CondenseHelp = envBoolOrDefault("AGENTDBG_CONDENSE_HELP", cfg.CondenseHelp)
	cfg.Stream = envBoolOrDefault("AGENTDBG_STREAM", cfg.Stream)
	cfg.PromptFile = envOrDefault("AGENTDBG_PROMPT_FILE", cfg.PromptFile)

	cfg.CircuitThreshold = envIntOrDefault("AGENTDBG_CIRCUIT_THRESHOLD", cfg.CircuitThreshold)
	cfg.CircuitCooldownSeconds = envIntOrDefault("AGENTDBG_CIRCUIT_COOLDOWN_SECONDS", cfg.CircuitCooldownSeconds)

	cfg.Debugger = envOrDefault("AGENTDBG_DEBUGGER", cfg.Debugger)
	cfg.GDBPath = envOrDefault("AGENTDBG_GDB_PATH", cfg.GDBPath)
	cfg.MaxOutputLines = envIntOrDefault("AGENTDBG_MAX_OUTPUT_LINES", cfg.MaxOutputLines)
	cfg.MaxOutputBytes = envIntOrDefault("AGENTDBG_MAX_OUTPUT_BYTES", cfg.MaxOutputBytes)

	cfg.Audit = envBoolOrDefault("AGENTDBG_AUDIT", cfg.Audit)
	cfg.DBPath = envOrDefault("AGENTDBG_DB_PATH", cfg.DBPath)

	cfg.Commander = envOrDefault("AGENTDBG_COMMANDER", cfg.Commander)
	cfg.DummyProviderScript = envOrDefault("AGENTDBG_DUMMY_PROVIDER_SCRIPT", cfg.DummyProviderScript)
	cfg.DummyInputScript = envOrDefault("AGENTDBG_DUMMY_INPUT_SCRIPT", cfg.DummyInputScript)
	cfg.DummyConfirmScript = envOrDefault("AGENTDBG_DUMMY_CONFIRM_SCRIPT", cfg.DummyConfirmScript)
}

// Policy returns the exploration policy described by cfg.
func (c Config) Policy() control.Policy {
	return control.Policy{MaxIterations: c.MaxIterations, MinProbes: c.MinProbes}
}

// Validate checks that cfg can start a session.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai":
		if strings.TrimSpace(c.BaseURL) == "" {
			return &Error{Field: "base_url", Msg: "is required for the openai provider"}
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return &Error{Field: "gemini_api_key", Msg: "is required for the gemini provider (set GEMINI_API_KEY)"}
		}
	case "dummy":
	default:
		return &Error{Field: "provider", Msg: fmt.Sprintf("unknown provider %q (want openai, gemini or dummy)", c.Provider)}
	}
	if strings.TrimSpace(c.ModelID) == "" && c.Provider != "dummy" {
		return &Error{Field: "model_id", Msg: "is required; run `agentdbg configure --model-id <id>` or set AGENTDBG_MODEL_ID"}
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return &Error{Field: "prompt_file", Msg: "system prompt is empty"}
	}
	if c.TimeoutSeconds <= 0 {
		return &Error{Field: "timeout_seconds", Msg: fmt.Sprintf("must be > 0, got %d", c.TimeoutSeconds)}
	}
	if err := c.Policy().Validate(); err != nil {
		return &Error{Field: "max_iterations/min_probes", Msg: err.Error()}
	}
	if c.ContextWindow < 0 {
		return &Error{Field: "context_window", Msg: fmt.Sprintf("must be >= 0, got %d", c.ContextWindow)}
	}
	if _, err := extract.ParseMode(c.ExtractMode); err != nil {
		return &Error{Field: "extract_mode", Msg: err.Error()}
	}
	switch c.Debugger {
	case "gdb", "dummy":
	default:
		return &Error{Field: "debugger", Msg: fmt.Sprintf("unknown debugger %q (want gdb or dummy)", c.Debugger)}
	}
	switch c.Commander {
	case "console", "dummy":
	default:
		return &Error{Field: "commander", Msg: fmt.Sprintf("unknown commander %q (want console or dummy)", c.Commander)}
	}
	if c.Audit && strings.TrimSpace(c.DBPath) == "" {
		return &Error{Field: "db_path", Msg: "is required when audit is enabled"}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
