// Package config provides configuration for the tool service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "config.yaml"

// Config holds the service configuration. It is built once at startup and
// passed to every component that needs it.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Workspaces and sessions
	WorkspaceRoot  string        `yaml:"workspace_root"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	ReaperInterval time.Duration `yaml:"reaper_interval"`

	// Cloning
	GitBinary       string `yaml:"git_binary"`
	CloneDepth      int    `yaml:"clone_depth"`
	GitHubToken     string `yaml:"github_token"`
	GitHubPreflight bool   `yaml:"github_preflight"`

	// Language model
	LLMMode        string        `yaml:"llm_mode"`
	LLMBaseURL     string        `yaml:"llm_base_url"`
	LLMAPIKey      string        `yaml:"llm_api_key"`
	LLMModel       string        `yaml:"llm_model"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`
	LLMMaxAttempts int           `yaml:"llm_max_attempts"`
	LLMBackoff     time.Duration `yaml:"llm_backoff"`

	// Question answering
	QAMaxParallel  int `yaml:"qa_max_parallel"`
	FileQAMaxChars int `yaml:"file_qa_max_chars"`

	// Sandbox
	SandboxDriver         string        `yaml:"sandbox_driver"`
	SandboxImage          string        `yaml:"sandbox_image"`
	SandboxUser           string        `yaml:"sandbox_user"`
	ScriptTimeout         time.Duration `yaml:"script_timeout"`
	InstallTimeout        time.Duration `yaml:"install_timeout"`
	SandboxMemoryMB       int           `yaml:"sandbox_memory_mb"`
	SandboxCPUs           float64       `yaml:"sandbox_cpus"`
	SandboxPidsLimit      int           `yaml:"sandbox_pids_limit"`
	SandboxMaxOutputBytes int           `yaml:"sandbox_max_output_bytes"`

	// Policy
	PolicyFile string `yaml:"policy_file"`

	// Event stream
	WSPingInterval time.Duration `yaml:"ws_ping_interval"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTPPort:              8080,
		DatabaseURL:           "file:chaingpt.db?cache=shared&mode=rwc",
		WorkspaceRoot:         "",
		SessionTTL:            time.Hour,
		ReaperInterval:        time.Minute,
		GitBinary:             "git",
		CloneDepth:            0,
		GitHubPreflight:       true,
		LLMMode:               "",
		LLMBaseURL:            "https://api.openai.com",
		LLMModel:              "gpt-4o-mini",
		LLMTimeout:            120 * time.Second,
		LLMMaxAttempts:        3,
		LLMBackoff:            500 * time.Millisecond,
		QAMaxParallel:         4,
		FileQAMaxChars:        100000,
		SandboxDriver:         "docker",
		SandboxImage:          "cgr.dev/chainguard/wolfi-base:latest",
		SandboxUser:           "65532:65532",
		ScriptTimeout:         60 * time.Second,
		InstallTimeout:        5 * time.Minute,
		SandboxMemoryMB:       512,
		SandboxCPUs:           1,
		SandboxPidsLimit:      256,
		SandboxMaxOutputBytes: 1 << 20,
		WSPingInterval:        30 * time.Second,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load builds the configuration from defaults, then the YAML file at path,
// then environment variables. An empty path falls back to CHAINGPT_CONFIG
// and then to DefaultFile when it exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("CHAINGPT_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFile
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.WorkspaceRoot = getEnv("WORKSPACE_ROOT", c.WorkspaceRoot)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.ReaperInterval = getEnvDuration("REAPER_INTERVAL", c.ReaperInterval)

	c.GitBinary = getEnv("GIT_BINARY", c.GitBinary)
	c.CloneDepth = getEnvInt("CLONE_DEPTH", c.CloneDepth)
	c.GitHubToken = getEnv("GITHUB_TOKEN", c.GitHubToken)
	c.GitHubPreflight = getEnvBool("GITHUB_PREFLIGHT", c.GitHubPreflight)

	c.LLMMode = getEnv("LLM_MODE", c.LLMMode)
	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.LLMAPIKey = getEnv("LLM_API_KEY", c.LLMAPIKey)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)
	c.LLMTimeout = getEnvDuration("LLM_TIMEOUT", c.LLMTimeout)
	c.LLMMaxAttempts = getEnvInt("LLM_MAX_ATTEMPTS", c.LLMMaxAttempts)
	c.LLMBackoff = getEnvDuration("LLM_BACKOFF", c.LLMBackoff)

	c.QAMaxParallel = getEnvInt("QA_MAX_PARALLEL", c.QAMaxParallel)
	c.FileQAMaxChars = getEnvInt("FILE_QA_MAX_CHARS", c.FileQAMaxChars)

	c.SandboxDriver = getEnv("SANDBOX_DRIVER", c.SandboxDriver)
	c.SandboxImage = getEnv("SANDBOX_IMAGE", c.SandboxImage)
	c.SandboxUser = getEnv("SANDBOX_USER", c.SandboxUser)
	c.ScriptTimeout = getEnvDuration("SCRIPT_TIMEOUT", c.ScriptTimeout)
	c.InstallTimeout = getEnvDuration("INSTALL_TIMEOUT", c.InstallTimeout)
	c.SandboxMemoryMB = getEnvInt("SANDBOX_MEMORY_MB", c.SandboxMemoryMB)
	c.SandboxCPUs = getEnvFloat("SANDBOX_CPUS", c.SandboxCPUs)
	c.SandboxPidsLimit = getEnvInt("SANDBOX_PIDS_LIMIT", c.SandboxPidsLimit)
	c.SandboxMaxOutputBytes = getEnvInt("SANDBOX_MAX_OUTPUT_BYTES", c.SandboxMaxOutputBytes)

	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)
	c.WSPingInterval = getEnvDuration("WS_PING_INTERVAL", c.WSPingInterval)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	case c.FileQAMaxChars <= 0:
		return fmt.Errorf("file_qa_max_chars must be positive")
	case c.LLMMaxAttempts <= 0:
		return fmt.Errorf("llm_max_attempts must be positive")
	case c.ScriptTimeout <= 0:
		return fmt.Errorf("script_timeout must be positive")
	case c.SessionTTL < 0:
		return fmt.Errorf("session_ttl must not be negative")
	}
	switch strings.ToLower(c.SandboxDriver) {
	case "docker", "local":
	default:
		return fmt.Errorf("unknown sandbox_driver %q", c.SandboxDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// MockLLM reports whether the canned model client is selected.
func (c *Config) MockLLM() bool {
	return strings.EqualFold(c.LLMMode, "MOCK")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or plain milliseconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
