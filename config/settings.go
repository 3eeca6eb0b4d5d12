// Package config provides application settings.
//
// Settings are created via Load() which layers, lowest first:
// - Built-in defaults
// - An optional YAML file
// - Environment variables
//
// The provider passed by the caller (usually the --provider flag) wins over
// all three.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/richinex/agentpatterns/llm"
)

// DefaultProvider is used when neither flag, environment nor file names one.
const DefaultProvider = "anthropic"

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   uint32  `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// AgentConfig holds agent execution configuration.
type AgentConfig struct {
	MaxIterations   int    `yaml:"max_iterations"`
	ToolTimeoutSecs uint64 `yaml:"tool_timeout_secs"`
	ToolRetries     uint32 `yaml:"tool_retries"`
}

// WorkflowConfig holds durable workflow runtime configuration.
type WorkflowConfig struct {
	DB              string        `yaml:"db"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
}

// ServerConfig holds REST server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in settings for provider.
func Defaults(provider string) Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Agent: AgentConfig{MaxIterations: 10, ToolTimeoutSecs: 30, ToolRetries: 3},
		Workflow: WorkflowConfig{
			DB:              filepath.Join(".agentpatterns", "agentpatterns.db"),
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			MaxConcurrency:  4,
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// New creates settings for the specified provider from defaults and
// environment variables.
func New(provider string) (Settings, error) {
	return Load("", provider)
}

// Load creates settings from defaults, the YAML file at path (skipped when
// path is empty) and environment variables. A non-empty provider overrides
// every other source.
func Load(path, provider string) (Settings, error) {
	var file Settings
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	name := firstNonEmpty(provider, os.Getenv("LLM_PROVIDER"), file.LLM.Provider, DefaultProvider)
	name = normalizeProvider(name)
	if _, err := llm.ParseProviderType(name); err != nil {
		return Settings{}, err
	}

	s := Defaults(name)
	overlay(&s, file)

	// A model from the file only applies to the provider it was written for.
	if file.LLM.Model != "" && (file.LLM.Provider == "" || normalizeProvider(file.LLM.Provider) == name) {
		s.LLM.Model = file.LLM.Model
	}

	if err := applyEnv(&s); err != nil {
		return Settings{}, err
	}
	if s.LLM.Model == "" {
		s.LLM.Model, _ = ModelFor(name)
	}
	return s, s.Validate()
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate reports settings that cannot work.
func (s Settings) Validate() error {
	var errs []error
	if s.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent max_iterations must be positive, got %d", s.Agent.MaxIterations))
	}
	if s.Workflow.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("workflow max_attempts must be positive, got %d", s.Workflow.MaxAttempts))
	}
	if s.Workflow.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("workflow max_concurrency must be positive, got %d", s.Workflow.MaxConcurrency))
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm temperature must be within [0, 2], got %g", s.LLM.Temperature))
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads the given .env files, or ./.env when none are given.
// Missing files are ignored; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func overlay(s *Settings, f Settings) {
	if f.LLM.MaxTokens != 0 {
		s.LLM.MaxTokens = f.LLM.MaxTokens
	}
	if f.LLM.Temperature != 0 {
		s.LLM.Temperature = f.LLM.Temperature
	}
	if f.Agent.MaxIterations != 0 {
		s.Agent.MaxIterations = f.Agent.MaxIterations
	}
	if f.Agent.ToolTimeoutSecs != 0 {
		s.Agent.ToolTimeoutSecs = f.Agent.ToolTimeoutSecs
	}
	if f.Agent.ToolRetries != 0 {
		s.Agent.ToolRetries = f.Agent.ToolRetries
	}
	if f.Workflow.DB != "" {
		s.Workflow.DB = f.Workflow.DB
	}
	if f.Workflow.MaxAttempts != 0 {
		s.Workflow.MaxAttempts = f.Workflow.MaxAttempts
	}
	if f.Workflow.InitialInterval != 0 {
		s.Workflow.InitialInterval = f.Workflow.InitialInterval
	}
	if f.Workflow.MaxInterval != 0 {
		s.Workflow.MaxInterval = f.Workflow.MaxInterval
	}
	if f.Workflow.MaxConcurrency != 0 {
		s.Workflow.MaxConcurrency = f.Workflow.MaxConcurrency
	}
	if f.Server.Addr != "" {
		s.Server.Addr = f.Server.Addr
	}
	if f.Log.Level != "" {
		s.Log.Level = f.Log.Level
	}
}

func applyEnv(s *Settings) (err error) {
	if s.LLM.MaxTokens, err = getEnvUint32("LLM_MAX_TOKENS", s.LLM.MaxTokens); err != nil {
		return err
	}
	if s.LLM.Temperature, err = getEnvFloat64("LLM_TEMPERATURE", s.LLM.Temperature); err != nil {
		return err
	}
	if s.Agent.MaxIterations, err = getEnvInt("AGENT_MAX_ITERATIONS", s.Agent.MaxIterations); err != nil {
		return err
	}
	if s.Agent.ToolTimeoutSecs, err = getEnvUint64("AGENT_TOOL_TIMEOUT_SECS", s.Agent.ToolTimeoutSecs); err != nil {
		return err
	}
	if s.Agent.ToolRetries, err = getEnvUint32("AGENT_TOOL_RETRIES", s.Agent.ToolRetries); err != nil {
		return err
	}
	if s.Workflow.MaxAttempts, err = getEnvInt("WORKFLOW_MAX_ATTEMPTS", s.Workflow.MaxAttempts); err != nil {
		return err
	}
	if s.Workflow.MaxConcurrency, err = getEnvInt("WORKFLOW_MAX_CONCURRENCY", s.Workflow.MaxConcurrency); err != nil {
		return err
	}
	if s.Workflow.InitialInterval, err = getEnvDuration("WORKFLOW_INITIAL_INTERVAL", s.Workflow.InitialInterval); err != nil {
		return err
	}
	if s.Workflow.MaxInterval, err = getEnvDuration("WORKFLOW_MAX_INTERVAL", s.Workflow.MaxInterval); err != nil {
		return err
	}
	if model := os.Getenv(modelEnv(s.LLM.Provider)); model != "" {
		s.LLM.Model = model
	}
	s.Workflow.DB = firstNonEmpty(os.Getenv("WORKFLOW_DB"), s.Workflow.DB)
	s.Server.Addr = firstNonEmpty(os.Getenv("SERVER_ADDR"), s.Server.Addr)
	s.Log.Level = firstNonEmpty(os.Getenv("LOG_LEVEL"), s.Log.Level)
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	pt, err := llm.ParseProviderType(strings.TrimSpace(provider))
	if err != nil {
		return strings.ToLower(provider)
	}
	return pt.String()
}

func modelEnv(provider string) string {
	return strings.ToUpper(provider) + "_MODEL"
}

// APIKeyFor returns the API key for a provider from environment variables.
// Ollama needs no key and returns its host instead, defaulting when unset.
func APIKeyFor(provider string) (string, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(pt.EnvVar())
	if pt == llm.ProviderOllama {
		return firstNonEmpty(key, llm.DefaultOllamaHost), nil
	}
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", pt.EnvVar())
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	pt, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(modelEnv(pt.String())); val != "" {
		return val, nil
	}
	return pt.DefaultModel(), nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	return []string{
		llm.ProviderAnthropic.String(),
		llm.ProviderOpenAI.String(),
		llm.ProviderDeepSeek.String(),
		llm.ProviderGemini.String(),
		llm.ProviderOllama.String(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvUint64(key string, defaultVal uint64) (uint64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
