// Package config loads the settings, prompt templates and source registry used by a pipeline run.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aktagon/news-digest/internal/logger"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is where settings.yaml is bootstrapped on first run.
const DefaultConfigDir = ".news-digest"

// ContentPlaceholder must appear in every prompt template.
const ContentPlaceholder = "{{.Content}}"

const minBudgetChars = 1000

//go:embed defaults/settings.yaml
var defaultSettings string

//go:embed defaults/prompts/*.md
var defaultPrompts embed.FS

// Configuration validation errors. Any of these is fatal before a stage runs.
var (
	ErrMissingOutputDirectory = errors.New("output_directory is required")
	ErrInvalidBudget          = fmt.Errorf("budget_chars must be at least %d", minBudgetChars)
	ErrInvalidMinTextLength   = errors.New("min_text_length must be non-negative")
	ErrInvalidRetry           = errors.New("retry.initial_backoff_ms and retry.max_retries must be non-negative")
	ErrInvalidThrottle        = errors.New("throttle delays must be non-negative")
	ErrUnknownProvider        = errors.New("generator.provider must be 'anthropic' or 'vertex'")
	ErrMissingVertexProject   = errors.New("generator.vertex.project is required for the vertex provider")
	ErrMissingModel           = errors.New("agents.<task>.model is required")
	ErrInvalidKinds           = errors.New("synthesis.kinds must list digest and/or essay")
	ErrInvalidLogLevel        = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrMissingPlaceholder     = fmt.Errorf("prompt template must contain %s", ContentPlaceholder)
	ErrBudgetBelowPrompt      = errors.New("budget_chars leaves no room for content after the prompt template")
)

// Task names a prompt template and, for generation, the agent settings used with it.
type Task string

const (
	TaskDiscovery      Task = "discovery"
	TaskExtraction     Task = "extraction"
	TaskSourceDigest   Task = "source_digest"
	TaskSourceEssay    Task = "source_essay"
	TaskCombinedDigest Task = "combined_digest"
	TaskCombinedEssay  Task = "combined_essay"
)

// Tasks lists every prompt the pipeline needs.
var Tasks = []Task{
	TaskDiscovery,
	TaskExtraction,
	TaskSourceDigest,
	TaskSourceEssay,
	TaskCombinedDigest,
	TaskCombinedEssay,
}

// AgentSettings configures one family of generator calls.
type AgentSettings struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Settings represents settings.yaml.
type Settings struct {
	OutputDirectory string `yaml:"output_directory"`
	BudgetChars     int    `yaml:"budget_chars"`
	MinTextLength   int    `yaml:"min_text_length"`
	Retry           struct {
		InitialBackoffMs int `yaml:"initial_backoff_ms"`
		MaxRetries       int `yaml:"max_retries"`
	} `yaml:"retry"`
	Throttle struct {
		CaptureDelayMs int `yaml:"capture_delay_ms"`
		ExtractDelayMs int `yaml:"extract_delay_ms"`
	} `yaml:"throttle"`
	Discovery struct {
		StripQuery   bool `yaml:"strip_query"`
		SameHostOnly bool `yaml:"same_host_only"`
		MaxURLs      int  `yaml:"max_urls"`
	} `yaml:"discovery"`
	Renderer struct {
		TimeoutSec int      `yaml:"timeout_sec"`
		UserAgent  string   `yaml:"user_agent"`
		Extensions []string `yaml:"extensions"`
	} `yaml:"renderer"`
	Generator struct {
		Provider string `yaml:"provider"`
		Vertex   struct {
			Project  string `yaml:"project"`
			Location string `yaml:"location"`
		} `yaml:"vertex"`
	} `yaml:"generator"`
	Agents struct {
		Discovery  AgentSettings `yaml:"discovery"`
		Extraction AgentSettings `yaml:"extraction"`
		Synthesis  AgentSettings `yaml:"synthesis"`
	} `yaml:"agents"`
	Synthesis struct {
		Kinds []string `yaml:"kinds"`
	} `yaml:"synthesis"`
	Mirror struct {
		GCSBucket string `yaml:"gcs_bucket"`
	} `yaml:"mirror"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// ConfigOverrides allows overriding embedded defaults with file paths.
type ConfigOverrides struct {
	SettingsPath *string
	PromptsDir   *string
	OutputDir    *string
}

// Config is built once at process start and passed to every component that needs it.
type Config struct {
	Settings *Settings
	APIKey   string
	prompts  map[Task]string
}

// Load reads settings and prompts, applies overrides and validates the result.
func Load(overrides *ConfigOverrides, apiKey string) (*Config, error) {
	var (
		settings *Settings
		err      error
	)
	if overrides != nil && overrides.SettingsPath != nil {
		// An explicit settings file must exist.
		settings, err = loadSettingsRequired(*overrides.SettingsPath)
	} else {
		settings, err = loadSettings(filepath.Join(DefaultConfigDir, "settings.yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if overrides != nil && overrides.OutputDir != nil {
		settings.OutputDirectory = *overrides.OutputDir
	}

	var promptsDir string
	if overrides != nil && overrides.PromptsDir != nil {
		promptsDir = *overrides.PromptsDir
	}
	prompts, err := loadPrompts(promptsDir)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	cfg := &Config{Settings: settings, APIKey: apiKey, prompts: prompts}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// New wraps already-parsed settings, using the embedded prompts. Tests build configs this way.
func New(settings *Settings) (*Config, error) {
	prompts, err := loadPrompts("")
	if err != nil {
		return nil, err
	}
	return &Config{Settings: settings, prompts: prompts}, nil
}

// Defaults returns the embedded default settings.
func Defaults() *Settings {
	var settings Settings
	if err := yaml.Unmarshal([]byte(defaultSettings), &settings); err != nil {
		panic(fmt.Sprintf("embedded settings.yaml is invalid: %v", err))
	}
	return &settings
}

// Prompt returns the template for task with content substituted for the placeholder.
func (c *Config) Prompt(task Task, content string) string {
	return strings.ReplaceAll(c.prompts[task], ContentPlaceholder, content)
}

// PromptOverhead is the template length without content, so callers can size payloads.
func (c *Config) PromptOverhead(task Task) int {
	return len(c.prompts[task]) - len(ContentPlaceholder)
}

// Agent returns the generation settings used for task.
func (c *Config) Agent(task Task) AgentSettings {
	switch task {
	case TaskDiscovery:
		return c.Settings.Agents.Discovery
	case TaskExtraction:
		return c.Settings.Agents.Extraction
	default:
		return c.Settings.Agents.Synthesis
	}
}

// InitialBackoff is the first rate-limit wait; later waits grow linearly.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Settings.Retry.InitialBackoffMs) * time.Millisecond
}

// CaptureDelay is the pause between consecutive article renders.
func (c *Config) CaptureDelay() time.Duration {
	return time.Duration(c.Settings.Throttle.CaptureDelayMs) * time.Millisecond
}

// ExtractDelay is the pause between consecutive extraction calls.
func (c *Config) ExtractDelay() time.Duration {
	return time.Duration(c.Settings.Throttle.ExtractDelayMs) * time.Millisecond
}

// Validate checks the settings and prompt templates.
func (c *Config) Validate() error {
	s := c.Settings
	if strings.TrimSpace(s.OutputDirectory) == "" {
		return ErrMissingOutputDirectory
	}
	if s.BudgetChars < minBudgetChars {
		return ErrInvalidBudget
	}
	if s.MinTextLength < 0 {
		return ErrInvalidMinTextLength
	}
	if s.Retry.InitialBackoffMs < 0 || s.Retry.MaxRetries < 0 {
		return ErrInvalidRetry
	}
	if s.Throttle.CaptureDelayMs < 0 || s.Throttle.ExtractDelayMs < 0 {
		return ErrInvalidThrottle
	}

	switch s.Generator.Provider {
	case "anthropic", "":
		s.Generator.Provider = "anthropic"
	case "vertex":
		if s.Generator.Vertex.Project == "" {
			return ErrMissingVertexProject
		}
	default:
		return ErrUnknownProvider
	}

	for _, task := range []Task{TaskDiscovery, TaskExtraction, TaskSourceDigest} {
		if strings.TrimSpace(c.Agent(task).Model) == "" {
			return fmt.Errorf("%w (%s)", ErrMissingModel, task)
		}
	}

	if len(s.Synthesis.Kinds) == 0 {
		return ErrInvalidKinds
	}
	for _, kind := range s.Synthesis.Kinds {
		if kind != "digest" && kind != "essay" {
			return fmt.Errorf("%w: got %q", ErrInvalidKinds, kind)
		}
	}

	if !logger.ValidLevel(s.Logging.Level) {
		return ErrInvalidLogLevel
	}

	for _, task := range Tasks {
		if !strings.Contains(c.prompts[task], ContentPlaceholder) {
			return fmt.Errorf("%w (%s)", ErrMissingPlaceholder, task)
		}
		if overhead := c.PromptOverhead(task); s.BudgetChars <= overhead {
			return fmt.Errorf("%w (%s: template %d bytes, budget %d)", ErrBudgetBelowPrompt, task, overhead, s.BudgetChars)
		}
	}
	return nil
}

// loadSettings loads settings from YAML, falling back to the embedded defaults when the file is missing.
func loadSettings(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return parseSettings(data)
}

// loadSettingsRequired loads settings from YAML, failing if the file doesn't exist.
func loadSettingsRequired(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, err
	}
	return parseSettings(data)
}

// parseSettings layers the file over the defaults so omitted keys keep their default values.
func parseSettings(data []byte) (*Settings, error) {
	settings := Defaults()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	return settings, nil
}

// loadPrompts reads every task template from dir, or from the embedded defaults when dir is empty.
// Files missing from dir fall back to the embedded template.
func loadPrompts(dir string) (map[Task]string, error) {
	prompts := make(map[Task]string, len(Tasks))
	for _, task := range Tasks {
		name := string(task) + ".md"
		if dir != "" {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil {
				prompts[task] = string(data)
				continue
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading prompt %s: %w", name, err)
			}
		}
		data, err := defaultPrompts.ReadFile("defaults/prompts/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading embedded prompt %s: %w", name, err)
		}
		prompts[task] = string(data)
	}
	return prompts, nil
}

// EnsureConfigExists creates the config directory and writes settings.yaml if needed.
func EnsureConfigExists() error {
	if err := os.MkdirAll(DefaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	settingsFile := filepath.Join(DefaultConfigDir, "settings.yaml")
	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(settingsFile, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("writing settings.yaml: %w", err)
		}
	}
	return nil
}
