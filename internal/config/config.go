// Package config handles loading and validating the config.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/iyulab/incident-advisor/internal/analyzer"
	"github.com/iyulab/incident-advisor/internal/incident"
)

// DefaultPath is read when no config file is named. It may be absent.
const DefaultPath = "config.toml"

// Default endpoints and models per provider. An empty endpoint lets the SDK
// pick its public API URL.
var (
	defaultEndpoints = map[string]string{
		"ollama":    "http://localhost:11434",
		"anthropic": "https://api.anthropic.com/v1",
	}
	defaultModels = map[string]string{
		"ollama": "llama3.1",
	}
)

// Config is the top-level configuration.
type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	Breaker BreakerConfig `toml:"breaker"`
	Input   InputConfig   `toml:"input"`
	Output  OutputConfig  `toml:"output"`
	Log     LogConfig     `toml:"log"`
}

// LLMConfig configures the chat-completion backend and the call policy.
type LLMConfig struct {
	Provider        string   `toml:"provider"` // ollama | openai | anthropic | gemini
	Endpoint        string   `toml:"endpoint"`
	Model           string   `toml:"model"`
	APIKey          string   `toml:"api_key"`
	TimeoutSeconds  int      `toml:"timeout_seconds"` // per attempt
	MaxRetries      int      `toml:"max_retries"`
	Temperature     float64  `toml:"temperature"`
	MaxOutputTokens int      `toml:"max_output_tokens"`
	StopSequences   []string `toml:"stop_sequences"`
}

// BreakerConfig configures the circuit breaker around the model.
type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

// InputConfig bounds which incident files may be read.
type InputConfig struct {
	Directory         string   `toml:"directory"`
	MaxFileSizeBytes  int64    `toml:"max_file_size_bytes"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// OutputConfig configures output behavior.
type OutputConfig struct {
	Format string `toml:"format"` // text | json | yaml
	Dir    string `toml:"dir"`    // when set, each result is also saved as JSON here
}

// LogConfig configures diagnostics on stderr.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:        "ollama",
			TimeoutSeconds:  30,
			MaxRetries:      3,
			Temperature:     0.3,
			MaxOutputTokens: 1024,
		},
		Breaker: BreakerConfig{
			Threshold:       analyzer.DefaultBreakerThreshold,
			CooldownSeconds: int(analyzer.DefaultBreakerCooldown / time.Second),
		},
		Input: InputConfig{
			Directory:         ".",
			MaxFileSizeBytes:  incident.DefaultMaxFileSize,
			AllowedExtensions: []string{".json"},
		},
		Output: OutputConfig{Format: "text"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a config.toml file and returns a validated Config. An empty path
// means DefaultPath, which may be missing; a named file must exist. A .env
// file in the working directory is loaded before ADVISOR_* overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("decode %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, fs.ErrNotExist):
		if explicit {
			return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp config.example.toml config.toml", path)
		}
	default:
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv applies environment variable overrides. Secrets belong here
// rather than in the file.
func (c *Config) applyEnv() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"ADVISOR_PROVIDER", &c.LLM.Provider},
		{"ADVISOR_ENDPOINT", &c.LLM.Endpoint},
		{"ADVISOR_MODEL", &c.LLM.Model},
		{"ADVISOR_API_KEY", &c.LLM.APIKey},
		{"ADVISOR_INPUT_DIR", &c.Input.Directory},
		{"ADVISOR_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic", "gemini":
		// valid
	case "":
		return fmt.Errorf("llm.provider is required (ollama, openai, anthropic, gemini)")
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}

	if c.LLM.Endpoint == "" {
		c.LLM.Endpoint = defaultEndpoints[c.LLM.Provider]
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModels[c.LLM.Provider]
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required for provider %q", c.LLM.Provider)
	}

	// API key required for cloud providers. An openai provider with a custom
	// endpoint is usually a local OpenAI-compatible server.
	needsKey := c.LLM.Provider == "anthropic" || c.LLM.Provider == "gemini" ||
		(c.LLM.Provider == "openai" && c.LLM.Endpoint == "")
	if needsKey && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q (or set ADVISOR_API_KEY)", c.LLM.Provider)
	}

	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be positive, got %d", c.LLM.TimeoutSeconds)
	}
	if c.LLM.MaxRetries < 0 || c.LLM.MaxRetries > 10 {
		return fmt.Errorf("llm.max_retries must be between 0 and 10, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	if c.LLM.MaxOutputTokens <= 0 {
		return fmt.Errorf("llm.max_output_tokens must be positive, got %d", c.LLM.MaxOutputTokens)
	}

	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be positive, got %d", c.Breaker.Threshold)
	}
	if c.Breaker.CooldownSeconds <= 0 {
		return fmt.Errorf("breaker.cooldown_seconds must be positive, got %d", c.Breaker.CooldownSeconds)
	}

	if strings.TrimSpace(c.Input.Directory) == "" {
		return fmt.Errorf("input.directory is required")
	}
	if c.Input.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("input.max_file_size_bytes must be positive, got %d", c.Input.MaxFileSizeBytes)
	}
	exts := make([]string, 0, len(c.Input.AllowedExtensions))
	for _, ext := range c.Input.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		return fmt.Errorf("input.allowed_extensions must list at least one extension")
	}
	c.Input.AllowedExtensions = exts

	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	switch c.Output.Format {
	case "text", "json", "yaml":
	case "":
		c.Output.Format = "text"
	default:
		return fmt.Errorf("unsupported output.format: %q (text, json, yaml)", c.Output.Format)
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	case "":
		c.Log.Level = "info"
	default:
		return fmt.Errorf("unsupported log.level: %q", c.Log.Level)
	}

	return nil
}

// ProviderConfig returns the backend selection for analyzer.NewProvider.
func (c *Config) ProviderConfig() analyzer.ProviderConfig {
	return analyzer.ProviderConfig{
		Provider: c.LLM.Provider,
		Endpoint: c.LLM.Endpoint,
		Model:    c.LLM.Model,
		APIKey:   c.LLM.APIKey,
	}
}

// ClientConfig returns the call policy for analyzer.NewClient.
func (c *Config) ClientConfig() analyzer.Config {
	return analyzer.Config{
		Timeout:         time.Duration(c.LLM.TimeoutSeconds) * time.Second,
		MaxRetries:      c.LLM.MaxRetries,
		Temperature:     float32(c.LLM.Temperature),
		MaxOutputTokens: c.LLM.MaxOutputTokens,
		StopSequences:   c.LLM.StopSequences,
	}
}

// BreakerCooldown returns the breaker cool-down as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// LoaderConfig returns the input constraints for incident.NewLoader.
func (c *Config) LoaderConfig() incident.Config {
	return incident.Config{
		AllowedDirectory:  c.Input.Directory,
		AllowedExtensions: c.Input.AllowedExtensions,
		MaxFileSize:       c.Input.MaxFileSizeBytes,
	}
}
