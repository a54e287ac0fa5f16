package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultLocalBaseURL      = "http://localhost:11434/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Store kinds accepted by StoreKind.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	LocalBaseURL      string
	LocalAPIKey       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	GoogleAPIKey      string

	DataDir   string
	StoreKind string
	ConfigDir string

	Tunables Tunables
	Defaults Defaults
	Pricing  PricingConfig
	Models   *ModelFile
}

// FileConfig represents the structure of ~/.localroute/config.yaml
type FileConfig struct {
	Endpoints EndpointsConfig `yaml:"endpoints"`
	DataDir   string          `yaml:"data_dir,omitempty"`
	Store     string          `yaml:"store,omitempty"`
	Tunables  Tunables        `yaml:"tunables,omitempty"`
	Defaults  Defaults        `yaml:"defaults,omitempty"`
	Pricing   PricingConfig   `yaml:"pricing,omitempty"`
}

// EndpointsConfig holds backend base URLs from file.
type EndpointsConfig struct {
	Local      string `yaml:"local"`
	OpenRouter string `yaml:"openrouter"`
}

// Load reads configuration from ~/.localroute/config.yaml and environment variables.
// Environment variables take precedence over file configuration. API keys are
// only ever read from the environment.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	return build(configDir, fileConfig), nil
}

// LoadFile loads config with a specific config file. Unlike Load, a missing or
// malformed file is an error.
func LoadFile(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	fileConfig := &FileConfig{}
	if err := yaml.Unmarshal(data, fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return build(configDir, fileConfig), nil
}

func build(configDir string, fc *FileConfig) *Config {
	dataDir := fc.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(configDir, "data")
	}

	cfg := &Config{
		LocalBaseURL:      getEnvOrDefault("LOCAL_LLM_BASE_URL", orDefault(fc.Endpoints.Local, defaultLocalBaseURL)),
		LocalAPIKey:       getEnvOrDefault("LOCAL_LLM_API_KEY", "local"),
		OpenRouterBaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", orDefault(fc.Endpoints.OpenRouter, defaultOpenRouterBaseURL)),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:      os.Getenv("GOOGLE_API_KEY"),
		DataDir:           getEnvOrDefault("LOCALROUTE_DATA_DIR", dataDir),
		StoreKind:         strings.ToLower(getEnvOrDefault("LOCALROUTE_STORE", orDefault(fc.Store, StoreFile))),
		ConfigDir:         configDir,
		Tunables:          fc.Tunables,
		Defaults:          fc.Defaults,
		Pricing:           fc.Pricing,
	}
	if cfg.StoreKind != StoreSQLite {
		cfg.StoreKind = StoreFile
	}

	cfg.Tunables.applyDefaults()
	cfg.Defaults.applyDefaults()

	models, err := LoadModelFileWithFallback(filepath.Join(configDir, "models.yaml"))
	if err != nil {
		models = DefaultModelFile()
	}
	cfg.Models = models
	cfg.Defaults.LocalModel = models.Resolve(cfg.Defaults.LocalModel)
	cfg.Defaults.RemoteSimpleModel = models.Resolve(cfg.Defaults.RemoteSimpleModel)
	cfg.Defaults.RemoteComplexModel = models.Resolve(cfg.Defaults.RemoteComplexModel)
	cfg.Defaults.DecompositionModel = models.Resolve(cfg.Defaults.DecompositionModel)
	cfg.Defaults.SynthesisModel = models.Resolve(cfg.Defaults.SynthesisModel)
	return cfg
}

// Default returns a configuration built purely from defaults, with no file
// or environment input.
func Default() *Config {
	cfg := &Config{
		LocalBaseURL:      defaultLocalBaseURL,
		LocalAPIKey:       "local",
		OpenRouterBaseURL: defaultOpenRouterBaseURL,
		StoreKind:         StoreFile,
		Models:            DefaultModelFile(),
	}
	cfg.Tunables.applyDefaults()
	cfg.Defaults.applyDefaults()
	return cfg
}

// HasBackend returns true if the credentials for the given backend are configured.
// The local backend needs no key.
func (c *Config) HasBackend(name string) bool {
	switch name {
	case "local":
		return c.LocalBaseURL != ""
	case "openrouter":
		return c.OpenRouterAPIKey != ""
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	default:
		return false
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".localroute")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
