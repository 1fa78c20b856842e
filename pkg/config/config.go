package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	OllamaHost      string

	Bedrock       bool
	AWSRegion     string
	AWSProfile    string
	VectorStoreID string

	Listen      string
	StoreDriver string
	StorePath   string
	DatabaseURL string

	RoutingConfig *RoutingConfig
	ConfigDir     string
}

// FileConfig represents the structure of ~/.agentgate/config.yaml (or config.toml).
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys" toml:"api_keys"`
	Ollama  OllamaConfig  `yaml:"ollama" toml:"ollama"`
	Bedrock BedrockConfig `yaml:"bedrock" toml:"bedrock"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Search  struct {
		VectorStoreID string `yaml:"vector_store_id" toml:"vector_store_id"`
	} `yaml:"search" toml:"search"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic" toml:"anthropic"`
	OpenAI    string `yaml:"openai" toml:"openai"`
	Google    string `yaml:"google" toml:"google"`
	DeepSeek  string `yaml:"deepseek" toml:"deepseek"`
}

// OllamaConfig points at the local inference server.
type OllamaConfig struct {
	Host string `yaml:"host" toml:"host"`
}

// BedrockConfig routes the anthropic adapter through AWS Bedrock.
type BedrockConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Region  string `yaml:"region" toml:"region"`
	Profile string `yaml:"profile" toml:"profile"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// StoreConfig selects the archive backend: file, sqlite or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// Load reads configuration from config files and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	cfg, err := fromDir(configDir)
	if err != nil {
		return nil, err
	}

	routing, err := findRoutingConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config: %w", err)
	}
	cfg.RoutingConfig = routing
	return cfg, nil
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	cfg, err := fromDir(configDir)
	if err != nil {
		return nil, err
	}

	routing, err := LoadRoutingConfig(routingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	}
	cfg.RoutingConfig = routing
	return cfg, nil
}

func fromDir(configDir string) (*Config, error) {
	fileConfig, err := loadFileConfig(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:  getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		OllamaHost:      getEnvOrDefault("OLLAMA_HOST", orDefault(fileConfig.Ollama.Host, "http://localhost:11434")),
		Bedrock:         getEnvBool("AGENTGATE_BEDROCK", fileConfig.Bedrock.Enabled),
		AWSRegion:       getEnvOrDefault("AWS_REGION", orDefault(fileConfig.Bedrock.Region, "us-east-1")),
		AWSProfile:      getEnvOrDefault("AWS_PROFILE", fileConfig.Bedrock.Profile),
		VectorStoreID:   getEnvOrDefault("OPENAI_VECTOR_STORE_ID", fileConfig.Search.VectorStoreID),
		Listen:          getEnvOrDefault("AGENTGATE_LISTEN", orDefault(fileConfig.Server.Listen, "127.0.0.1:8080")),
		StoreDriver:     getEnvOrDefault("AGENTGATE_STORE_DRIVER", orDefault(fileConfig.Store.Driver, "file")),
		StorePath:       getEnvOrDefault("AGENTGATE_STORE_PATH", fileConfig.Store.Path),
		DatabaseURL:     getEnvOrDefault("DATABASE_URL", fileConfig.Store.DSN),
		ConfigDir:       configDir,
	}

	switch cfg.StoreDriver {
	case "file", "sqlite", "postgres", "memory", "none":
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.StorePath == "" {
		switch cfg.StoreDriver {
		case "sqlite":
			cfg.StorePath = filepath.Join(configDir, "archive.db")
		default:
			cfg.StorePath = filepath.Join(configDir, "archive")
		}
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("store driver postgres requires DATABASE_URL")
	}
	return cfg, nil
}

// HasAdapter returns true if the credentials for the given adapter are configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != "" || c.Bedrock
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "ollama":
		return c.OllamaHost != ""
	default:
		return false
	}
}

func findRoutingConfig(configDir string) (*RoutingConfig, error) {
	for _, name := range []string{"routing.yaml", "routing.yml", "routing.toml"} {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadRoutingConfig(path)
		}
	}
	return DefaultRoutingConfig(), nil
}

// loadFileConfig reads config.yaml or config.toml, returning empty config if neither exists.
func loadFileConfig(configDir string) (*FileConfig, error) {
	cfg := &FileConfig{}

	if data, err := os.ReadFile(filepath.Join(configDir, "config.yaml")); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
		return cfg, nil
	}

	tomlPath := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, fmt.Errorf("parse config.toml: %w", err)
		}
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getEnvBool(envVar string, defaultValue bool) bool {
	if val := os.Getenv(envVar); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("AGENTGATE_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".agentgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
