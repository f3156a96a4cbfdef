package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration
type Config struct {
	DefaultContext string                   `yaml:"default_context"`
	Contexts       map[string]ContextConfig `yaml:"contexts"`
}

// ContextConfig represents configuration for a named API instance
type ContextConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".rolloutctl", "config.yaml"), nil
}

// LoadConfig loads the configuration from file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{
				DefaultContext: "default",
				Contexts:       make(map[string]ContextConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetContextConfig resolves the connection settings for a context.
// Priority: command flags > environment variables > config file.
func GetContextConfig(contextName, baseURLFlag, apiKeyFlag string) (*ContextConfig, error) {
	if baseURLFlag != "" {
		return &ContextConfig{BaseURL: baseURLFlag, APIKey: apiKeyFlag}, nil
	}

	envBaseURL := os.Getenv("SAFEROLLOUT_BASE_URL")
	envAPIKey := os.Getenv("SAFEROLLOUT_API_KEY")
	if envBaseURL != "" {
		if apiKeyFlag != "" {
			envAPIKey = apiKeyFlag
		}
		return &ContextConfig{BaseURL: envBaseURL, APIKey: envAPIKey}, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if contextName == "" {
		contextName = cfg.DefaultContext
	}
	ctxCfg, ok := cfg.Contexts[contextName]
	if !ok {
		return nil, fmt.Errorf("context '%s' not found in config (set --base-url or SAFEROLLOUT_BASE_URL)", contextName)
	}
	if apiKeyFlag != "" {
		ctxCfg.APIKey = apiKeyFlag
	} else if envAPIKey != "" {
		ctxCfg.APIKey = envAPIKey
	}
	if ctxCfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url must be configured for context '%s'", contextName)
	}
	return &ctxCfg, nil
}

// InitConfig creates a default config file
func InitConfig() error {
	cfg := &Config{
		DefaultContext: "local",
		Contexts: map[string]ContextConfig{
			"local": {
				BaseURL: "http://localhost:8080",
				APIKey:  "admin-123",
			},
		},
	}
	return SaveConfig(cfg)
}
