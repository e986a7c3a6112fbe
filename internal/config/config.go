package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models starforge.yml.
type Config struct {
	Galaxy struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"galaxy"`
	Exchange struct {
		// SunshinesPerStar is the fixed conversion rate applied by the
		// solar forge. Must be positive.
		SunshinesPerStar float64 `yaml:"sunshines_per_star"`
	} `yaml:"exchange"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one event delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sf galaxy config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Galaxy.ID == "" {
		return fmt.Errorf("config.galaxy.id is required")
	}
	if c.Exchange.SunshinesPerStar <= 0 {
		return fmt.Errorf("config.exchange.sunshines_per_star must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "starforge.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(galaxyID string) string {
	return fmt.Sprintf(defaultTemplate, galaxyID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a galaxy.
func Default(galaxyID string) *Config {
	var cfg Config
	cfg.Galaxy.ID = galaxyID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, galaxyID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `galaxy:
  id: %s
  name: ""

exchange:
  sunshines_per_star: 360

webhooks: []
`
