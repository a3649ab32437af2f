package plugin

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RegistryConfig is the YAML connector inventory loaded at start-up.
type RegistryConfig struct {
	Defaults   Defaults          `yaml:"defaults"`
	Policy     Policy            `yaml:"policy"`
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// Defaults holds registry-wide settings.
type Defaults struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectorConfig is the configuration block for a single connector instance.
type ConnectorConfig struct {
	Name     string         `yaml:"name"`
	Type     CapabilityType `yaml:"type"`
	Provider string         `yaml:"provider"`
	Enabled  *bool          `yaml:"enabled"`
	Config   map[string]any `yaml:"config"`
}

// IsEnabled defaults to true when the flag is omitted.
func (c ConnectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoadRegistryConfig reads a YAML file into a RegistryConfig. ${VAR}
// references are expanded from the environment before parsing.
func LoadRegistryConfig(path string) (RegistryConfig, error) {
	var cfg RegistryConfig
	if path == "" {
		return cfg, errors.New("connector config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read connector config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal connector config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate ensures the inventory is internally consistent.
func (c RegistryConfig) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	seen := make(map[CapabilityType]map[string]struct{})
	for i, conn := range c.Connectors {
		if conn.Name == "" {
			return fmt.Errorf("connector #%d: name cannot be empty", i)
		}
		if !conn.Type.Valid() {
			return fmt.Errorf("connector %s: unknown type %q", conn.Name, conn.Type)
		}
		if conn.Provider == "" {
			return fmt.Errorf("connector %s: provider cannot be empty", conn.Name)
		}
		if seen[conn.Type] == nil {
			seen[conn.Type] = make(map[string]struct{})
		}
		if _, dup := seen[conn.Type][conn.Name]; dup {
			return fmt.Errorf("connector %s/%s declared twice", conn.Type, conn.Name)
		}
		seen[conn.Type][conn.Name] = struct{}{}
	}
	return nil
}
