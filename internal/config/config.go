package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type MemberConfig struct {
	Name              string `toml:"name"`
	Provider          string `toml:"provider"`
	Model             string `toml:"model"`
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	ExtendedReasoning bool   `toml:"extended_reasoning"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type Config struct {
	Council  []MemberConfig `toml:"council"`
	Chairman MemberConfig   `toml:"chairman"`
	Storage  StorageConfig  `toml:"storage"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the council is usable: at least one member, a chairman,
// and no duplicate member names (names are the identity keys downstream).
func (c *Config) Validate() error {
	if len(c.Council) == 0 {
		return fmt.Errorf("no council members configured")
	}
	if c.Chairman.Name == "" {
		return fmt.Errorf("no chairman configured")
	}
	seen := make(map[string]bool)
	for _, m := range c.Council {
		if m.Name == "" {
			return fmt.Errorf("council member with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate council member name: %s", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}
