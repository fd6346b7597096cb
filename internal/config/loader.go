package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, substitutes environment references,
// fills defaults, and validates the result. A *Config returned without
// error is ready to wire.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := substituteEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.WithDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// substituteEnv resolves $VAR and ${VAR} references in the raw YAML,
// with ${VAR:-fallback} supplying a value when the variable is unset.
// Unset references without a fallback fail, reported together so a
// misconfigured deployment surfaces every missing variable at once.
func substituteEnv(raw string) (string, error) {
	var missing []string

	expanded := os.Expand(raw, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}
