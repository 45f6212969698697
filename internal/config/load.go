package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
)

// Load reads and parses a YAML config file the same way the teacher's
// runServe reads cmd/dex's config file, layering it on Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// ResolveMasterSecret dereferences the "env:" and "file:" indirection
// forms so the literal master secret need not be written into the
// config file on disk.
func ResolveMasterSecret(raw string) ([]byte, error) {
	switch {
	case strings.HasPrefix(raw, "env:"):
		name := strings.TrimPrefix(raw, "env:")
		v := os.Getenv(name)
		if v == "" {
			return nil, fmt.Errorf("config: environment variable %s is not set", name)
		}
		return []byte(v), nil
	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read master secret file %s: %w", path, err)
		}
		return []byte(strings.TrimSpace(string(data))), nil
	default:
		return []byte(raw), nil
	}
}
