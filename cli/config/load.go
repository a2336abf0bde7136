package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file over Default, expanding environment
// variables first. Unknown keys are rejected. The result is not validated.
//
// Variables referenced without a default but unset are returned in
// missing; callers typically warn about them.
func Load(path string) (cfg *Config, missing []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded, missing := ExpandEnv(string(data))

	cfg = Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, missing, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, missing, nil
}
