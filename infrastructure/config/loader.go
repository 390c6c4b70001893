package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// loadFile overlays the YAML file at path onto cfg. Keys missing from the file
// keep their current values; unknown keys are rejected.
func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	if err := decodeYAML(file, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}
