package config

import (
	"bytes"
	stdliberrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

// loadAndMerge decodes the YAML file at path over cfg. Keys absent from the
// file keep their current values; unknown keys are rejected.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stdliberrors.Is(err, io.EOF) {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}
	return nil
}

// loadConfigEnvVars reads ./.env, then ~/.parallel-sessions/config.env for
// keys the first file does not set.
func loadConfigEnvVars(home string) map[string]string {
	vars := make(map[string]string)
	paths := []string{".env"}
	if home != "" {
		paths = append(paths, filepath.Join(home, DirName, "config.env"))
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for key, value := range parseEnvFile(data) {
			if _, ok := vars[key]; !ok {
				vars[key] = value
			}
		}
	}
	return vars
}

func parseEnvFile(data []byte) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}
