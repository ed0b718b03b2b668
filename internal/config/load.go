// Package config loads the daemon configuration files.
//
// Files are JSON (.json) or YAML (.yaml, .yml). Every field is optional:
// pointer fields left unset fall back to the defaults returned by the Get*
// accessors, so a file only needs to name what differs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// maxFileSize bounds configuration files (1MB).
const maxFileSize = 1 * 1024 * 1024

type validator interface {
	Validate() error
}

// loadFile reads path into cfg according to its extension and validates it.
func loadFile(path string, cfg validator) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validatePort(port *int) error {
	if port == nil {
		return nil
	}
	if *port < 1 || *port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", *port)
	}
	return nil
}

func validateIndex(name string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > 0xFFFF {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, *v)
	}
	return nil
}
