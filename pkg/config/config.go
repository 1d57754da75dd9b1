// Package config loads configuration files with environment variable expansion.
// The format is chosen by file extension: YAML (.yaml, .yml), TOML (.toml) or
// INI (.ini).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

var (
	// ErrUnsupportedFormat is returned for file extensions with no decoder.
	ErrUnsupportedFormat = errors.New("unsupported config format")
	// ErrInvalid wraps errors returned by Validator.
	ErrInvalid = errors.New("invalid config")
)

// Load loads configuration from filename into target, expanding ${VAR}
// references before decoding. A missing file wraps os.ErrNotExist.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	if err := decode(filename, expanded, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w: %w", ErrInvalid, err)
		}
	}

	return nil
}

func decode(filename string, data []byte, target any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, target)
	case ".toml":
		_, err := toml.Decode(string(data), target)
		return err
	case ".ini":
		f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
		if err != nil {
			return err
		}
		return f.MapTo(target)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}
