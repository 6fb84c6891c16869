// Package config loads the optional slinger defaults file.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional slinger configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults. Nil fields were not set in
// the file and leave the built-in default alone.
type DefaultsConfig struct {
	Workers       *int    `toml:"workers"`
	VerifyWorkers *int    `toml:"verify_workers"`
	Slots         *int    `toml:"slots"`
	SlotSize      *string `toml:"slot_size"`
	Verify        *bool   `toml:"verify"`
	Algorithm     *string `toml:"algorithm"`
	HashInline    *bool   `toml:"hash_inline"`
	Overwrite     *bool   `toml:"overwrite"`
	FailFast      *bool   `toml:"fail_fast"`
	Contents      *bool   `toml:"contents"`
	BWLimit       *string `toml:"bwlimit"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "slinger", "config.toml")
}

// Load reads the config file from the XDG path. A missing file yields a zero
// Config and no error.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file yields a zero
// Config and no error; unknown keys are rejected.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, &UnknownKeyError{Path: path, Key: undecoded[0].String()}
	}
	return cfg, nil
}

// UnknownKeyError reports a key the config file should not contain.
type UnknownKeyError struct {
	Path string
	Key  string
}

func (e *UnknownKeyError) Error() string {
	return e.Path + ": unknown key " + e.Key
}
