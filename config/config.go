// Package config handles the ancvm TOML configuration file.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/ancvm/errors"
)

// FileName is the configuration file looked up by DefaultPath.
const FileName = "config.toml"

// Config is the runtime configuration. Every field is optional; missing
// fields keep the values of Default.
type Config struct {
	Runtime    Runtime    `toml:"runtime"`
	Repository Repository `toml:"repository"`
	Log        Log        `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// Runtime sets the limits of processes and threads.
type Runtime struct {
	MaxCallDepth int    `toml:"max_call_depth"` // nested call frames per thread
	MaxStack     int    `toml:"max_stack"`      // operand stack slots per thread
	MaxHeap      uint64 `toml:"max_heap"`       // live heap bytes per process
}

// Repository lists the roots searched for shared modules, in order.
type Repository struct {
	Paths []string `toml:"paths"`
}

// Log configures the logger built by the command line tool.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			MaxCallDepth: 1024,
			MaxStack:     64 * 1024,
			MaxHeap:      256 << 20,
		},
		Repository: Repository{
			Paths: []string{"./modules", "~/.ancvm/modules"},
		},
		Log: Log{Level: "info"},
	}
}

// DefaultPath returns ~/.ancvm/config.toml, or "" when there is no home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ancvm", FileName)
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults. Repository paths have "~" expanded.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			cfg = Default()
		case err != nil:
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Path(path).
				Detail("parse config").
				Cause(err).
				Build()
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
					Path(path).
					Detail("unknown keys: %s", strings.Join(keys, ", ")).
					Build()
			}
			cfg.Path = path
		}
	}

	for i, p := range cfg.Repository.Paths {
		cfg.Repository.Paths[i] = ExpandHome(p)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects zero or negative limits and unknown log levels.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		b := errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...)
		if c.Path != "" {
			b = b.Path(c.Path)
		}
		return b.Build()
	}
	if c.Runtime.MaxCallDepth <= 0 {
		return invalid("runtime.max_call_depth must be positive, got %d", c.Runtime.MaxCallDepth)
	}
	if c.Runtime.MaxStack <= 0 {
		return invalid("runtime.max_stack must be positive, got %d", c.Runtime.MaxStack)
	}
	if c.Runtime.MaxHeap == 0 {
		return invalid("runtime.max_heap must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return b.String()
}
