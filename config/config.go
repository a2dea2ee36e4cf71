// Package config loads and saves the assembler's persistent settings as
// TOML, following the same GetConfigPath/Load/Save shape the rest of
// the toolchain's config package uses: defaults first, an optional file
// layered on top, never an error just because no file exists yet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds every setting the assembler, its inspector, and its
// assembly-as-a-service mode read at startup.
type Config struct {
	Assemble struct {
		OutputFile      string `toml:"output_file"`
		StackSize       uint   `toml:"stack_size"`
		StartAddress    string `toml:"start_address"` // hex or decimal
		IncludePaths    string `toml:"include_paths"` // colon-separated
		EmitTimestamp   bool   `toml:"emit_timestamp"`
		RemoveOnFailure bool   `toml:"remove_on_failure"`
	} `toml:"assemble"`

	Dump struct {
		PreTokens   bool `toml:"pretokens"`
		Tokens      bool `toml:"tokens"`
		Labels      bool `toml:"labels"`
		Patches     bool `toml:"patches"`
		StringTable bool `toml:"stringtable"`
		Debug       bool `toml:"debug"`
	} `toml:"dump"`

	Display struct {
		ColorOutput  bool   `toml:"color_output"`
		NumberFormat string `toml:"number_format"` // hex, dec, both
	} `toml:"display"`

	Server struct {
		Port           int  `toml:"port"`
		MaxRequestSize int  `toml:"max_request_size"`
		AllowCORS      bool `toml:"allow_cors"`
	} `toml:"server"`

	Inspect struct {
		ShowSource   bool `toml:"show_source"`
		ContextLines int  `toml:"context_lines"`
	} `toml:"inspect"`
}

// DefaultConfig returns a configuration with the assembler's built-in
// defaults, used whenever no config file is present.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Assemble.OutputFile = "output.ulx"
	cfg.Assemble.StackSize = 4096
	cfg.Assemble.StartAddress = "0"
	cfg.Assemble.IncludePaths = ""
	cfg.Assemble.EmitTimestamp = true
	cfg.Assemble.RemoveOnFailure = true

	cfg.Display.ColorOutput = true
	cfg.Display.NumberFormat = "hex"

	cfg.Server.Port = 8080
	cfg.Server.MaxRequestSize = 1 << 20 // 1 MiB of source per request
	cfg.Server.AllowCORS = true

	cfg.Inspect.ShowSource = true
	cfg.Inspect.ContextLines = 5

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "glulxasm")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "glulxasm")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file, falling back to
// defaults with no error if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file, creating any
// missing parent directories.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
