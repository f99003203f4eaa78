// Package config handles configuration for the gpubridge client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for the application
type Config struct {
	Remote     RemoteConfig     `toml:"remote"`
	Generation GenerationConfig `toml:"generation"`
	Storage    StorageConfig    `toml:"storage"`
}

// RemoteConfig describes the remote GPU machine reached over SSH.
type RemoteConfig struct {
	// Host is the remote machine address
	Host string `toml:"host"`

	// User is the SSH user on the remote machine
	User string `toml:"user"`

	// OllamaPort is the Ollama API port on the remote machine
	OllamaPort int `toml:"ollama_port"`

	// ComfyPort is the ComfyUI port on the remote machine
	ComfyPort int `toml:"comfyui_port"`

	// SSHKey is an optional identity file passed to ssh -i
	SSHKey string `toml:"ssh_key"`
}

// GenerationConfig holds image generation defaults.
type GenerationConfig struct {
	// OutputDir is where finished artifacts are written
	OutputDir string `toml:"output_dir"`

	// DefaultSize is the default output resolution, e.g. "5120x2160"
	DefaultSize string `toml:"default_size"`

	// DefaultModel is the default checkpoint name
	DefaultModel string `toml:"default_model"`
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	// DatabasePath is the path to the SQLite history database
	DatabasePath string `toml:"database_path"`

	// PruneSchedule is a cron spec for history/artifact pruning
	PruneSchedule string `toml:"prune_schedule"`

	// KeepDays is how long history rows and artifacts are retained
	KeepDays int `toml:"keep_days"`
}

// defaultConfig returns the default configuration
func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Host:       "192.168.0.27",
			User:       "garrett",
			OllamaPort: 11434,
			ComfyPort:  8188,
		},
		Generation: GenerationConfig{
			OutputDir:    "~/Pictures/Wallpapers",
			DefaultSize:  "5120x2160",
			DefaultModel: "sdxl",
		},
		Storage: StorageConfig{
			DatabasePath:  "~/.local/share/gpubridge/gpubridge.db",
			PruneSchedule: "0 3 * * *",
			KeepDays:      30,
		},
	}
}

// Path returns the config file location, honoring GPUBRIDGE_CONFIG.
func Path() string {
	if p := os.Getenv("GPUBRIDGE_CONFIG"); p != "" {
		return p
	}
	confDir, err := os.UserConfigDir()
	if err != nil {
		confDir = "~/.config"
	}
	return filepath.Join(confDir, "gpubridge", "config.toml")
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	config := defaultConfig()

	configPath := Path()
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Override with environment variables if set
	if host := os.Getenv("GPUBRIDGE_REMOTE_HOST"); host != "" {
		config.Remote.Host = host
	}
	if user := os.Getenv("GPUBRIDGE_REMOTE_USER"); user != "" {
		config.Remote.User = user
	}
	if port := os.Getenv("GPUBRIDGE_OLLAMA_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			config.Remote.OllamaPort = n
		}
	}
	if port := os.Getenv("GPUBRIDGE_COMFYUI_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			config.Remote.ComfyPort = n
		}
	}
	if outDir := os.Getenv("GPUBRIDGE_OUTPUT_DIR"); outDir != "" {
		config.Generation.OutputDir = outDir
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}

	config.Generation.OutputDir = ExpandHome(config.Generation.OutputDir)
	config.Storage.DatabasePath = ExpandHome(config.Storage.DatabasePath)
	config.Remote.SSHKey = ExpandHome(config.Remote.SSHKey)

	if config.Remote.Host == "" {
		return nil, fmt.Errorf("remote host is not configured")
	}

	return config, nil
}

// SSHDestination returns the user@host argument passed to ssh.
func (c *Config) SSHDestination() string {
	if c.Remote.User == "" {
		return c.Remote.Host
	}
	return c.Remote.User + "@" + c.Remote.Host
}

// Size parses DefaultSize ("5120x2160") into width and height. A value
// that does not parse falls back to 1920x1080.
func (g GenerationConfig) Size() (width, height int) {
	parts := strings.SplitN(g.DefaultSize, "x", 2)
	if len(parts) == 2 {
		w, werr := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, herr := strconv.Atoi(strings.TrimSpace(parts[1]))
		if werr == nil && herr == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return 1920, 1080
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
