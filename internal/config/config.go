// Package config loads attic's settings.
//
// Values are layered, later sources winning:
//
//  1. Default()
//  2. a YAML file (--config, or $XDG_CONFIG_HOME/attic/config.yaml, or
//     ~/.config/attic/config.yaml)
//  3. ATTIC_SOCKET, ATTIC_SERVER and ATTIC_LOG_LEVEL
//  4. command-line flags that were explicitly set
//
// Unknown keys in the file are an error so that typos don't silently fall
// back to defaults. ${HOME}, ${VAR:-default} and a leading ~ are expanded in
// path values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/huegli/attic-sub009/atticprotocol"
	"github.com/huegli/attic-sub009/internal/launcher"
	"github.com/huegli/attic-sub009/internal/logging"
)

// Config is the complete attic configuration.
type Config struct {
	// Socket connects to this server socket instead of discovering one.
	Socket string `yaml:"socket"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	REPL   REPLConfig   `yaml:"repl"`
}

// ServerConfig controls launching AtticServer.
type ServerConfig struct {
	// Executable overrides the AtticServer search.
	Executable string `yaml:"executable"`

	// Silent launches the server without audio.
	Silent bool `yaml:"silent"`

	// ROMPath is passed to the server as --rom-path.
	ROMPath string `yaml:"rom_path"`

	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// ClientConfig controls the protocol client.
type ClientConfig struct {
	CommandTimeout       time.Duration `yaml:"command_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatStaleAfter  time.Duration `yaml:"heartbeat_stale_after"`
	HeartbeatPingTimeout time.Duration `yaml:"heartbeat_ping_timeout"`
}

// REPLConfig controls the interactive shell.
type REPLConfig struct {
	// ATASCII renders BASIC listings with ATASCII graphics.
	ATASCII bool `yaml:"atascii"`

	HistoryFile string `yaml:"history_file"`
	HistorySize int    `yaml:"history_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "warn",
		Server: ServerConfig{
			LaunchTimeout: launcher.DefaultTimeout,
			PollInterval:  launcher.DefaultPollInterval,
		},
		Client: ClientConfig{
			CommandTimeout:       atticprotocol.CommandTimeout,
			HeartbeatInterval:    atticprotocol.HeartbeatInterval,
			HeartbeatStaleAfter:  atticprotocol.HeartbeatStaleAfter,
			HeartbeatPingTimeout: atticprotocol.HeartbeatPingTimeout,
		},
		REPL: REPLConfig{
			ATASCII:     true,
			HistoryFile: "~/.attic_history",
			HistorySize: 500,
		},
	}
}

// DefaultPath returns where the config file is looked for when --config is
// not given.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "attic", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "attic", "config.yaml")
}

// Load builds the configuration from defaults, the config file and the
// environment. An explicit path must exist; the default path is optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := c.decode(data); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("ATTIC_SOCKET"); ok && v != "" {
		c.Socket = v
	}
	if v, ok := lookup("ATTIC_SERVER"); ok && v != "" {
		c.Server.Executable = v
	}
	if v, ok := lookup("ATTIC_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
}

func (c *Config) expandPaths() {
	c.Socket = expandPath(c.Socket)
	c.Server.Executable = expandPath(c.Server.Executable)
	c.Server.ROMPath = expandPath(c.Server.ROMPath)
	c.REPL.HistoryFile = expandPath(c.REPL.HistoryFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandPath expands ${VAR}, ${VAR:-default} and a leading ~.
func expandPath(s string) string {
	s = varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = home + s[1:]
		}
	}
	return s
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"server.launch_timeout", c.Server.LaunchTimeout},
		{"server.poll_interval", c.Server.PollInterval},
		{"client.command_timeout", c.Client.CommandTimeout},
		{"client.heartbeat_stale_after", c.Client.HeartbeatStaleAfter},
		{"client.heartbeat_ping_timeout", c.Client.HeartbeatPingTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", d.name, d.value))
		}
	}

	// A negative heartbeat interval disables the heartbeat.
	if c.Client.HeartbeatInterval > 0 && c.Client.HeartbeatStaleAfter > 0 &&
		c.Client.HeartbeatStaleAfter <= c.Client.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("client.heartbeat_stale_after (%v) must exceed client.heartbeat_interval (%v)",
			c.Client.HeartbeatStaleAfter, c.Client.HeartbeatInterval))
	}

	if c.REPL.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("repl.history_size must not be negative, got %d", c.REPL.HistorySize))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, or info if it is invalid.
func (c *Config) Level() slog.Level {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ClientOptions converts the client settings for atticprotocol.
func (c *Config) ClientOptions(logger *slog.Logger) atticprotocol.ClientOptions {
	return atticprotocol.ClientOptions{
		Logger:               logger,
		CommandTimeout:       c.Client.CommandTimeout,
		HeartbeatInterval:    c.Client.HeartbeatInterval,
		HeartbeatStaleAfter:  c.Client.HeartbeatStaleAfter,
		HeartbeatPingTimeout: c.Client.HeartbeatPingTimeout,
	}
}

// LaunchOptions converts the server settings for the launcher.
func (c *Config) LaunchOptions(logger *slog.Logger) launcher.Options {
	return launcher.Options{
		Executable:   c.Server.Executable,
		Silent:       c.Server.Silent,
		ROMPath:      c.Server.ROMPath,
		Timeout:      c.Server.LaunchTimeout,
		PollInterval: c.Server.PollInterval,
		Logger:       logger,
	}
}
