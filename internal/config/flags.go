package config

import "github.com/spf13/pflag"

// Flags holds the persistent command-line flags. Only flags the user
// actually set override the loaded configuration.
type Flags struct {
	ConfigPath string
	Socket     string
	LogLevel   string
	ROMPath    string
	Silent     bool
	Plain      bool
	ATASCII    bool
}

// Bind registers the flags on fs.
func (f *Flags) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "config file (default "+DefaultPath()+")")
	fs.StringVar(&f.Socket, "socket", "", "connect to the server at this socket path")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.ROMPath, "rom-path", "", "ROM directory passed to a launched server")
	fs.BoolVar(&f.Silent, "silent", false, "launch the server without audio")
	fs.BoolVar(&f.Plain, "plain", false, "plain ASCII BASIC listings")
	fs.BoolVar(&f.ATASCII, "atascii", false, "ATASCII graphics in BASIC listings (default)")
}

// Apply copies the flags that were set on fs into cfg.
func (f *Flags) Apply(fs *pflag.FlagSet, cfg *Config) {
	if fs.Changed("socket") {
		cfg.Socket = f.Socket
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.LogLevel
	}
	if fs.Changed("rom-path") {
		cfg.Server.ROMPath = f.ROMPath
	}
	if fs.Changed("silent") {
		cfg.Server.Silent = f.Silent
	}
	if fs.Changed("atascii") {
		cfg.REPL.ATASCII = f.ATASCII
	}
	if fs.Changed("plain") {
		cfg.REPL.ATASCII = !f.Plain
	}
}

// LoadWithFlags loads the configuration and applies the set flags on top.
func LoadWithFlags(fs *pflag.FlagSet, f *Flags) (*Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	f.Apply(fs, cfg)
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
