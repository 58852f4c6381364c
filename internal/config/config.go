// Package config loads runtime configuration for fritzwatch.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the fritzwatch daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	Host            string // FRITZ!Box hostname or IP (required)
	CallmonitorPort int    // TCP port of the callmonitor event stream
	TR064Port       int    // TCP port of the TR-064 SOAP interface
	Username        string // TR-064 username, empty disables the phonebook
	Password        string // TR-064 password
	PhonebookID     int    // phonebook to download (0 is the built-in default book)
	Prefixes        string // comma-separated dialing prefixes treated as equivalent

	HTTPPort int
	DataDir  string

	RefreshInterval   time.Duration // phonebook refresh period
	LastCallRetention time.Duration // how long last-call attributes linger once idle, 0 = until superseded
	CallLogDays       int           // call log retention in days, 0 keeps everything

	LogLevel  string
	LogFormat string // log output format: "text" or "json"
}

// defaults
const (
	defaultCallmonitorPort = 1012
	defaultTR064Port       = 49000
	defaultHTTPPort        = 8070
	defaultDataDir         = "./data"
	defaultRefreshInterval = 12 * time.Hour
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// envPrefix is the prefix for all fritzwatch environment variables.
const envPrefix = "FRITZWATCH_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("fritzwatch", flag.ContinueOnError)

	fs.StringVar(&cfg.Host, "host", "", "FRITZ!Box hostname or IP address (required)")
	fs.IntVar(&cfg.CallmonitorPort, "callmonitor-port", defaultCallmonitorPort, "TCP port of the callmonitor event stream (enable with #96*5*)")
	fs.IntVar(&cfg.TR064Port, "tr064-port", defaultTR064Port, "TCP port of the TR-064 SOAP interface")
	fs.StringVar(&cfg.Username, "username", "", "TR-064 username for phonebook download (empty disables the phonebook)")
	fs.StringVar(&cfg.Password, "password", "", "TR-064 password")
	fs.IntVar(&cfg.PhonebookID, "phonebook-id", 0, "id of the phonebook to download")
	fs.StringVar(&cfg.Prefixes, "prefixes", "", "comma-separated dialing prefixes treated as equivalent (e.g. +39,0039,39)")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call log database")
	fs.DurationVar(&cfg.RefreshInterval, "refresh-interval", defaultRefreshInterval, "phonebook refresh period")
	fs.DurationVar(&cfg.LastCallRetention, "last-call-retention", 0, "how long last-call attributes linger once idle (0 keeps them until the next call)")
	fs.IntVar(&cfg.CallLogDays, "call-log-days", 0, "call log retention in days (0 keeps everything)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"host":                envPrefix + "HOST",
		"callmonitor-port":    envPrefix + "CALLMONITOR_PORT",
		"tr064-port":          envPrefix + "TR064_PORT",
		"username":            envPrefix + "USERNAME",
		"password":            envPrefix + "PASSWORD",
		"phonebook-id":        envPrefix + "PHONEBOOK_ID",
		"prefixes":            envPrefix + "PREFIXES",
		"http-port":           envPrefix + "HTTP_PORT",
		"data-dir":            envPrefix + "DATA_DIR",
		"refresh-interval":    envPrefix + "REFRESH_INTERVAL",
		"last-call-retention": envPrefix + "LAST_CALL_RETENTION",
		"call-log-days":       envPrefix + "CALL_LOG_DAYS",
		"log-level":           envPrefix + "LOG_LEVEL",
		"log-format":          envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "host":
			cfg.Host = val
		case "callmonitor-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CallmonitorPort = v
			}
		case "tr064-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.TR064Port = v
			}
		case "username":
			cfg.Username = val
		case "password":
			cfg.Password = val
		case "phonebook-id":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.PhonebookID = v
			}
		case "prefixes":
			cfg.Prefixes = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "data-dir":
			cfg.DataDir = val
		case "refresh-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RefreshInterval = v
			}
		case "last-call-retention":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.LastCallRetention = v
			}
		case "call-log-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CallLogDays = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required (set --host or %sHOST)", envPrefix)
	}
	if c.CallmonitorPort < 1 || c.CallmonitorPort > 65535 {
		return fmt.Errorf("callmonitor-port must be between 1 and 65535, got %d", c.CallmonitorPort)
	}
	if c.TR064Port < 1 || c.TR064Port > 65535 {
		return fmt.Errorf("tr064-port must be between 1 and 65535, got %d", c.TR064Port)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.PhonebookID < 0 {
		return fmt.Errorf("phonebook-id must be non-negative, got %d", c.PhonebookID)
	}
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh-interval must be at least 1m, got %s", c.RefreshInterval)
	}
	if c.LastCallRetention < 0 {
		return fmt.Errorf("last-call-retention must be non-negative, got %s", c.LastCallRetention)
	}
	if c.CallLogDays < 0 {
		return fmt.Errorf("call-log-days must be non-negative, got %d", c.CallLogDays)
	}

	// The username gates the phonebook; a password alone is a likely mistake.
	if c.Username == "" && c.Password != "" {
		return fmt.Errorf("password provided without username")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// PhonebookEnabled reports whether TR-064 credentials are configured.
func (c *Config) PhonebookEnabled() bool {
	return c.Username != ""
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
