// Package config loads runtime settings for the mutual tools.
//
// Settings are layered: Defaults, then a YAML file, then command-line flags
// that were explicitly set. Later layers win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/economy"
)

// Config holds the settings shared by every command.
type Config struct {
	// Database is the SQLite file backing all stores.
	Database string `yaml:"database"`
	// Device labels this installation's device keys and change-feed origin.
	Device string `yaml:"device"`
	// Units is the number of subdivisions balances are floored to.
	Units int64 `yaml:"units"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
	// ScryptWorkFactor is the log2 cost for sealing recovery keys.
	ScryptWorkFactor int `yaml:"scrypt_work_factor"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Database:         "mutual.db",
		Device:           defaultDevice(),
		Units:            economy.DefaultUnits,
		LogLevel:         "info",
		LogFormat:        "text",
		ScryptWorkFactor: credential.DefaultScryptWorkFactor,
	}
}

func defaultDevice() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "device"
	}
	return host
}

// Load returns Defaults overlaid with the YAML file at path. An empty path
// skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Flag names bound by BindFlags.
const (
	FlagDatabase   = "db"
	FlagDevice     = "device"
	FlagUnits      = "units"
	FlagLogLevel   = "log-level"
	FlagLogFormat  = "log-format"
	FlagWorkFactor = "scrypt-work-factor"
)

// BindFlags registers the override flags on fs. Their defaults are empty so
// that only flags the user sets take effect in ApplyFlags.
func BindFlags(fs *pflag.FlagSet) {
	fs.String(FlagDatabase, "", "path to the SQLite database")
	fs.String(FlagDevice, "", "device label for keys and change origin")
	fs.Int64(FlagUnits, 0, "balance subdivisions per unit")
	fs.String(FlagLogLevel, "", "log level (debug|info|warn|error)")
	fs.String(FlagLogFormat, "", "log format (text|json)")
	fs.Int(FlagWorkFactor, 0, "log2 scrypt cost for recovery keys")
}

// ApplyFlags overlays every flag in fs that was set on the command line.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	str(FlagDatabase, &c.Database)
	str(FlagDevice, &c.Device)
	str(FlagLogLevel, &c.LogLevel)
	str(FlagLogFormat, &c.LogFormat)
	if fs.Changed(FlagUnits) {
		v, err := fs.GetInt64(FlagUnits)
		errs = append(errs, err)
		c.Units = v
	}
	if fs.Changed(FlagWorkFactor) {
		v, err := fs.GetInt(FlagWorkFactor)
		errs = append(errs, err)
		c.ScryptWorkFactor = v
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database: required"))
	}
	if c.Device == "" {
		errs = append(errs, errors.New("device: required"))
	}
	if c.Units <= 0 {
		errs = append(errs, fmt.Errorf("units: must be positive, got %d", c.Units))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	if c.ScryptWorkFactor < 1 || c.ScryptWorkFactor > 30 {
		errs = append(errs, fmt.Errorf("scrypt_work_factor: must be in 1..30, got %d", c.ScryptWorkFactor))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Logger builds a logger writing to w. verbose forces debug level.
func (c Config) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
