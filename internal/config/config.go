// Package config loads folio settings from a config file, the environment
// and command-line flags.
//
// Lookup order, lowest to highest precedence: built-in defaults, the first
// folio.{toml,yaml,json} found in $XDG_CONFIG_HOME/folio, ~/.config/folio
// or the explicit --config path, FOLIO_* environment variables, flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/folio-app/folio/internal/watch"
)

// Config is the resolved configuration.
type Config struct {
	Watch         watch.Config
	Kinds         []string
	StateDB       string
	WorkspaceFile string
	DashboardPort int
	LogFile       string
	// File is the config file that was read, or "" when none was found.
	File string
}

// Dir returns the folio config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "folio")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".folio")
	}
	return filepath.Join(home, ".config", "folio")
}

// New returns a viper instance with folio's defaults, search paths and
// environment binding. file, when set, is read instead of searching.
func New(file string) *viper.Viper {
	v := viper.New()

	def := watch.DefaultConfig()
	v.SetDefault("watch.debounce_ms", def.Debounce.Milliseconds())
	v.SetDefault("watch.ignore_write_window_ms", def.IgnoreWriteWindow.Milliseconds())
	v.SetDefault("watch.sweep_interval_ms", def.SweepInterval.Milliseconds())
	v.SetDefault("watch.use_polling", def.UsePolling)
	v.SetDefault("watch.poll_interval_ms", def.PollInterval.Milliseconds())
	v.SetDefault("watch.stability_threshold_ms", def.StabilityThreshold.Milliseconds())
	v.SetDefault("watch.stability_poll_ms", def.StabilityPoll.Milliseconds())
	v.SetDefault("kinds", []string{"writings", "posts"})
	v.SetDefault("state_db", filepath.Join(Dir(), "state.db"))
	v.SetDefault("workspace_file", filepath.Join(Dir(), "workspace.yaml"))
	v.SetDefault("dashboard.port", 0)
	v.SetDefault("log.file", "")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("folio")
		v.AddConfigPath(Dir())
	}

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file, if any, and resolves the settings. A missing
// file is not an error unless it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return Resolve(v)
}

// Resolve converts the settings in v without reading any file.
func Resolve(v *viper.Viper) (*Config, error) {
	ms := func(key string) time.Duration {
		return time.Duration(v.GetInt64(key)) * time.Millisecond
	}

	cfg := &Config{
		Watch: watch.Config{
			Debounce:           ms("watch.debounce_ms"),
			IgnoreWriteWindow:  ms("watch.ignore_write_window_ms"),
			SweepInterval:      ms("watch.sweep_interval_ms"),
			UsePolling:         v.GetBool("watch.use_polling"),
			PollInterval:       ms("watch.poll_interval_ms"),
			StabilityThreshold: ms("watch.stability_threshold_ms"),
			StabilityPoll:      ms("watch.stability_poll_ms"),
		},
		Kinds:         v.GetStringSlice("kinds"),
		StateDB:       expandHome(v.GetString("state_db")),
		WorkspaceFile: expandHome(v.GetString("workspace_file")),
		DashboardPort: v.GetInt("dashboard.port"),
		LogFile:       expandHome(v.GetString("log.file")),
		File:          v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the resolved settings.
func (c *Config) Validate() error {
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce_ms must be positive, got %v", c.Watch.Debounce)
	}
	if c.Watch.IgnoreWriteWindow < 0 {
		return fmt.Errorf("watch.ignore_write_window_ms must not be negative, got %v", c.Watch.IgnoreWriteWindow)
	}
	if c.Watch.SweepInterval <= 0 {
		return fmt.Errorf("watch.sweep_interval_ms must be positive, got %v", c.Watch.SweepInterval)
	}
	if c.Watch.UsePolling && c.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch.poll_interval_ms must be positive when polling, got %v", c.Watch.PollInterval)
	}
	if len(c.Kinds) == 0 {
		return fmt.Errorf("at least one kind is required")
	}
	seen := make(map[string]bool, len(c.Kinds))
	for _, k := range c.Kinds {
		if k == "" || strings.ContainsAny(k, `/\`) || strings.HasPrefix(k, ".") {
			return fmt.Errorf("invalid kind %q", k)
		}
		if seen[k] {
			return fmt.Errorf("duplicate kind %q", k)
		}
		seen[k] = true
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.DashboardPort)
	}
	return nil
}

// WatchConfig returns the watcher config for kind. Each kind is watched
// in its own subdirectory of the workspace.
func (c *Config) WatchConfig(kind string) watch.Config {
	wc := c.Watch
	wc.SubDir = kind
	return wc
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
