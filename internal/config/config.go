// Package config loads application configuration from the user's config
// file and environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Chat configures the send path.
type Chat struct {
	// DuplicateWindow suppresses a user message identical to one already
	// in the thread tail within this window. Zero disables the check.
	DuplicateWindow time.Duration `json:"duplicateWindow"`

	// DedupGrace keeps a completed send's dedup key reserved briefly so a
	// trailing duplicate event from the same gesture is still absorbed.
	DedupGrace time.Duration `json:"dedupGrace"`
}

// Gateway configures the websocket connection to the analysis backend.
// An empty URL selects the in-process local agent.
type Gateway struct {
	URL         string        `json:"url,omitempty"`
	DialTimeout time.Duration `json:"dialTimeout"`
}

// Data defines storage configuration.
type Data struct {
	Directory string `json:"directory,omitempty"`
}

// Log defines logging configuration.
type Log struct {
	Level string `json:"level"`
}

// Config is the main configuration structure for the application.
type Config struct {
	Data    Data    `json:"data"`
	Chat    Chat    `json:"chat"`
	Gateway Gateway `json:"gateway"`
	Log     Log     `json:"log"`
	Debug   bool    `json:"debug,omitempty"`
}

const (
	appName              = "lakeview"
	defaultDataDirectory = ".lakeview"
	defaultLogLevel      = "info"
)

// Global configuration instance
var cfg *Config

// Load initializes the configuration from config files and environment
// variables.
func Load(debug bool) (*Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	cfg = &Config{}

	configureViper()
	setDefaults(debug)

	if err := readConfig(viper.ReadInConfig()); err != nil {
		return cfg, err
	}

	if cfg.Data.Directory == "" {
		cfg.Data.Directory = defaultDataDirectory
	}
	if !filepath.IsAbs(cfg.Data.Directory) {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Data.Directory = filepath.Join(home, cfg.Data.Directory)
		}
	}

	return cfg, nil
}

// configureViper sets up viper's configuration paths and env prefix.
func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.AutomaticEnv()
}

// setDefaults configures default values for configuration options.
func setDefaults(debug bool) {
	viper.SetDefault("data.directory", defaultDataDirectory)
	viper.SetDefault("chat.duplicateWindow", "10s")
	viper.SetDefault("chat.dedupGrace", "2s")
	viper.SetDefault("gateway.url", "")
	viper.SetDefault("gateway.dialTimeout", "10s")

	if debug {
		viper.SetDefault("debug", true)
		viper.Set("log.level", "debug")
	} else {
		viper.SetDefault("debug", false)
		viper.SetDefault("log.level", defaultLogLevel)
	}
}

// readConfig reads configuration from file and environment.
func readConfig(err error) error {
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults apply
			return applyViper()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return applyViper()
}

func applyViper() error {
	cfg.Data.Directory = viper.GetString("data.directory")
	cfg.Chat.DuplicateWindow = viper.GetDuration("chat.duplicateWindow")
	cfg.Chat.DedupGrace = viper.GetDuration("chat.dedupGrace")
	cfg.Gateway.URL = viper.GetString("gateway.url")
	cfg.Gateway.DialTimeout = viper.GetDuration("gateway.dialTimeout")
	cfg.Log.Level = viper.GetString("log.level")
	cfg.Debug = viper.GetBool("debug")
	return nil
}

// Get returns the global configuration instance.
func Get() *Config {
	return cfg
}

// DatabasePath returns the path of the thread database inside the data
// directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.Directory, "threads.db")
}
