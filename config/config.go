// Package config loads the server settings from an optional file and
// COLLAB_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/alimasry/go-collab-history/history"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Config is the server configuration.
type Config struct {
	Addr     string         `mapstructure:"addr" validate:"required"`
	LogLevel string         `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Store    StoreConfig    `mapstructure:"store"`
	History  history.Config `mapstructure:"history"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Type             string `mapstructure:"type" validate:"oneof=memory sqlite firestore"`
	SQLitePath       string `mapstructure:"sqlite_path" validate:"required_if=Type sqlite"`
	FirestoreProject string `mapstructure:"firestore_project" validate:"required_if=Type firestore"`
	// Cached puts a write-behind cache in front of the store.
	Cached        bool          `mapstructure:"cached"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"required_if=Cached true"`
}

func setDefaults(v *viper.Viper) {
	hist := history.DefaultConfig()

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("store.type", StoreMemory)
	v.SetDefault("store.sqlite_path", "collab.db")
	v.SetDefault("store.firestore_project", "")
	v.SetDefault("store.cached", false)
	v.SetDefault("store.flush_interval", 5*time.Second)
	v.SetDefault("history.min_depth", hist.MinDepth)
	v.SetDefault("history.new_group_delay", hist.NewGroupDelay)
	v.SetDefault("history.merge_policy", hist.MergePolicy)
	v.SetDefault("history.join_events", hist.JoinEvents)
	v.SetDefault("history.select_events", hist.SelectEvents)
}

// Load reads path, when non-empty, then applies environment overrides such
// as COLLAB_STORE_TYPE or COLLAB_HISTORY_MIN_DEPTH.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("collab")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration's field rules.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
