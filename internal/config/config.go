// Package config loads scoresync settings from file, environment, and
// defaults, and supports live reload of the timing tunables.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the resolved configuration.
type Config struct {
	// ServerURL is the authoritative server's origin.
	ServerURL string `mapstructure:"server_url"`

	// SessionToken is the opaque identity token forwarded on mutations.
	SessionToken string `mapstructure:"session_token"`

	// DBPath is the local store's SQLite file.
	DBPath string `mapstructure:"db_path"`

	// ListenAddr is where the cache proxy serves.
	ListenAddr string `mapstructure:"listen_addr"`

	// CacheVersion tags this build's resource caches.
	CacheVersion string `mapstructure:"cache_version"`

	// DrainInterval is the sync engine's periodic trigger.
	DrainInterval time.Duration `mapstructure:"drain_interval"`

	// ProbeInterval is the connectivity monitor's poll rate.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// StartupDelay is the delay before the initial drain.
	StartupDelay time.Duration `mapstructure:"startup_delay"`

	// LogFile, if set, routes logs to a rotated file.
	LogFile string `mapstructure:"log_file"`
}

// Loader wraps the viper instance so the config file can be watched.
type Loader struct {
	v      *viper.Viper
	logger *log.Logger
}

// NewLoader prepares a loader. path may be empty, in which case only
// defaults and SCORESYNC_* environment variables apply.
func NewLoader(path string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}

	v := viper.New()
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("db_path", ".scoresync/local.db")
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("cache_version", "dev")
	v.SetDefault("drain_interval", 30*time.Second)
	v.SetDefault("probe_interval", 10*time.Second)
	v.SetDefault("startup_delay", 5*time.Second)

	v.SetEnvPrefix("SCORESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scoresync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.scoresync")
	}

	return &Loader{v: v, logger: logger}
}

// Load reads and decodes the configuration. A missing config file is not an
// error; everything then comes from defaults and the environment.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		l.logger.Printf("no config file found, using defaults and environment")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file on change and hands the fresh Config to
// onChange. Decode failures are logged and the previous config stays in
// effect.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Printf("config file changed: %s", e.Name)
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			l.logger.Printf("WARNING: ignoring unreadable config update: %v", err)
			return
		}
		onChange(&cfg)
	})
	l.v.WatchConfig()
}
