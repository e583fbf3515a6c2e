package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Sync     SyncDefaults   `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

// SyncDefaults seed the sync_settings row on first run. After that the
// settings live in the database and are edited through the settings API,
// not this file.
type SyncDefaults struct {
	ServerURL       string `mapstructure:"server_url"`
	AuthToken       string `mapstructure:"auth_token"`
	AutoSync        bool   `mapstructure:"auto_sync"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
	SyncOnStartup   bool   `mapstructure:"sync_on_startup"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("database.path", "plant-sync.db")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("sync.auto_sync", false)
	v.SetDefault("sync.interval_minutes", 15)
	v.SetDefault("sync.sync_on_startup", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, we run on defaults.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
