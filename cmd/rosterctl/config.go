package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/remote/httpsource"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "ROSTER"

	defaultAPIURL = "http://localhost:8080"
	defaultListen = ":8080"
)

// settings is the resolved configuration. Precedence, highest first: flags,
// ROSTER_* environment variables, config.yaml, defaults.
type settings struct {
	APIURL    string        `mapstructure:"api-url"`
	PageSize  int           `mapstructure:"page-size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	StaleTime time.Duration `mapstructure:"stale-time"`
	CacheTTL  time.Duration `mapstructure:"cache-ttl"`
	LogLevel  string        `mapstructure:"log-level"`
	JSON      bool          `mapstructure:"json"`

	// serve
	Listen  string        `mapstructure:"listen"`
	Origins []string      `mapstructure:"origins"`
	CORS    bool          `mapstructure:"cors"`
	Fixture string        `mapstructure:"fixture"`
	Latency time.Duration `mapstructure:"latency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api-url", defaultAPIURL)
	v.SetDefault("page-size", cache.DefaultPageSize)
	v.SetDefault("timeout", httpsource.DefaultTimeout)
	v.SetDefault("log-level", "warn")
	v.SetDefault("listen", defaultListen)
}

// loadConfig reads the config file, environment and the flags of cmd. A
// missing config.yaml in the working directory is not an error; a missing
// file named by --config is.
func loadConfig(v *viper.Viper, cmd *cobra.Command) (settings, error) {
	setDefaults(v)

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, fmt.Errorf("bind flags: %w", err)
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decode config: %w", err)
	}
	if s.PageSize < 1 {
		return settings{}, &cache.InvalidParamError{Field: "page-size", Message: "must be at least 1"}
	}
	return s, nil
}

func (s settings) cacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.PageSize = s.PageSize
	cfg.StaleTime = s.StaleTime
	if s.CacheTTL > 0 {
		cfg.TTL = s.CacheTTL
	}
	return cfg
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, &cache.InvalidParamError{Field: "log-level", Message: err.Error(), Err: err}
	}
	return level, nil
}
