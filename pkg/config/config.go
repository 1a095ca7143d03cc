package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration for the zaptec commands. The
// library itself never reads the environment, everything is passed in.
type Config struct {
	Username string     `mapstructure:"username"`
	Password string     `mapstructure:"password"`
	Listen   string     `mapstructure:"listen"`
	LogLevel string     `mapstructure:"log_level"`
	Stream   bool       `mapstructure:"stream"`
	Redact   bool       `mapstructure:"redact"`
	Poll     PollConfig `mapstructure:"poll"`
}

// PollConfig holds the exporter polling intervals.
type PollConfig struct {
	State    time.Duration `mapstructure:"state"`
	Info     time.Duration `mapstructure:"info"`
	Firmware time.Duration `mapstructure:"firmware"`
}

// Load reads configuration from the environment (ZAPTEC_* variables) and
// an optional YAML file. An empty path falls back to $ZAPTEC_CONFIG; no
// file at all is fine, the environment alone can carry everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZAPTEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("ZAPTEC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Username == "" || config.Password == "" {
		return nil, errors.New("username and password must be set")
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("listen", ":9635")
	v.SetDefault("log_level", "info")
	v.SetDefault("stream", true)
	v.SetDefault("redact", true)

	v.SetDefault("poll.state", 30*time.Second)
	v.SetDefault("poll.info", 10*time.Minute)
	v.SetDefault("poll.firmware", 24*time.Hour)
}
