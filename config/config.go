package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"obs-showctl/internal/model"
)

const EnvPrefix = "SHOWCTL"

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Store     StoreConfig      `mapstructure:"store"`
	OBS       OBSConfig        `mapstructure:"obs"`
	Log       LogConfig        `mapstructure:"log"`
	Instances []model.Instance `mapstructure:"instances"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	Enable bool   `mapstructure:"enable"`
	Token  string `mapstructure:"token"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "redis".
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type OBSConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	StateRequest   string        `mapstructure:"state_request"`
	StateField     string        `mapstructure:"state_field"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewViper returns a viper instance with defaults and SHOWCTL_* environment
// overrides, e.g. SHOWCTL_SERVER_ADDR for server.addr.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", ".")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enable", false)
	v.SetDefault("auth.token", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "showctl.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "showctl")
	v.SetDefault("obs.connect_timeout", 5*time.Second)
	v.SetDefault("obs.command_timeout", 10*time.Second)
	v.SetDefault("obs.state_request", "SetCurrentProgramScene")
	v.SetDefault("obs.state_field", "sceneName")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "logfmt")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file set on v, applies SHOWCTL_INSTANCES
// and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// AutomaticEnv would hand the raw JSON to the decoder for the
	// instances key, so the parsed list is set as an override instead.
	if raw := os.Getenv(EnvPrefix + "_INSTANCES"); raw != "" {
		instances, err := ParseInstances(raw)
		if err != nil {
			return nil, err
		}
		v.Set("instances", instanceMaps(instances))
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

// ParseInstances decodes a JSON list of {identifier, url, password}.
func ParseInstances(raw string) ([]model.Instance, error) {
	var instances []model.Instance
	if err := json.Unmarshal([]byte(raw), &instances); err != nil {
		return nil, fmt.Errorf("%s_INSTANCES: %w", EnvPrefix, err)
	}
	return instances, nil
}

func instanceMaps(instances []model.Instance) []map[string]any {
	out := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		out = append(out, map[string]any{
			"identifier": inst.ID,
			"url":        inst.URL,
			"password":   inst.Password,
		})
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Auth.Enable && c.Auth.Token == "" {
		errs = append(errs, errors.New("auth.token is required when auth.enable is set"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not sqlite or redis", c.Store.Driver))
	}
	if c.OBS.ConnectTimeout <= 0 || c.OBS.CommandTimeout <= 0 {
		errs = append(errs, errors.New("obs timeouts must be positive"))
	}
	seen := make(map[string]bool, len(c.Instances))
	for i := range c.Instances {
		if err := c.Instances[i].Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[c.Instances[i].ID] {
			errs = append(errs, fmt.Errorf("instance %s listed twice", c.Instances[i].ID))
		}
		seen[c.Instances[i].ID] = true
	}
	return errors.Join(errs...)
}
