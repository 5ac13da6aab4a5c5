// Package config loads CLI settings from flags, SNOWFLAKE_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/registry"
)

const EnvPrefix = "SNOWFLAKE"

// Registry kinds.
const (
	RegistryNone     = "none"
	RegistryMemory   = "memory"
	RegistryPostgres = "postgres"
	RegistryMySQL    = "mysql"
	RegistryRedis    = "redis"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	WorkerID uint16   `mapstructure:"worker-id"`
	Epoch    int64    `mapstructure:"epoch"`
	DualLane bool     `mapstructure:"dual-lane"`
	Format   string   `mapstructure:"format"`
	LogLevel string   `mapstructure:"log-level"`
	Registry Registry `mapstructure:"registry"`
}

// Registry selects where worker IDs are leased from. Kind "none" uses
// WorkerID as given.
type Registry struct {
	Kind        string        `mapstructure:"kind"`
	DSN         string        `mapstructure:"dsn"`
	RedisAddr   string        `mapstructure:"redis-addr"`
	Prefix      string        `mapstructure:"prefix"`
	Owner       string        `mapstructure:"owner"`
	StaleAfter  time.Duration `mapstructure:"stale-after"`
	TTL         time.Duration `mapstructure:"ttl"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	MaxWorkerID uint16        `mapstructure:"-"`
}

// flag name -> config key
var bindings = map[string]string{
	"config":             "config",
	"worker-id":          "worker-id",
	"epoch":              "epoch",
	"dual-lane":          "dual-lane",
	"format":             "format",
	"log-level":          "log-level",
	"registry":           "registry.kind",
	"dsn":                "registry.dsn",
	"redis-addr":         "registry.redis-addr",
	"registry-prefix":    "registry.prefix",
	"owner":              "registry.owner",
	"stale-after":        "registry.stale-after",
	"lease-ttl":          "registry.ttl",
	"heartbeat-interval": "registry.heartbeat",
}

// RegisterFlags adds every setting to fs. Flag defaults are the built-in
// defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.Uint16("worker-id", 0, "worker ID when no registry is used")
	fs.Int64("epoch", snowflake.DefaultEpoch, "epoch in Unix milliseconds")
	fs.Bool("dual-lane", false, "alternate between worker W and W+512")
	fs.String("format", string(snowflake.FormatDecimal), "ID format: decimal|base58|base64|hex|crockford")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.String("registry", RegistryNone, "worker registry: none|memory|postgres|mysql|redis")
	fs.String("dsn", "", "database DSN for the postgres and mysql registries")
	fs.String("redis-addr", "localhost:6379", "redis address for the redis registry")
	fs.String("registry-prefix", "snowflake", "redis key prefix")
	fs.String("owner", "", "owner recorded with the lease (default host:pid)")
	fs.Duration("stale-after", 30*time.Second, "reclaim SQL workers silent for this long")
	fs.Duration("lease-ttl", 10*time.Second, "redis lease TTL")
	fs.Duration("heartbeat-interval", registry.DefaultHeartbeatInterval, "lease heartbeat interval")
}

// Load resolves the configuration. fs must have been set up with
// RegisterFlags.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for flag, key := range bindings {
		f := fs.Lookup(flag)
		if f == nil {
			return Config{}, fmt.Errorf("config: flag %q not registered", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", flag, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("snowflake")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/snowflake")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Registry.MaxWorkerID = snowflake.MaxWorkerID
	if cfg.DualLane {
		cfg.Registry.MaxWorkerID = snowflake.MaxWorkerID >> 1
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch snowflake.Format(c.Format) {
	case snowflake.FormatDecimal, snowflake.FormatBase58, snowflake.FormatBase64, snowflake.FormatHex, snowflake.FormatCrockford:
	default:
		return fmt.Errorf("%w: format %q", ErrInvalid, c.Format)
	}
	if c.Epoch < 0 {
		return fmt.Errorf("%w: epoch %d", ErrInvalid, c.Epoch)
	}
	switch c.Registry.Kind {
	case RegistryNone:
		if c.WorkerID > c.Registry.MaxWorkerID {
			return fmt.Errorf("%w: worker-id %d exceeds %d", ErrInvalid, c.WorkerID, c.Registry.MaxWorkerID)
		}
	case RegistryMemory, RegistryRedis:
	case RegistryPostgres, RegistryMySQL:
		if c.Registry.DSN == "" {
			return fmt.Errorf("%w: registry %s needs a dsn", ErrInvalid, c.Registry.Kind)
		}
	default:
		return fmt.Errorf("%w: registry %q", ErrInvalid, c.Registry.Kind)
	}
	if c.Registry.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat-interval must be positive", ErrInvalid)
	}
	return nil
}
