// Package config loads engine configuration from a YAML file and
// MARKET_-prefixed environment variables, env taking precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Market MarketConfig `mapstructure:"market"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	// DSN empty means run on the in-memory store.
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	// URL empty disables the read-through cache.
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type MarketConfig struct {
	// DefaultLiquidity is the pricing-curve parameter assigned to
	// events created without an explicit one.
	DefaultLiquidity float64 `mapstructure:"default_liquidity"`

	// InitialTopUp is granted to every new account. Zero disables it.
	InitialTopUp int64 `mapstructure:"initial_top_up"`
}

// Load reads the config file at path (skipped when the file does not
// exist) and overlays MARKET_* environment variables, e.g.
// MARKET_DB_DSN or MARKET_MARKET_DEFAULT_LIQUIDITY.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")
	v.SetDefault("market.default_liquidity", 5.0)
	v.SetDefault("market.initial_top_up", 1000)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
