package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HTTPPort int    `mapstructure:"http_port"`
	TCPPort  int    `mapstructure:"tcp_port"`
}

type StoreConfig struct {
	// Backend selects the message store: "memory" (process-lifetime, single
	// instance only) or "mongo" (required beyond a single process).
	Backend string `mapstructure:"backend"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	// Addr empty disables the presence mirror.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	// Brokers empty disables event publishing.
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTConfig struct {
	// Keys holds "kid:secret" pairs, comma-separated. Empty disables token
	// checks entirely (development mode: register is trusted as-is).
	Keys      string `mapstructure:"keys"`
	ActiveKid string `mapstructure:"active_kid"`
}

type Config struct {
	App          AppConfig   `mapstructure:"app"`
	Store        StoreConfig `mapstructure:"store"`
	Mongo        MongoConfig `mapstructure:"mongodb"`
	Redis        RedisConfig `mapstructure:"redis"`
	Kafka        KafkaConfig `mapstructure:"kafka"`
	JWT          JWTConfig   `mapstructure:"jwt"`
	RateLimitRPM int         `mapstructure:"rate_limit_rpm"`

	// derived values
	ShutdownTimeout time.Duration
}

// Load reads configuration from an optional file plus environment overrides
// (CHAT_APP_HTTP_PORT and friends) and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "production")
	v.SetDefault("app.http_port", 8080)
	v.SetDefault("app.tcp_port", 9090)
	v.SetDefault("store.backend", "mongo")
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "chat_db")
	v.SetDefault("kafka.topic", "chat.message.persisted")
	v.SetDefault("rate_limit_rpm", 60)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch c.Store.Backend {
	case "memory", "mongo":
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	c.ShutdownTimeout = 10 * time.Second
	return &c, nil
}

// JWTKeyMap parses the "kid:secret,kid2:secret2" key list. An empty list
// returns an empty map (auth disabled).
func (c *Config) JWTKeyMap() (map[string]string, error) {
	keys := map[string]string{}
	for _, pair := range strings.Split(c.JWT.Keys, ",") {
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid jwt.keys entry: %q", pair)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}
