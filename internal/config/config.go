package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/obsgate/backend/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. OBSGATE_SERVER_PORT.
const EnvPrefix = "OBSGATE_"

type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	WebSocket WebSocketConfig `yaml:"websocket" envPrefix:"WEBSOCKET_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Sysmon    SysmonConfig    `yaml:"sysmon" envPrefix:"SYSMON_"`
	Logging   logging.Config  `yaml:"logging" envPrefix:"LOGGING_"`
}

type ServerConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Host string `yaml:"host" env:"HOST"`
	// AllowedOrigins lists extra browser origins besides same-host and loopback.
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxConnections  int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type WebSocketConfig struct {
	SendBuffer      int           `yaml:"send_buffer" env:"SEND_BUFFER"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongTimeout     time.Duration `yaml:"pong_timeout" env:"PONG_TIMEOUT"`
	// RateLimit is the sustained inbound messages per second per connection.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

type AuthConfig struct {
	// Tokens maps an access token to the user it authenticates.
	Tokens    map[string]string `yaml:"tokens" env:"TOKENS"`
	JWTSecret string            `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string            `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

// RedisConfig enables cross-replica fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Channel  string `yaml:"channel" env:"CHANNEL"`
}

type SysmonConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			MaxConnections:  1024,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			SendBuffer:      256,
			MaxMessageBytes: 64 << 10,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Redis: RedisConfig{
			Channel: "obsgate:events",
		},
		Sysmon: SysmonConfig{
			Enabled:  true,
			Interval: 15 * time.Second,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, applies OBSGATE_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConnections < 1 {
		errs = append(errs, errors.New("server.max_connections must be positive"))
	}
	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.WebSocket.MaxMessageBytes < 1 {
		errs = append(errs, errors.New("websocket.max_message_bytes must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		errs = append(errs, errors.New("websocket.ping_interval must be positive and shorter than pong_timeout"))
	}
	if c.WebSocket.RateLimit <= 0 || c.WebSocket.RateBurst < 1 {
		errs = append(errs, errors.New("websocket.rate_limit and rate_burst must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis.channel is required when redis.addr is set"))
	}
	if c.Sysmon.Enabled && c.Sysmon.Interval <= 0 {
		errs = append(errs, errors.New("sysmon.interval must be positive"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
