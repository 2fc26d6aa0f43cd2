package config

import "time"

type Config struct {
	Server      ServerConfig
	Transport   TransportConfig
	Lock        LockConfig
	Content     ContentConfig
	Logger      LoggerConfig
	Telemetry   TelemetryConfig
	Permissions []string `mapstructure:"permissions"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

type LockConfig struct {
	DefaultTTL time.Duration `mapstructure:"defaultTTL"`
	MaxTTL     time.Duration `mapstructure:"maxTTL"`
}

// ContentConfig points the content-store collaborator at Redis. An empty URL
// disables the lookup and every content id is treated as valid.
type ContentConfig struct {
	RedisURL     string        `mapstructure:"redisURL"`
	KeyPrefix    string        `mapstructure:"keyPrefix"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	PoolSize     int           `mapstructure:"poolSize"`
	PingTimeout  time.Duration `mapstructure:"pingTimeout"`
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
}
