package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Database  DatabaseConfig
	Breaker   BreakerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	InternalToken   string                `mapstructure:"internalToken"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	AllowedOrigins  []string              `mapstructure:"allowedOrigins"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwtSecret"`
	TokenParam string `mapstructure:"tokenParam"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	PingInterval   time.Duration   `mapstructure:"pingInterval"` // 0 disables keepalive pings
	WriteTimeout   time.Duration   `mapstructure:"writeTimeout"`
	SendBuffer     int             `mapstructure:"sendBuffer"`
	MaxMessageSize int64           `mapstructure:"maxMessageSize"`
	RateLimit      RateLimitConfig `mapstructure:"rateLimit"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"perSecond"`
	Burst     int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"maxRequests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutiveFailures"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate reports the first setting that would make the server unusable.
func (c *Config) Validate() error {
	if c.Server.Auth.JWTSecret == "" {
		return errors.New("server.auth.jwtSecret must be set")
	}
	if c.Server.Auth.TokenParam == "" {
		return errors.New("server.auth.tokenParam must be set")
	}
	if c.Transport.WriteTimeout <= 0 {
		return errors.New("transport.writeTimeout must be positive")
	}
	if c.Transport.PingInterval < 0 {
		return errors.New("transport.pingInterval must not be negative")
	}
	if c.Transport.SendBuffer <= 0 {
		return errors.New("transport.sendBuffer must be positive")
	}
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid server.connectionLimit.mode %q", c.Server.ConnectionLimit.Mode)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must be set")
	}
	return nil
}
