package config

import "time"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type ServerConfig struct {
	Address         string                `mapstructure:"address" validate:"required"`
	LogLevel        string                `mapstructure:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat       string                `mapstructure:"logFormat" validate:"oneof=json text"`
	Auth            AuthConfig            `mapstructure:"auth"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret" validate:"required,min=16"`
	// RequireSocketAuth rejects socket upgrades without a valid token. The
	// REST surface always requires one.
	RequireSocketAuth bool `mapstructure:"requireSocketAuth"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser" validate:"gte=0"`
	Mode       string `mapstructure:"mode" validate:"oneof=reject cycle"`
}

type TransportConfig struct {
	Path            string        `mapstructure:"path" validate:"required,startswith=/"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" validate:"gte=0"`
	PingInterval    time.Duration `mapstructure:"pingInterval" validate:"gte=0"`
	PingTimeout     time.Duration `mapstructure:"pingTimeout" validate:"gte=0"`
	SendBuffer      int           `mapstructure:"sendBuffer" validate:"gte=1"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes" validate:"gte=512"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

type BrokerConfig struct {
	// Lazy defers construction to the first probe or connection.
	Lazy      bool `mapstructure:"lazy"`
	QueueSize int  `mapstructure:"queueSize" validate:"gte=1"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}
