// Package config loads teamflowd settings from defaults, an optional YAML
// file, a .env file and TEAMFLOW_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "TEAMFLOW"

// DevJWTSecret is the default signing secret. Fine for local runs only.
const DevJWTSecret = "teamflow-dev-secret-change-me"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.logFormat", "json")
	v.SetDefault("server.auth.jwtSecret", DevJWTSecret)
	v.SetDefault("server.auth.requireSocketAuth", false)
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")

	v.SetDefault("transport.path", "/api/socket")
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.pingInterval", "25s")
	v.SetDefault("transport.pingTimeout", "20s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.maxMessageBytes", 65536)
	v.SetDefault("transport.allowedOrigins", []string{})

	v.SetDefault("broker.lazy", true)
	v.SetDefault("broker.queueSize", 1024)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "teamflow.db")
}

// Load builds the configuration. With an empty path, config.yaml in the
// working directory is used if present; an explicit path must exist.
func Load(logger *slog.Logger, path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		logger.Debug("Config file not found, relying on defaults and env vars")
	} else {
		logger.Info("Loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Auth.JWTSecret == DevJWTSecret {
		logger.Warn("Using the development JWT secret; set TEAMFLOW_SERVER_AUTH_JWTSECRET")
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints on cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
