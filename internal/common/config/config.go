package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// BusBackend selects the cross-process broadcast substrate.
type BusBackend string

const (
	BusRedis    BusBackend = "redis"
	BusRabbitMQ BusBackend = "rabbitmq"
)

type Config struct {
	Port        int
	Hostname    string
	ClientURL   string
	SecretKey   string
	RedisURL    string
	Bus         BusBackend
	RabbitMQURL string
	Production  bool
}

// Load reads configuration from the environment, with .env as a convenience
// for local runs. SOCKET_SECRET_KEY and REDIS_URL are mandatory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Port:        3001,
		Hostname:    getEnvOrDefault("HOSTNAME", "0.0.0.0"),
		ClientURL:   getEnvOrDefault("CLIENT_URL", "http://localhost:3000"),
		SecretKey:   os.Getenv("SOCKET_SECRET_KEY"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Bus:         BusBackend(getEnvOrDefault("BUS_BACKEND", string(BusRedis))),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		Production:  os.Getenv("APP_ENV") == "production",
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT must be an integer: %w", err)
		}
		cfg.Port = p
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SOCKET_SECRET_KEY is not defined")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is not defined")
	}

	switch cfg.Bus {
	case BusRedis:
	case BusRabbitMQ:
		if cfg.RabbitMQURL == "" {
			return nil, fmt.Errorf("BUS_BACKEND=rabbitmq requires RABBITMQ_URL")
		}
	default:
		return nil, fmt.Errorf("unknown BUS_BACKEND %q", cfg.Bus)
	}

	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
