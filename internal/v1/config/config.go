package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config holds validated environment configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Port            string `env:"PORT" envDefault:"8080"`
	GoEnv           string `env:"GO_ENV" envDefault:"production"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	DevelopmentMode bool   `env:"DEVELOPMENT_MODE" envDefault:"false"`
	AllowedOrigins  string `env:"ALLOWED_ORIGINS"`

	// Wire protocol
	Codec string `env:"CODEC" envDefault:"json"`

	// Engine cadence
	EngineRate     time.Duration `env:"ENGINE_RATE" envDefault:"50ms"`
	PhysicsRate    time.Duration `env:"PHYSICS_RATE" envDefault:"16ms"`
	StartupTimeout time.Duration `env:"STARTUP_TIMEOUT" envDefault:"60s"`

	// World geometry
	WorldWidth    float64 `env:"WORLD_WIDTH" envDefault:"10000"`
	WorldHeight   float64 `env:"WORLD_HEIGHT" envDefault:"10000"`
	PartitionSize float64 `env:"PARTITION_SIZE" envDefault:"1000"`
	CellSize      float64 `env:"CELL_SIZE" envDefault:"100"`

	// Rooms
	RoomCapacity int `env:"ROOM_CAPACITY" envDefault:"100"`

	// Shared infrastructure (multi-process mode)
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	ProcessID     string `env:"PROCESS_ID"`
	QueueName     string `env:"QUEUE_NAME" envDefault:"message-queue"`
	NotifyChannel string `env:"NOTIFY_CHANNEL" envDefault:"message-distribute"`

	// Rate limiting (format: <count>-<period>, e.g. "100-M")
	RateLimitWsIp string `env:"RATE_LIMIT_WS_IP" envDefault:"100-M"`

	// Tracing
	TracingEnabled    bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OtelCollectorAddr string `env:"OTEL_COLLECTOR_ADDR" envDefault:"localhost:4317"`
}

// Load parses environment variables into a Config and validates it.
// Returns an error listing every invalid variable, not just the first.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	if cfg.EngineRate <= 0 {
		errors = append(errors, fmt.Sprintf("ENGINE_RATE must be positive (got %s)", cfg.EngineRate))
	}
	if cfg.PhysicsRate <= 0 {
		errors = append(errors, fmt.Sprintf("PHYSICS_RATE must be positive (got %s)", cfg.PhysicsRate))
	}
	if cfg.StartupTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("STARTUP_TIMEOUT must be positive (got %s)", cfg.StartupTimeout))
	}

	if cfg.WorldWidth <= 0 || cfg.WorldHeight <= 0 {
		errors = append(errors, fmt.Sprintf("WORLD_WIDTH and WORLD_HEIGHT must be positive (got %gx%g)", cfg.WorldWidth, cfg.WorldHeight))
	}
	if cfg.PartitionSize <= 0 {
		errors = append(errors, fmt.Sprintf("PARTITION_SIZE must be positive (got %g)", cfg.PartitionSize))
	} else if cfg.PartitionSize > cfg.WorldWidth || cfg.PartitionSize > cfg.WorldHeight {
		errors = append(errors, fmt.Sprintf("PARTITION_SIZE (%g) must not exceed the world dimensions (%gx%g)", cfg.PartitionSize, cfg.WorldWidth, cfg.WorldHeight))
	}
	if cfg.CellSize <= 0 {
		errors = append(errors, fmt.Sprintf("CELL_SIZE must be positive (got %g)", cfg.CellSize))
	} else if cfg.PartitionSize > 0 && cfg.CellSize > cfg.PartitionSize {
		errors = append(errors, fmt.Sprintf("CELL_SIZE (%g) must not exceed PARTITION_SIZE (%g)", cfg.CellSize, cfg.PartitionSize))
	}

	if cfg.RoomCapacity < 1 {
		errors = append(errors, fmt.Sprintf("ROOM_CAPACITY must be at least 1 (got %d)", cfg.RoomCapacity))
	}

	if cfg.RedisEnabled {
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		if cfg.QueueName == "" {
			errors = append(errors, "QUEUE_NAME must not be empty when REDIS_ENABLED=true")
		}
		if cfg.NotifyChannel == "" {
			errors = append(errors, "NOTIFY_CHANNEL must not be empty when REDIS_ENABLED=true")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error (got '%s')", cfg.LogLevel))
	}

	// Each process needs a stable identity for bridge loopback filtering.
	if cfg.ProcessID == "" {
		cfg.ProcessID = uuid.NewString()
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"codec", cfg.Codec,
		"engine_rate", cfg.EngineRate,
		"physics_rate", cfg.PhysicsRate,
		"world", fmt.Sprintf("%gx%g", cfg.WorldWidth, cfg.WorldHeight),
		"partition_size", cfg.PartitionSize,
		"cell_size", cfg.CellSize,
		"room_capacity", cfg.RoomCapacity,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"process_id", cfg.ProcessID,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
