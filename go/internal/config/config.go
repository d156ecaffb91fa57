// Package config loads the settings shared by the relay and the tools: an
// optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/natsbackend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/pgbackend"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
)

type Config struct {
	LogLevel string   `yaml:"log_level"`
	Backend  string   `yaml:"backend"`
	Relay    Relay    `yaml:"relay"`
	NATS     NATS     `yaml:"nats"`
	Postgres Postgres `yaml:"postgres"`
}

type Relay struct {
	Addr         string        `yaml:"addr"`
	Advertise    bool          `yaml:"advertise"`
	Instance     string        `yaml:"instance"`
	SendBuffer   int           `yaml:"send_buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type NATS struct {
	URL           string        `yaml:"url"`
	Bucket        string        `yaml:"bucket"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxAge        time.Duration `yaml:"max_age"`
	Replicas      int           `yaml:"replicas"`
}

type Postgres struct {
	NotifyChannel    string        `yaml:"notify_channel"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
	StrokeBatchSize  int32         `yaml:"stroke_batch_size"`
}

// Default returns a config that runs a relay on :8080 over the in-memory
// backend.
func Default() Config {
	nc := natsbackend.DefaultConfig()
	pc := pgbackend.DefaultConfig()
	return Config{
		LogLevel: "info",
		Backend:  BackendMemory,
		Relay: Relay{
			Addr:         ":8080",
			Advertise:    true,
			Instance:     hostname(),
			SendBuffer:   1024,
			PingInterval: 30 * time.Second,
		},
		NATS: NATS{
			URL:           nc.URL,
			Bucket:        nc.Bucket,
			Stream:        nc.StreamName,
			SubjectPrefix: nc.SubjectPrefix,
			MaxAge:        nc.MaxAge,
			Replicas:      nc.Replicas,
		},
		Postgres: Postgres{
			NotifyChannel:    pc.NotifyChannel,
			FallbackInterval: pc.FallbackInterval,
			StrokeBatchSize:  pc.StrokeBatchSize,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Backend = getEnv("DWF_BACKEND", c.Backend)
	if port := os.Getenv("PORT"); port != "" {
		c.Relay.Addr = ":" + port
	}
	c.Relay.Advertise = getEnvAsBool("DWF_ADVERTISE", c.Relay.Advertise)
	c.Relay.Instance = getEnv("DWF_INSTANCE", c.Relay.Instance)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Replicas = getEnvAsInt("NATS_REPLICAS", c.NATS.Replicas)
}

func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	switch c.Backend {
	case BackendMemory, BackendNATS, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Relay.Addr == "" {
		return fmt.Errorf("relay addr is required")
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay send_buffer must be positive, got %d", c.Relay.SendBuffer)
	}
	return nil
}

// Level is the parsed log level. Validate has already checked it.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// NATSConfig fills a natsbackend config from the file settings.
func (c Config) NATSConfig() natsbackend.Config {
	nc := natsbackend.DefaultConfig()
	nc.URL = c.NATS.URL
	nc.Bucket = c.NATS.Bucket
	nc.StreamName = c.NATS.Stream
	nc.SubjectPrefix = c.NATS.SubjectPrefix
	nc.MaxAge = c.NATS.MaxAge
	nc.Replicas = c.NATS.Replicas
	return nc
}

// PostgresConfig fills a pgbackend config. dsn comes from dbconfig.
func (c Config) PostgresConfig(dsn string) pgbackend.Config {
	pc := pgbackend.DefaultConfig()
	pc.DatabaseURL = dsn
	pc.NotifyChannel = c.Postgres.NotifyChannel
	pc.FallbackInterval = c.Postgres.FallbackInterval
	pc.StrokeBatchSize = c.Postgres.StrokeBatchSize
	return pc
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "drawwithfriends"
	}
	return name
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
