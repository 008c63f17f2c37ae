package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "OA_"

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     string          `yaml:"store" validate:"oneof=postgres memory"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Seed      bool            `yaml:"seed"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"oneof=development staging production test"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	GRPCPort        int           `yaml:"grpc_port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns" validate:"min=1"`
	MinConns    int32         `yaml:"min_conns" validate:"min=0"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
}

type CacheConfig struct {
	Driver        string        `yaml:"driver" validate:"oneof=memory redis"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPassword string        `yaml:"redis_password"`
	TTL           time.Duration `yaml:"ttl"`
}

type EventsConfig struct {
	Driver        string `yaml:"driver" validate:"oneof=none nats gochannel"`
	NATSURL       string `yaml:"nats_url" validate:"required_if=Driver nats"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"required"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Enabled true"`
	Insecure     bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "oa-approvals",
			Version:     "0.1.0",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			GRPCPort:        9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Password:    "postgres",
			Database:    "oa",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
		},
		Auth: AuthConfig{
			JWTSecret: "change-me-in-production-please",
			TokenTTL:  12 * time.Hour,
		},
		Store: "postgres",
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    5 * time.Minute,
		},
		Events: EventsConfig{
			Driver:        "none",
			SubjectPrefix: "notifications.oa",
		},
		Log:  LogConfig{Level: "info"},
		Seed: true,
	}
}

// Load reads configuration from defaults, then the optional YAML file at path,
// then OA_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVICE_NAME":       &cfg.Service.Name,
		"SERVICE_VERSION":    &cfg.Service.Version,
		"ENVIRONMENT":        &cfg.Service.Environment,
		"DB_HOST":            &cfg.Database.Host,
		"DB_USER":            &cfg.Database.User,
		"DB_PASSWORD":        &cfg.Database.Password,
		"DB_NAME":            &cfg.Database.Database,
		"DB_SSLMODE":         &cfg.Database.SSLMode,
		"JWT_SECRET":         &cfg.Auth.JWTSecret,
		"STORE":              &cfg.Store,
		"CACHE_DRIVER":       &cfg.Cache.Driver,
		"REDIS_ADDR":         &cfg.Cache.RedisAddr,
		"REDIS_PASSWORD":     &cfg.Cache.RedisPassword,
		"EVENTS_DRIVER":      &cfg.Events.Driver,
		"NATS_URL":           &cfg.Events.NATSURL,
		"EVENTS_PREFIX":      &cfg.Events.SubjectPrefix,
		"OTEL_OTLP_ENDPOINT": &cfg.Telemetry.OTLPEndpoint,
		"LOG_LEVEL":          &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_PORT": &cfg.Server.Port,
		"GRPC_PORT": &cfg.Server.GRPCPort,
		"DB_PORT":   &cfg.Database.Port,
		"REDIS_DB":  &cfg.Cache.RedisDB,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":        &cfg.Auth.TokenTTL,
		"CACHE_TTL":        &cfg.Cache.TTL,
		"REQUEST_TIMEOUT":  &cfg.Server.RequestTimeout,
		"SHUTDOWN_TIMEOUT": &cfg.Server.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"SEED":               &cfg.Seed,
		"TELEMETRY_ENABLED":  &cfg.Telemetry.Enabled,
		"TELEMETRY_INSECURE": &cfg.Telemetry.Insecure,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	return nil
}
