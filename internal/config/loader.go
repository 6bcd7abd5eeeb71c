package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/labframe/internal/db"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Catalog CatalogConfig
	Samples SamplesConfig
	CORS    CORSConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	Driver     string
	SQLitePath string
	Postgres   db.Config
}

type CatalogConfig struct {
	SeedFile string
}

type SamplesConfig struct {
	HistoryMaxLimit int
	// PreparedOnFutureTolerance is nil when future dates are not checked.
	PreparedOnFutureTolerance *time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level       string
	Development bool
}

// Load reads config.yaml from configPath when present, then applies
// LABFRAME_ environment overrides (LABFRAME_STORAGE_DRIVER, ...).
// LABFRAME_DB_PATH is accepted for the SQLite file location.
func Load(configPath string) (Config, error) {
	dbDefaults := db.DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("LABFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "./db/database.sqlite")
	v.SetDefault("storage.postgres.host", dbDefaults.Host)
	v.SetDefault("storage.postgres.port", dbDefaults.Port)
	v.SetDefault("storage.postgres.user", dbDefaults.User)
	v.SetDefault("storage.postgres.password", dbDefaults.Password)
	v.SetDefault("storage.postgres.dbname", dbDefaults.DBName)
	v.SetDefault("storage.postgres.sslmode", dbDefaults.SSLMode)
	v.SetDefault("storage.postgres.max_conns", 5)
	v.SetDefault("catalog.seed_file", "")
	v.SetDefault("samples.history_max_limit", 200)
	v.SetDefault("samples.prepared_on_future_tolerance", "")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if err := v.BindEnv("storage.sqlite_path", "LABFRAME_DB_PATH", "LABFRAME_STORAGE_SQLITE_PATH"); err != nil {
		return Config{}, fmt.Errorf("failed to bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Storage: StorageConfig{
			Driver:     strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
			SQLitePath: v.GetString("storage.sqlite_path"),
			Postgres: db.Config{
				Host:     v.GetString("storage.postgres.host"),
				Port:     v.GetInt("storage.postgres.port"),
				User:     v.GetString("storage.postgres.user"),
				Password: v.GetString("storage.postgres.password"),
				DBName:   v.GetString("storage.postgres.dbname"),
				SSLMode:  v.GetString("storage.postgres.sslmode"),
				MaxConns: v.GetInt32("storage.postgres.max_conns"),
			},
		},
		Catalog: CatalogConfig{
			SeedFile: v.GetString("catalog.seed_file"),
		},
		Samples: SamplesConfig{
			HistoryMaxLimit: v.GetInt("samples.history_max_limit"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}

	if raw := strings.TrimSpace(v.GetString("samples.prepared_on_future_tolerance")); raw != "" {
		tolerance, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid samples.prepared_on_future_tolerance: %w", err)
		}
		cfg.Samples.PreparedOnFutureTolerance = &tolerance
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Samples.HistoryMaxLimit < 1 {
		return errors.New("samples.history_max_limit must be positive")
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
