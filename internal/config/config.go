package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the keyserver.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Admin    AdminConfig
	Keys     KeyConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// AdminConfig holds the credentials that gate the admin API. Both secrets
// empty is valid: the admin API then refuses every request.
type AdminConfig struct {
	Username     string
	Password     string
	PasswordHash string
}

// Configured reports whether an admin secret has been supplied.
func (a AdminConfig) Configured() bool {
	return a.Password != "" || a.PasswordHash != ""
}

type KeyConfig struct {
	GenerateAttempts int
}

var validDrivers = map[string]bool{
	"postgres": true,
	"mongo":    true,
	"redis":    true,
	"memory":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("KEYSERVER_PORT", 8080),
			Env:  envString("KEYSERVER_ENV", "development"),
		},
		Store: StoreConfig{
			Driver: envString("KEYSERVER_STORE", "postgres"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("KEYSERVER_MIGRATIONS_DIR", "migrations"),
		},
		Mongo: MongoConfig{
			URI:        os.Getenv("MONGO_URI"),
			Database:   envString("MONGO_DATABASE", "keyserver"),
			Collection: envString("MONGO_COLLECTION", "licenses"),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			KeyPrefix: envString("REDIS_KEY_PREFIX", "keyserver:"),
		},
		Admin: AdminConfig{
			Username:     envString("ADMIN_USER", "admin"),
			Password:     os.Getenv("ADMIN_PASSWORD"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
		Keys: KeyConfig{
			GenerateAttempts: envInt("KEYSERVER_KEYGEN_ATTEMPTS", 3),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("KEYSERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("KEYSERVER_STORE must be one of postgres, mongo, redis, memory; got %q", c.Store.Driver)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when KEYSERVER_STORE is postgres")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGO_URI is required when KEYSERVER_STORE is mongo")
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when KEYSERVER_STORE is redis")
		}
	}

	if c.Admin.Password != "" && c.Admin.PasswordHash != "" {
		return fmt.Errorf("set only one of ADMIN_PASSWORD and ADMIN_PASSWORD_HASH")
	}
	if c.Keys.GenerateAttempts < 1 {
		return fmt.Errorf("KEYSERVER_KEYGEN_ATTEMPTS must be at least 1, got %d", c.Keys.GenerateAttempts)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
