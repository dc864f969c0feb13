package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings. Postgres only stores
// the transition history; the service runs without it when disabled.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"POSTGRES_ENABLED"`
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings. Redis carries the feed's
// pub/sub fan-out across instances; a single instance runs without it on the
// in-memory broker.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"REDIS_ENABLED"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// DispatchConfig tunes the dispatch core.
type DispatchConfig struct {
	// TickInterval is the wall-clock length of one simulated ETA minute.
	// Production keeps it at a minute; demos shorten it.
	TickInterval time.Duration `mapstructure:"DISPATCH_TICK_INTERVAL"`
	// DefaultPriority is what the fixed priority policy assigns.
	DefaultPriority string `mapstructure:"DISPATCH_DEFAULT_PRIORITY"`
	// AutoAdvance moves new requests to en_route automatically after
	// AutoAdvanceDelay, for demos with no crew console. Off by default;
	// crews advance explicitly.
	AutoAdvance           bool          `mapstructure:"DISPATCH_AUTO_ADVANCE"`
	AutoAdvanceDelay      time.Duration `mapstructure:"DISPATCH_AUTO_ADVANCE_DELAY"`
	AutoAdvanceEtaMinutes int           `mapstructure:"DISPATCH_AUTO_ADVANCE_ETA_MINUTES"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_ENABLED", false)
	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "ambutrack")
	viper.SetDefault("POSTGRES_PASSWORD", "ambutrack_secret")
	viper.SetDefault("POSTGRES_DB", "ambutrack_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("POSTGRES_MIN_CONNS", 2)

	viper.SetDefault("REDIS_ENABLED", false)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 50)

	viper.SetDefault("DISPATCH_TICK_INTERVAL", "60s")
	viper.SetDefault("DISPATCH_DEFAULT_PRIORITY", "medium")
	viper.SetDefault("DISPATCH_AUTO_ADVANCE", false)
	viper.SetDefault("DISPATCH_AUTO_ADVANCE_DELAY", "10s")
	viper.SetDefault("DISPATCH_AUTO_ADVANCE_ETA_MINUTES", 15)

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Enabled:  viper.GetBool("POSTGRES_ENABLED"),
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Enabled:  viper.GetBool("REDIS_ENABLED"),
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Dispatch ────────────────────────────────────────
	cfg.Dispatch = DispatchConfig{
		TickInterval:          viper.GetDuration("DISPATCH_TICK_INTERVAL"),
		DefaultPriority:       viper.GetString("DISPATCH_DEFAULT_PRIORITY"),
		AutoAdvance:           viper.GetBool("DISPATCH_AUTO_ADVANCE"),
		AutoAdvanceDelay:      viper.GetDuration("DISPATCH_AUTO_ADVANCE_DELAY"),
		AutoAdvanceEtaMinutes: viper.GetInt("DISPATCH_AUTO_ADVANCE_ETA_MINUTES"),
	}

	return cfg, nil
}
