package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// ChainConfig holds RPC node configuration
type ChainConfig struct {
	RPCURL               string        `mapstructure:"rpc_url"`
	ChainID              string        `mapstructure:"chain_id"`
	ChunkSize            uint64        `mapstructure:"chunk_size"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second"`
	RequestBurst         int           `mapstructure:"request_burst"`
}

// WatcherConfig holds polling loop and sweep configuration
type WatcherConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SeedOffset      uint64        `mapstructure:"seed_offset"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryCooldown   time.Duration `mapstructure:"retry_cooldown"`
	RetrySchedule   string        `mapstructure:"retry_schedule"`
	GapSchedule     string        `mapstructure:"gap_schedule"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	GapThreshold    uint64        `mapstructure:"gap_threshold"`
	DefaultCoreHub  string        `mapstructure:"default_core_hub"`
	DefaultEscrow   string        `mapstructure:"default_escrow"`
}

// CleanupConfig holds retention configuration for stored events
type CleanupConfig struct {
	DaysToKeep int `mapstructure:"days_to_keep"`
	BatchSize  int `mapstructure:"batch_size"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	WorkerPoolSize  int `mapstructure:"pool_size"`
	WorkerQueueSize int `mapstructure:"queue_size"`
}

// EventLoggerConfig holds configuration for the event-logger service
type EventLoggerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Chain      ChainConfig    `mapstructure:"chain"`
	Watcher    WatcherConfig  `mapstructure:"watcher"`
	Cleanup    CleanupConfig  `mapstructure:"cleanup"`
	Server     ServerConfig   `mapstructure:"server"`
	Worker     WorkerConfig   `mapstructure:"worker"`
}

// LoadEventLoggerConfig loads configuration for event-logger
func LoadEventLoggerConfig(configFile string, envPath string) (*EventLoggerConfig, error) {
	v := configureViper("event-logger", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("chain.chunk_size", 100)
	v.SetDefault("chain.block_head_ttl", "12s")
	v.SetDefault("chain.block_head_stale_window", "60s")
	v.SetDefault("chain.requests_per_second", 10)
	v.SetDefault("watcher.poll_interval", "10s")
	v.SetDefault("watcher.seed_offset", 100)
	v.SetDefault("watcher.max_retries", 3)
	v.SetDefault("watcher.retry_cooldown", "5m")
	v.SetDefault("watcher.retry_schedule", "*/5 * * * *")
	v.SetDefault("watcher.gap_schedule", "0 * * * *")
	v.SetDefault("watcher.cleanup_schedule", "0 3 * * *")
	v.SetDefault("watcher.gap_threshold", 10)
	v.SetDefault("cleanup.days_to_keep", 90)
	v.SetDefault("cleanup.batch_size", 1000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("worker.pool_size", 10)
	v.SetDefault("worker.queue_size", 1024)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use environment variables
	}

	var config EventLoggerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Chain.RPCURL == "" {
		return nil, errors.New("chain.rpc_url is required")
	}

	return &config, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/event-logger/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("FREIGHTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Chain
		"chain.rpc_url",
		"chain.chain_id",
		"chain.chunk_size",
		"chain.block_head_ttl",
		"chain.block_head_stale_window",
		"chain.requests_per_second",
		"chain.request_burst",
		// Watcher
		"watcher.poll_interval",
		"watcher.seed_offset",
		"watcher.max_retries",
		"watcher.retry_cooldown",
		"watcher.retry_schedule",
		"watcher.gap_schedule",
		"watcher.cleanup_schedule",
		"watcher.gap_threshold",
		"watcher.default_core_hub",
		"watcher.default_escrow",
		// Cleanup
		"cleanup.days_to_keep",
		"cleanup.batch_size",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Worker
		"worker.pool_size",
		"worker.queue_size",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
