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

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// WorkerConfig holds delivery worker pool configuration
type WorkerConfig struct {
	PoolSize  int `mapstructure:"pool_size"`
	BatchSize int `mapstructure:"batch_size"`
}

// DeliveryConfig holds outbound delivery and retry policy configuration
type DeliveryConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	ClaimLease       time.Duration `mapstructure:"claim_lease"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
}

// APIConfig holds configuration for the admin API server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Auth       AuthConfig     `mapstructure:"auth"`
}

// DispatcherConfig holds configuration for the delivery dispatcher
type DispatcherConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Worker     WorkerConfig   `mapstructure:"worker"`
	Delivery   DeliveryConfig `mapstructure:"delivery"`
}

// EventBridgeConfig holds configuration for the event bridge
type EventBridgeConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
}

// LoadAPIConfig loads configuration for the admin API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	setDatabaseDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg APIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDispatcherConfig loads configuration for the delivery dispatcher
func LoadDispatcherConfig(configFile string, envPath string) (*DispatcherConfig, error) {
	v := configureViper("dispatcher", configFile, envPath)

	setDatabaseDefaults(v)
	v.SetDefault("worker.pool_size", 20)
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("delivery.timeout", "10s")
	v.SetDefault("delivery.sweep_interval", "3s")
	v.SetDefault("delivery.claim_lease", "5m")
	v.SetDefault("delivery.retry_base", "30s")
	v.SetDefault("delivery.retry_max_delay", "1h")
	v.SetDefault("delivery.retry_max_attempts", 5)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg DispatcherConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Delivery.RetryMaxAttempts < 1 {
		return nil, errors.New("delivery.retry_max_attempts must be at least 1")
	}

	return &cfg, nil
}

// LoadEventBridgeConfig loads configuration for the event bridge
func LoadEventBridgeConfig(configFile string, envPath string) (*EventBridgeConfig, error) {
	v := configureViper("event-bridge", configFile, envPath)

	setDatabaseDefaults(v)
	v.SetDefault("nats.stream_name", "WALLET_EVENTS")
	v.SetDefault("nats.consumer_name", "hookrelay-bridge")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 3)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg EventBridgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "10m")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("HOOKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to config struct fields when no config
// file exists.
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
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Worker
		"worker.pool_size",
		"worker.batch_size",
		// Delivery
		"delivery.timeout",
		"delivery.sweep_interval",
		"delivery.claim_lease",
		"delivery.retry_base",
		"delivery.retry_max_delay",
		"delivery.retry_max_attempts",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Shared base first, then local, then optional per-service local
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
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
