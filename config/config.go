// Package config loads and validates the service configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"

	minJWTLength = 32
)

// Persistence backends for notification records.
const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

// Push presentation providers.
const (
	PushProviderExpo = "expo"
	PushProviderSNS  = "sns"
	PushProviderNone = "none"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
	JwtSecretKey   string      `mapstructure:"JWT_SECRET_KEY" yaml:"jwt_secret_key"`
}

// DatabaseConfig holds PostgreSQL connection details.
type DatabaseConfig struct {
	Host           string `mapstructure:"HOST" yaml:"host"`
	Port           int    `mapstructure:"PORT" yaml:"port"`
	User           string `mapstructure:"USER" yaml:"user"`
	Password       string `mapstructure:"PASSWORD" yaml:"password"`
	Name           string `mapstructure:"NAME" yaml:"name"`
	SSLMode        string `mapstructure:"SSL_MODE" yaml:"ssl_mode"`
	MaxConnections int    `mapstructure:"MAX_CONNECTIONS" yaml:"max_connections"`
	MinConnections int    `mapstructure:"MIN_CONNECTIONS" yaml:"min_connections"`
	ConnMaxLife    string `mapstructure:"CONN_MAX_LIFE" yaml:"conn_max_life"`
}

// URL returns a postgres:// connection URL for pgx and golang-migrate.
func (c *DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
}

// SupabaseConfig points at the hosted PostgREST API.
type SupabaseConfig struct {
	URL        string `mapstructure:"URL" yaml:"url"`
	ServiceKey string `mapstructure:"SERVICE_KEY" yaml:"service_key"`
}

// Enabled reports whether both the URL and the service key are set.
func (s SupabaseConfig) Enabled() bool {
	return s.URL != "" && s.ServiceKey != ""
}

// EventServiceConfig holds configuration for the Redis-based event service.
type EventServiceConfig struct {
	// Timeout for publishing a single event to Redis (in seconds)
	PublishTimeoutSeconds int `mapstructure:"PUBLISH_TIMEOUT_SECONDS" yaml:"publish_timeout_seconds"`
	// Timeout for establishing a subscription (in seconds)
	SubscribeTimeoutSeconds int `mapstructure:"SUBSCRIBE_TIMEOUT_SECONDS" yaml:"subscribe_timeout_seconds"`
	// Buffer size for the channel delivering events to a single subscriber
	EventBufferSize int `mapstructure:"EVENT_BUFFER_SIZE" yaml:"event_buffer_size"`
}

// NotificationConfig tunes the per-session inbox.
type NotificationConfig struct {
	// FetchLimit caps the newest-first window loaded on bind and refetch.
	FetchLimit int `mapstructure:"FETCH_LIMIT" yaml:"fetch_limit"`
	// RetentionDays is the visibility window of decaying notification types.
	RetentionDays int `mapstructure:"RETENTION_DAYS" yaml:"retention_days"`
	// InsertBuffer is the capacity of the realtime insert channel per session.
	InsertBuffer int `mapstructure:"INSERT_BUFFER" yaml:"insert_buffer"`
	// CategoryMappingFile optionally replaces the type to category table.
	CategoryMappingFile string `mapstructure:"CATEGORY_MAPPING_FILE" yaml:"category_mapping_file"`
	// Backend selects the persistence collaborator: postgres or supabase.
	Backend string `mapstructure:"BACKEND" yaml:"backend"`
}

// PushConfig selects the system push presenter.
type PushConfig struct {
	Provider       string `mapstructure:"PROVIDER" yaml:"provider"`
	ExpoURL        string `mapstructure:"EXPO_URL" yaml:"expo_url"`
	ExpoAccessKey  string `mapstructure:"EXPO_ACCESS_TOKEN" yaml:"expo_access_token"`
	SNSRegion      string `mapstructure:"SNS_REGION" yaml:"sns_region"`
	TimeoutSeconds int    `mapstructure:"TIMEOUT_SECONDS" yaml:"timeout_seconds"`
}

// WorkerPoolConfig holds configuration for the push dispatch worker pool.
type WorkerPoolConfig struct {
	// MaxWorkers is the number of concurrent workers (default: 10)
	MaxWorkers int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	// QueueSize is the maximum number of pending jobs (default: 1000)
	QueueSize int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	// ShutdownTimeoutSeconds is the max time to wait for workers during shutdown (default: 30)
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server       ServerConfig       `mapstructure:"SERVER" yaml:"server"`
	Database     DatabaseConfig     `mapstructure:"DATABASE" yaml:"database"`
	Redis        RedisConfig        `mapstructure:"REDIS" yaml:"redis"`
	Supabase     SupabaseConfig     `mapstructure:"SUPABASE" yaml:"supabase"`
	EventService EventServiceConfig `mapstructure:"EVENT_SERVICE" yaml:"event_service"`
	Notification NotificationConfig `mapstructure:"NOTIFICATION" yaml:"notification"`
	Push         PushConfig         `mapstructure:"PUSH" yaml:"push"`
	WorkerPool   WorkerPoolConfig   `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.VERSION", "dev")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.NAME", "eventcrew_dev")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.MAX_CONNECTIONS", 10)
	v.SetDefault("DATABASE.MIN_CONNECTIONS", 1)
	v.SetDefault("DATABASE.CONN_MAX_LIFE", "1h")
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("SUPABASE.URL", "")
	v.SetDefault("SUPABASE.SERVICE_KEY", "")
	v.SetDefault("EVENT_SERVICE.PUBLISH_TIMEOUT_SECONDS", 5)
	v.SetDefault("EVENT_SERVICE.SUBSCRIBE_TIMEOUT_SECONDS", 10)
	v.SetDefault("EVENT_SERVICE.EVENT_BUFFER_SIZE", 100)
	v.SetDefault("NOTIFICATION.FETCH_LIMIT", 100)
	v.SetDefault("NOTIFICATION.RETENTION_DAYS", 7)
	v.SetDefault("NOTIFICATION.INSERT_BUFFER", 64)
	v.SetDefault("NOTIFICATION.CATEGORY_MAPPING_FILE", "")
	v.SetDefault("NOTIFICATION.BACKEND", BackendPostgres)
	v.SetDefault("PUSH.PROVIDER", PushProviderNone)
	v.SetDefault("PUSH.EXPO_URL", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("PUSH.EXPO_ACCESS_TOKEN", "")
	v.SetDefault("PUSH.SNS_REGION", "us-east-1")
	v.SetDefault("PUSH.TIMEOUT_SECONDS", 10)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 10)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 1000)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
}

var envBindings = [][2]string{
	{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
	{"SERVER.PORT", "PORT"},
	{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
	{"SERVER.VERSION", "VERSION"},
	{"SERVER.JWT_SECRET_KEY", "JWT_SECRET_KEY"},
	{"DATABASE.HOST", "DB_HOST"},
	{"DATABASE.PORT", "DB_PORT"},
	{"DATABASE.USER", "DB_USER"},
	{"DATABASE.PASSWORD", "DB_PASSWORD"},
	{"DATABASE.NAME", "DB_NAME"},
	{"DATABASE.SSL_MODE", "DB_SSL_MODE"},
	{"DATABASE.MAX_CONNECTIONS", "DB_MAX_CONNECTIONS"},
	{"REDIS.ADDRESS", "REDIS_ADDRESS"},
	{"REDIS.PASSWORD", "REDIS_PASSWORD"},
	{"REDIS.DB", "REDIS_DB"},
	{"REDIS.USE_TLS", "REDIS_USE_TLS"},
	{"SUPABASE.URL", "SUPABASE_URL"},
	{"SUPABASE.SERVICE_KEY", "SUPABASE_SERVICE_KEY"},
	{"EVENT_SERVICE.PUBLISH_TIMEOUT_SECONDS", "EVENT_SERVICE_PUBLISH_TIMEOUT_SECONDS"},
	{"EVENT_SERVICE.SUBSCRIBE_TIMEOUT_SECONDS", "EVENT_SERVICE_SUBSCRIBE_TIMEOUT_SECONDS"},
	{"EVENT_SERVICE.EVENT_BUFFER_SIZE", "EVENT_SERVICE_EVENT_BUFFER_SIZE"},
	{"NOTIFICATION.FETCH_LIMIT", "NOTIFICATION_FETCH_LIMIT"},
	{"NOTIFICATION.RETENTION_DAYS", "NOTIFICATION_RETENTION_DAYS"},
	{"NOTIFICATION.INSERT_BUFFER", "NOTIFICATION_INSERT_BUFFER"},
	{"NOTIFICATION.CATEGORY_MAPPING_FILE", "NOTIFICATION_CATEGORY_MAPPING_FILE"},
	{"NOTIFICATION.BACKEND", "NOTIFICATION_BACKEND"},
	{"PUSH.PROVIDER", "PUSH_PROVIDER"},
	{"PUSH.EXPO_URL", "PUSH_EXPO_URL"},
	{"PUSH.EXPO_ACCESS_TOKEN", "PUSH_EXPO_ACCESS_TOKEN"},
	{"PUSH.SNS_REGION", "PUSH_SNS_REGION"},
	{"PUSH.TIMEOUT_SECONDS", "PUSH_TIMEOUT_SECONDS"},
	{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
	{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
	{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
}

// LoadConfig reads an optional .env file (path from ENV_FILE, default ".env"),
// then resolves every key from the environment over the defaults and validates
// the result.
func LoadConfig() (*Config, error) {
	log := logger.GetLogger()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		log.Debugw("No env file found, using process environment", "path", envFile)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", v.GetString("SERVER.ENVIRONMENT"),
		"server_port", v.GetString("SERVER.PORT"),
		"db_host", v.GetString("DATABASE.HOST"),
		"notification_backend", v.GetString("NOTIFICATION.BACKEND"),
		"push_provider", v.GetString("PUSH.PROVIDER"),
		"fetch_limit", v.GetInt("NOTIFICATION.FETCH_LIMIT"),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	log := logger.GetLogger()

	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if len(cfg.Server.JwtSecretKey) < minJWTLength {
		return fmt.Errorf("JWT secret key must be at least %d characters long", minJWTLength)
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}

	switch cfg.Notification.Backend {
	case BackendPostgres:
		if cfg.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if cfg.Database.Password == "" {
			log.Warn("Database password is not set. Ensure this is intended (e.g., using trusted auth).")
		}
	case BackendSupabase:
		if !cfg.Supabase.Enabled() {
			return fmt.Errorf("supabase URL and service key are required for the supabase backend")
		}
		if _, err := url.ParseRequestURI(cfg.Supabase.URL); err != nil {
			return fmt.Errorf("invalid supabase URL: %w", err)
		}
	default:
		return fmt.Errorf("unknown notification backend %q", cfg.Notification.Backend)
	}

	if cfg.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}
	if cfg.Redis.Password == "" && cfg.Redis.UseTLS {
		log.Warn("Redis password is not set, but TLS is enabled. Ensure this is correct for your Redis provider.")
	}

	if cfg.EventService.PublishTimeoutSeconds <= 0 {
		return fmt.Errorf("event service publish timeout must be positive")
	}
	if cfg.EventService.SubscribeTimeoutSeconds <= 0 {
		return fmt.Errorf("event service subscribe timeout must be positive")
	}
	if cfg.EventService.EventBufferSize <= 0 {
		return fmt.Errorf("event service buffer size must be positive")
	}

	if cfg.Notification.FetchLimit <= 0 {
		return fmt.Errorf("notification fetch limit must be positive")
	}
	if cfg.Notification.RetentionDays <= 0 {
		return fmt.Errorf("notification retention days must be positive")
	}
	if cfg.Notification.InsertBuffer <= 0 {
		return fmt.Errorf("notification insert buffer must be positive")
	}

	if err := validatePushConfig(&cfg.Push); err != nil {
		return err
	}

	if cfg.WorkerPool.MaxWorkers <= 0 {
		return fmt.Errorf("worker pool max workers must be positive")
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue size must be positive")
	}
	if cfg.WorkerPool.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("worker pool shutdown timeout must be positive")
	}

	return nil
}

func validatePushConfig(cfg *PushConfig) error {
	switch cfg.Provider {
	case PushProviderNone:
		return nil
	case PushProviderExpo:
		if _, err := url.ParseRequestURI(cfg.ExpoURL); err != nil {
			return fmt.Errorf("invalid expo push URL: %w", err)
		}
	case PushProviderSNS:
		if cfg.SNSRegion == "" {
			return fmt.Errorf("sns region is required for the sns push provider")
		}
	default:
		return fmt.Errorf("unknown push provider %q", cfg.Provider)
	}
	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("push timeout must be positive")
	}
	return nil
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
