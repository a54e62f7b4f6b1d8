package config

import "time"

// Default polling knobs shared by the daemon and the CLI.
const (
	DefaultPollInterval    = 3000 * time.Millisecond
	DefaultPollMaxFailures = 5
	DefaultVercelAPIURL    = "https://api.vercel.com"
)

// DaemonConfig holds runtime configuration for the deploywatch daemon.
type DaemonConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	DatabaseURL        string
	MigrationsDir      string
	AutoMigrate        bool
	JWTSecret          string
	TokenEncryptionKey string
	VercelAPIURL       string
	HTTPTimeout        time.Duration
	PollInterval       time.Duration
	PollMaxFailures    int
	ReadyStates        []string
	ErrorStates        []string
	RedisAddr          string
	RedisPass          string
	RedisDB            int
	NotifyChannel      string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	DeployRateLimit    int
	ShutdownTimeout    time.Duration
}

// LoadDaemonConfig constructs a DaemonConfig from environment variables.
func LoadDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("DEPLOYWATCH_ADDR", ":4100"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://deploywatch:deploywatch@db:5432/deploywatch?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		AutoMigrate:        GetBool("DB_AUTO_MIGRATE", true),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		TokenEncryptionKey: GetString("TOKEN_ENCRYPTION_KEY", "supersecuresecret"),
		VercelAPIURL:       GetString("VERCEL_API_URL", DefaultVercelAPIURL),
		HTTPTimeout:        time.Duration(GetInt("VERCEL_HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		PollInterval:       time.Duration(GetInt("POLL_INTERVAL_MS", int(DefaultPollInterval/time.Millisecond))) * time.Millisecond,
		PollMaxFailures:    GetInt("POLL_MAX_FAILURES", DefaultPollMaxFailures),
		ReadyStates:        GetList("READY_STATES", []string{"READY"}),
		ErrorStates:        GetList("ERROR_STATES", []string{"ERROR", "CANCELED"}),
		RedisAddr:          GetString("NOTIFY_REDIS_ADDR", ""),
		RedisPass:          GetString("NOTIFY_REDIS_PASSWORD", ""),
		RedisDB:            GetInt("NOTIFY_REDIS_DB", 0),
		NotifyChannel:      GetString("NOTIFY_REDIS_CHANNEL", "deploywatch:events"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		DeployRateLimit:    GetInt("DEPLOY_RATE_LIMIT_PER_MINUTE", 10),
		ShutdownTimeout:    time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
