// Package config resolves runtime settings from command line flags,
// PRESSCONNECT_* environment variables, and an optional .env file. Flags win
// over the environment; the environment wins over defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	defaultAddr          = "127.0.0.1:8080"
	defaultStorageDriver = "postgres"
	defaultProvider      = "youtube"
)

// PostgresSettings carries the connection pool knobs for the datastore.
type PostgresSettings struct {
	DSN             string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

// RedisSettings configures the lifecycle event stream.
type RedisSettings struct {
	Addr     string
	Username string
	Password string
	Stream   string
}

// RateLimitSettings configures request throttling.
type RateLimitSettings struct {
	GlobalRPS     float64
	GlobalBurst   int
	LoginLimit    int
	LoginWindow   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Addr          string
	Mode          string
	LogLevel      string
	LogFormat     string
	StorageDriver string
	Postgres      PostgresSettings
	JWTSecret     string
	TokenTTL      time.Duration
	Provider      string
	ProviderAPI   string
	Events        RedisSettings
	RateLimit     RateLimitSettings
	TLSCert       string
	TLSKey        string
	CORSOrigins   []string
}

// Load parses the provided arguments and the environment into a Config. An
// optional .env file in the working directory seeds the environment without
// overriding variables already set.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("pressconnect", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address")
	mode := fs.String("mode", "", "runtime mode (development or production)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log output format (json or text)")
	storageDriver := fs.String("storage-driver", "", "datastore driver (postgres or memory)")
	postgresDSN := fs.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := fs.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := fs.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := fs.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := fs.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresAcquireTimeout := fs.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := fs.String("postgres-app-name", "", "application_name reported to Postgres")
	jwtSecret := fs.String("jwt-secret", "", "HMAC secret for signing access tokens")
	tokenTTL := fs.Duration("token-ttl", 0, "access token lifetime")
	provider := fs.String("provider", "", "streaming provider name")
	providerAPI := fs.String("provider-api", "", "override base URL for the provider API")
	eventsRedisAddr := fs.String("events-redis-addr", "", "Redis address for lifecycle event publishing")
	eventsRedisUsername := fs.String("events-redis-username", "", "Redis username for lifecycle event publishing")
	eventsRedisPassword := fs.String("events-redis-password", "", "Redis password for lifecycle event publishing")
	eventsRedisStream := fs.String("events-redis-stream", "", "Redis stream name for lifecycle events")
	globalRPS := fs.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := fs.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := fs.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := fs.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := fs.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := fs.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := fs.Duration("rate-redis-timeout", 0, "timeout for Redis rate limit operations")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := fs.String("tls-key", "", "path to TLS private key file")
	corsOrigins := fs.String("cors-origins", "", "comma separated origins allowed to call the API")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:          firstNonEmpty(*addr, os.Getenv("PRESSCONNECT_ADDR"), defaultAddr),
		Mode:          normalizeMode(firstNonEmpty(*mode, os.Getenv("PRESSCONNECT_MODE"))),
		LogLevel:      firstNonEmpty(*logLevel, os.Getenv("PRESSCONNECT_LOG_LEVEL")),
		LogFormat:     firstNonEmpty(*logFormat, os.Getenv("PRESSCONNECT_LOG_FORMAT")),
		StorageDriver: strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("PRESSCONNECT_STORAGE_DRIVER"), defaultStorageDriver)),
		Postgres: PostgresSettings{
			DSN:             firstNonEmpty(*postgresDSN, os.Getenv("PRESSCONNECT_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
			MaxConnections:  firstPositiveInt(*postgresMaxConns, envInt("PRESSCONNECT_POSTGRES_MAX_CONNS")),
			MinConnections:  firstPositiveInt(*postgresMinConns, envInt("PRESSCONNECT_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: firstPositiveDuration(*postgresMaxConnLifetime, envDuration("PRESSCONNECT_POSTGRES_MAX_CONN_LIFETIME")),
			MaxConnIdleTime: firstPositiveDuration(*postgresMaxConnIdle, envDuration("PRESSCONNECT_POSTGRES_MAX_CONN_IDLE")),
			AcquireTimeout:  firstPositiveDuration(*postgresAcquireTimeout, envDuration("PRESSCONNECT_POSTGRES_ACQUIRE_TIMEOUT")),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("PRESSCONNECT_POSTGRES_APP_NAME")),
		},
		JWTSecret:   firstNonEmpty(*jwtSecret, os.Getenv("PRESSCONNECT_JWT_SECRET"), os.Getenv("JWT_SECRET")),
		TokenTTL:    firstPositiveDuration(*tokenTTL, envDuration("PRESSCONNECT_TOKEN_TTL")),
		Provider:    strings.ToLower(firstNonEmpty(*provider, os.Getenv("PRESSCONNECT_PROVIDER"), defaultProvider)),
		ProviderAPI: firstNonEmpty(*providerAPI, os.Getenv("PRESSCONNECT_PROVIDER_API")),
		Events: RedisSettings{
			Addr:     firstNonEmpty(*eventsRedisAddr, os.Getenv("PRESSCONNECT_EVENTS_REDIS_ADDR")),
			Username: firstNonEmpty(*eventsRedisUsername, os.Getenv("PRESSCONNECT_EVENTS_REDIS_USERNAME")),
			Password: firstNonEmpty(*eventsRedisPassword, os.Getenv("PRESSCONNECT_EVENTS_REDIS_PASSWORD")),
			Stream:   firstNonEmpty(*eventsRedisStream, os.Getenv("PRESSCONNECT_EVENTS_REDIS_STREAM")),
		},
		RateLimit: RateLimitSettings{
			GlobalRPS:     firstPositiveFloat(*globalRPS, envFloat("PRESSCONNECT_RATE_GLOBAL_RPS")),
			GlobalBurst:   firstPositiveInt(*globalBurst, envInt("PRESSCONNECT_RATE_GLOBAL_BURST")),
			LoginLimit:    firstPositiveInt(*loginLimit, envInt("PRESSCONNECT_RATE_LOGIN_LIMIT")),
			LoginWindow:   firstPositiveDuration(*loginWindow, envDuration("PRESSCONNECT_RATE_LOGIN_WINDOW")),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("PRESSCONNECT_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("PRESSCONNECT_RATE_REDIS_PASSWORD")),
			RedisTimeout:  firstPositiveDuration(*rateRedisTimeout, envDuration("PRESSCONNECT_RATE_REDIS_TIMEOUT")),
		},
		TLSCert:     firstNonEmpty(*tlsCert, os.Getenv("PRESSCONNECT_TLS_CERT")),
		TLSKey:      firstNonEmpty(*tlsKey, os.Getenv("PRESSCONNECT_TLS_KEY")),
		CORSOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("PRESSCONNECT_CORS_ORIGINS"))),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the constraints that must fail startup. Running in
// production without a signing secret would silently issue forgeable tokens,
// so that combination is rejected outright.
func (c *Config) validate() error {
	switch c.StorageDriver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			return fmt.Errorf("postgres storage requires a DSN")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.Mode == ModeProduction && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("a JWT secret is required in production mode")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}
	return nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return c.Mode == ModeProduction
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeProduction, "prod":
		return ModeProduction
	default:
		return ModeDevelopment
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstPositiveInt(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

func firstPositiveFloat(values ...float64) float64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

func firstPositiveDuration(values ...time.Duration) time.Duration {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

func envInt(name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return 0
	}
	return value
}

func envFloat(name string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(name)), 64)
	if err != nil {
		return 0
	}
	return value
}

func envDuration(name string) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return 0
	}
	return value
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
