package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides Config loaded from the environment.
var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	Party PartyConfig

	// TokenSecret derives the key used to encrypt peer tokens at rest.
	TokenSecret     string
	AdminAPIKey     string
	BootstrapTokens []string

	OutboundTimeout    time.Duration
	NegotiationFile    string
	RegistrationWorker WorkerConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LeaseTTL      time.Duration

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// PartyConfig describes this platform as an OCPI party.
type PartyConfig struct {
	CountryCode  string
	PartyID      string
	BusinessName string
	Roles        []string
	// PublicURL is the externally reachable base URL, e.g. https://ocpi.example.com/ocpi.
	PublicURL string
}

type WorkerConfig struct {
	Enabled        bool
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	RatePerSecond  float64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "ocpilink"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Party: PartyConfig{
			CountryCode:  strings.ToUpper(strings.TrimSpace(getenv("OCPI_COUNTRY_CODE", "NL"))),
			PartyID:      strings.ToUpper(strings.TrimSpace(getenv("OCPI_PARTY_ID", "SBZ"))),
			BusinessName: getenv("OCPI_BUSINESS_NAME", "ocpilink"),
			Roles:        splitList(getenv("OCPI_ROLES", "CPO")),
			PublicURL:    strings.TrimRight(strings.TrimSpace(getenv("OCPI_PUBLIC_URL", "http://localhost:8080/ocpi")), "/"),
		},
		TokenSecret:     strings.TrimSpace(getenv("TOKEN_ENCRYPTION_SECRET", "")),
		AdminAPIKey:     strings.TrimSpace(getenv("ADMIN_API_KEY", "")),
		BootstrapTokens: splitList(os.Getenv("OCPI_BOOTSTRAP_TOKENS")),
		OutboundTimeout: getenvDuration("OCPI_OUTBOUND_TIMEOUT", 10*time.Second),
		NegotiationFile: getenv("OCPI_NEGOTIATION_CONFIG", ""),
		RegistrationWorker: WorkerConfig{
			Enabled:        getenvBool("REGISTRATION_WORKER_ENABLED", true),
			Interval:       getenvDuration("REGISTRATION_WORKER_INTERVAL", 30*time.Second),
			BatchSize:      getenvInt("REGISTRATION_WORKER_BATCH_SIZE", 20),
			MaxAttempts:    getenvInt("REGISTRATION_MAX_ATTEMPTS", 8),
			RatePerSecond:  getenvFloat("REGISTRATION_RATE_PER_SECOND", 2),
			InitialBackoff: getenvDuration("REGISTRATION_INITIAL_BACKOFF", 30*time.Second),
			MaxBackoff:     getenvDuration("REGISTRATION_MAX_BACKOFF", time.Hour),
		},
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "ocpilink"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
	}

	return cfg
}

// IsProduction reports whether the service runs in a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
