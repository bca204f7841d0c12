package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process-level configuration.
type Server struct {
	Addr        string
	LogLevel    string
	Environment string

	CargoTech CargoTechConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Billing   BillingConfig
}

// CargoTechConfig configures the upstream marketplace integration.
type CargoTechConfig struct {
	BaseURL       string
	Phone         string
	Password      string
	TokenTTL      time.Duration
	HTTPTimeout   time.Duration
	RateLimit     int // requests per minute
	RetryAttempts int
	RetryBase     time.Duration
	RetryJitter   time.Duration
	// WebhookSecret authenticates CargoTech notifications.
	WebhookSecret string
}

// CacheConfig holds per-tier TTLs and the stale grace window.
type CacheConfig struct {
	ListTTL      time.Duration
	DetailTTL    time.Duration
	ReferenceTTL time.Duration
	StaleGrace   time.Duration
}

// RedisConfig holds shared cache store connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds billing store connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig holds broker settings for notifications and alerts.
type KafkaConfig struct {
	Brokers string
}

// BillingConfig holds payment webhook and subscription settings.
type BillingConfig struct {
	WebhookSecret         string
	AccessTokenSigningKey string
	PlanDuration          time.Duration
}

const (
	DefaultBaseURL       = "https://api.cargo.tech"
	DefaultTokenTTL      = 24 * time.Hour
	DefaultHTTPTimeout   = 10 * time.Second
	DefaultRateLimit     = 600
	DefaultRetryAttempts = 4
	DefaultRetryBase     = 750 * time.Millisecond
	DefaultRetryJitter   = 250 * time.Millisecond
	DefaultListTTL       = 5 * time.Minute
	DefaultDetailTTL     = 15 * time.Minute
	DefaultReferenceTTL  = 24 * time.Hour
	DefaultStaleGrace    = time.Hour
	DefaultPlanDuration  = 30 * 24 * time.Hour
)

// IsProduction reports whether the service runs with production settings.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// Validate rejects configurations that cannot serve traffic safely.
func (s Server) Validate() error {
	var errs []error
	if s.CargoTech.Phone == "" || s.CargoTech.Password == "" {
		errs = append(errs, errors.New("CARGOTECH_PHONE and CARGOTECH_PASSWORD are required"))
	}
	if s.IsProduction() {
		if s.Billing.WebhookSecret == "" {
			errs = append(errs, errors.New("YOOKASSA_WEBHOOK_SECRET is required in production"))
		}
		if s.CargoTech.WebhookSecret == "" {
			errs = append(errs, errors.New("CARGOTECH_WEBHOOK_SECRET is required in production"))
		}
		if s.Billing.AccessTokenSigningKey == devSigningKey {
			errs = append(errs, errors.New("ACCESS_TOKEN_SIGNING_KEY must be set in production"))
		}
	}
	return errors.Join(errs...)
}

const devSigningKey = "dev-access-token-key-change-in-production"

// FromEnv builds a Server config from the environment, loading a .env file
// first when present. Unparseable values fall back to defaults and are
// reported in the returned warnings.
func FromEnv() (Server, []string) {
	var warnings []string
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf(".env: %v", err))
	}

	r := &reader{}
	cfg := Server{
		Addr:        r.str("CARGOLINK_ADDR", ":8080"),
		LogLevel:    r.str("LOG_LEVEL", "info"),
		Environment: r.str("ENVIRONMENT", "development"),
		CargoTech: CargoTechConfig{
			BaseURL:       strings.TrimRight(r.str("CARGOTECH_BASE_URL", DefaultBaseURL), "/"),
			Phone:         os.Getenv("CARGOTECH_PHONE"),
			Password:      os.Getenv("CARGOTECH_PASSWORD"),
			TokenTTL:      r.duration("CARGOTECH_TOKEN_TTL", DefaultTokenTTL),
			HTTPTimeout:   r.duration("CARGOTECH_HTTP_TIMEOUT", DefaultHTTPTimeout),
			RateLimit:     r.integer("CARGOTECH_RATE_LIMIT", DefaultRateLimit),
			RetryAttempts: r.integer("CARGOTECH_RETRY_ATTEMPTS", DefaultRetryAttempts),
			RetryBase:     r.duration("CARGOTECH_RETRY_BASE", DefaultRetryBase),
			RetryJitter:   r.duration("CARGOTECH_RETRY_JITTER", DefaultRetryJitter),
			WebhookSecret: os.Getenv("CARGOTECH_WEBHOOK_SECRET"),
		},
		Cache: CacheConfig{
			ListTTL:      r.duration("CACHE_TTL_LIST", DefaultListTTL),
			DetailTTL:    r.duration("CACHE_TTL_DETAIL", DefaultDetailTTL),
			ReferenceTTL: r.duration("CACHE_TTL_REFERENCE", DefaultReferenceTTL),
			StaleGrace:   r.duration("CACHE_STALE_GRACE", DefaultStaleGrace),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     20,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("KAFKA_BROKERS"),
		},
		Billing: BillingConfig{
			WebhookSecret:         os.Getenv("YOOKASSA_WEBHOOK_SECRET"),
			AccessTokenSigningKey: r.str("ACCESS_TOKEN_SIGNING_KEY", devSigningKey),
			PlanDuration:          r.duration("BILLING_PLAN_DURATION", DefaultPlanDuration),
		},
	}
	return cfg, append(warnings, r.warnings...)
}

type reader struct {
	warnings []string
}

func (r *reader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.warnings = append(r.warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, raw, def))
		return def
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		r.warnings = append(r.warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, raw, def))
		return def
	}
	return n
}
