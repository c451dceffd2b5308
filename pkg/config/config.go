package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	PaymentProviderManual   = "manual"
	PaymentProviderRazorpay = "razorpay"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	StoreDriver string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Lifecycle LifecycleConfig
	Uploads   UploadsConfig
	Payments  PaymentsConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	RunMigrations bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LifecycleConfig tunes the application lifecycle engine.
type LifecycleConfig struct {
	MaxAttempts         int
	RetryBackoff        time.Duration
	RequiredDocuments   []string
	ApplicationIDPrefix string
}

// UploadsConfig controls candidate document storage.
type UploadsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	CleanupWorkers   int
}

// PaymentsConfig selects and configures the payment gateway.
type PaymentsConfig struct {
	Provider       string
	KeyID          string
	KeySecret      string
	BaseURL        string
	Currency       string
	CourseFeeMinor int64
	Timeout        time.Duration
}

// CacheConfig governs Redis-backed lookups. IdempotencyLease bounds how long an
// unfinished request holds its key; IdempotencyTTL applies once a result is recorded.
type CacheConfig struct {
	PermissionTTL    time.Duration
	IdempotencyTTL   time.Duration
	IdempotencyLease time.Duration
}

// RateLimitConfig throttles sensitive routes per actor.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// BootstrapConfig seeds the first admin account on startup when both fields are set.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.StoreDriver = strings.ToLower(v.GetString("STORE_DRIVER"))

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		RunMigrations: v.GetBool("RUN_MIGRATIONS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxAttempts := v.GetInt("LIFECYCLE_MAX_ATTEMPTS")
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	cfg.Lifecycle = LifecycleConfig{
		MaxAttempts:         maxAttempts,
		RetryBackoff:        parseDuration(v.GetString("LIFECYCLE_RETRY_BACKOFF"), 50*time.Millisecond),
		RequiredDocuments:   splitAndTrim(v.GetString("REQUIRED_DOCUMENT_LABELS")),
		ApplicationIDPrefix: v.GetString("APPLICATION_ID_PREFIX"),
	}

	maxUpload := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOADS_ALLOWED_MIME_TYPES")),
		SignedURLSecret:  v.GetString("UPLOADS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("UPLOADS_SIGNED_URL_TTL"), 15*time.Minute),
		CleanupWorkers:   v.GetInt("UPLOADS_CLEANUP_WORKERS"),
	}

	cfg.Payments = PaymentsConfig{
		Provider:       strings.ToLower(v.GetString("PAYMENT_PROVIDER")),
		KeyID:          v.GetString("RAZORPAY_KEY_ID"),
		KeySecret:      v.GetString("RAZORPAY_KEY_SECRET"),
		BaseURL:        v.GetString("RAZORPAY_BASE_URL"),
		Currency:       v.GetString("PAYMENT_CURRENCY"),
		CourseFeeMinor: v.GetInt64("COURSE_FEE_AMOUNT"),
		Timeout:        parseDuration(v.GetString("PAYMENT_TIMEOUT"), 10*time.Second),
	}

	cfg.Cache = CacheConfig{
		PermissionTTL:    parseDuration(v.GetString("PERMISSION_CACHE_TTL"), 5*time.Minute),
		IdempotencyTTL:   parseDuration(v.GetString("IDEMPOTENCY_TTL"), 24*time.Hour),
		IdempotencyLease: parseDuration(v.GetString("IDEMPOTENCY_LEASE"), 2*time.Minute),
	}

	cfg.RateLimit = RateLimitConfig{
		RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
		Burst:             v.GetInt("RATE_LIMIT_BURST"),
	}

	cfg.Bootstrap = BootstrapConfig{
		AdminEmail:    v.GetString("BOOTSTRAP_ADMIN_EMAIL"),
		AdminPassword: v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
		AdminName:     v.GetString("BOOTSTRAP_ADMIN_NAME"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "admission_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("RUN_MIGRATIONS", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "admission-portal")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LIFECYCLE_MAX_ATTEMPTS", 3)
	v.SetDefault("LIFECYCLE_RETRY_BACKOFF", "50ms")
	v.SetDefault("REQUIRED_DOCUMENT_LABELS", "")
	v.SetDefault("APPLICATION_ID_PREFIX", "CC")

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOADS_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")
	v.SetDefault("UPLOADS_SIGNED_URL_SECRET", "dev_uploads_secret")
	v.SetDefault("UPLOADS_SIGNED_URL_TTL", "15m")
	v.SetDefault("UPLOADS_CLEANUP_WORKERS", 1)

	v.SetDefault("PAYMENT_PROVIDER", PaymentProviderManual)
	v.SetDefault("RAZORPAY_KEY_ID", "")
	v.SetDefault("RAZORPAY_KEY_SECRET", "")
	v.SetDefault("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1")
	v.SetDefault("PAYMENT_CURRENCY", "INR")
	v.SetDefault("COURSE_FEE_AMOUNT", 100)
	v.SetDefault("PAYMENT_TIMEOUT", "10s")

	v.SetDefault("PERMISSION_CACHE_TTL", "5m")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("IDEMPOTENCY_LEASE", "2m")

	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("BOOTSTRAP_ADMIN_EMAIL", "")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")
	v.SetDefault("BOOTSTRAP_ADMIN_NAME", "Administrator")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
