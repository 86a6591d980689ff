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
)

// OTP store backends.
const (
	OTPStoreMemory = "memory"
	OTPStoreRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	OTP       OTPConfig
	Identity  IdentityConfig
	Analytics AnalyticsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// OTPConfig tunes one-time code issuance and delivery.
type OTPConfig struct {
	Store           string
	TTL             time.Duration
	SendRate        float64
	SendBurst       int
	VerifyRate      float64
	VerifyBurst     int
	MaxAttempts     int
	DispatchWorkers int
	DispatchRetries int
}

// IdentityConfig governs the signed token handed out after a successful OTP check.
type IdentityConfig struct {
	TokenSecret      string
	TokenTTL         time.Duration
	Issuer           string
	RequireForSubmit bool
}

// AnalyticsConfig governs cache behaviour for the admin analytics endpoints.
type AnalyticsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	otpStore := strings.ToLower(strings.TrimSpace(v.GetString("OTP_STORE")))
	if otpStore != OTPStoreRedis {
		otpStore = OTPStoreMemory
	}
	cfg.OTP = OTPConfig{
		Store:           otpStore,
		TTL:             parseDuration(v.GetString("OTP_TTL"), 10*time.Minute),
		SendRate:        v.GetFloat64("OTP_SEND_RATE"),
		SendBurst:       v.GetInt("OTP_SEND_BURST"),
		VerifyRate:      v.GetFloat64("OTP_VERIFY_RATE"),
		VerifyBurst:     v.GetInt("OTP_VERIFY_BURST"),
		MaxAttempts:     v.GetInt("OTP_MAX_ATTEMPTS"),
		DispatchWorkers: v.GetInt("OTP_DISPATCH_WORKERS"),
		DispatchRetries: v.GetInt("OTP_DISPATCH_RETRIES"),
	}

	cfg.Identity = IdentityConfig{
		TokenSecret:      v.GetString("IDENTITY_TOKEN_SECRET"),
		TokenTTL:         parseDuration(v.GetString("IDENTITY_TOKEN_TTL"), 30*time.Minute),
		Issuer:           v.GetString("IDENTITY_TOKEN_ISSUER"),
		RequireForSubmit: v.GetBool("REQUIRE_VERIFIED_IDENTITY"),
	}

	cfg.Analytics = AnalyticsConfig{
		CacheEnabled: v.GetBool("ENABLE_ANALYTICS_CACHE"),
		CacheTTL:     parseDuration(v.GetString("ANALYTICS_CACHE_TTL"), 5*time.Minute),
	}

	if cfg.Env == EnvProduction && cfg.Identity.TokenSecret == defaultIdentitySecret {
		return nil, errors.New("IDENTITY_TOKEN_SECRET must be set in production")
	}

	return cfg, nil
}

const defaultIdentitySecret = "dev_identity_secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "pet_licence")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("OTP_STORE", OTPStoreMemory)
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_SEND_RATE", 0.2)
	v.SetDefault("OTP_SEND_BURST", 3)
	v.SetDefault("OTP_VERIFY_RATE", 0.5)
	v.SetDefault("OTP_VERIFY_BURST", 5)
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_DISPATCH_WORKERS", 2)
	v.SetDefault("OTP_DISPATCH_RETRIES", 3)

	v.SetDefault("IDENTITY_TOKEN_SECRET", defaultIdentitySecret)
	v.SetDefault("IDENTITY_TOKEN_TTL", "30m")
	v.SetDefault("IDENTITY_TOKEN_ISSUER", "pet-licence-api")
	v.SetDefault("REQUIRE_VERIFIED_IDENTITY", false)

	v.SetDefault("ENABLE_ANALYTICS_CACHE", false)
	v.SetDefault("ANALYTICS_CACHE_TTL", "5m")
}

// isMissingFile reports a missing .env; viper surfaces it as a plain fs error when SetConfigFile is used.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
