package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Checkout  CheckoutConfig
	Firebase  FirebaseConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string `validate:"required"`
	Env          string `validate:"oneof=development staging production test"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string `validate:"oneof=mysql postgres sqlite"`
	DSN             string `validate:"required"`
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// JWTConfig only carries what is needed to verify access tokens; issuance lives in the auth service.
type JWTConfig struct {
	AccessSecret string `validate:"required"`
	AccessExpiry time.Duration
	Issuer       string
}

// GatewayConfig selects and configures the payment gateway adapter.
type GatewayConfig struct {
	Provider      string `validate:"oneof=razorpay midtrans stub"`
	KeyID         string `validate:"required_if=Provider razorpay"`
	KeySecret     string `validate:"required"`
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration `validate:"gt=0"`
	Production    bool
	Currency      string `validate:"len=3"`
}

type CheckoutConfig struct {
	OrderTTL       time.Duration `validate:"gt=0"`
	ReconcileGrace time.Duration `validate:"gte=0"`
	SweepSchedule  string        `validate:"required"`
	SweepBatch     int           `validate:"gt=0"`
	GatewayRetries int           `validate:"gte=0,lte=5"`
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

type RateLimitConfig struct {
	RPS   float64 `validate:"gt=0"`
	Burst int     `validate:"gt=0"`
}

// Load returns the default configuration overlaid with .env and process environment values.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[CONFIG] .env not loaded: %v", err)
	}
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "mysql"),
			DSN:             getEnv("DB_DSN", "skillyug:skillyug@tcp(localhost:3306)/skillyug?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: getEnvDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			Issuer:       getEnv("JWT_ISSUER", "skillyug"),
		},
		Gateway: GatewayConfig{
			Provider:      getEnv("PAYMENT_GATEWAY", "razorpay"),
			KeyID:         getEnv("RAZORPAY_KEY", ""),
			KeySecret:     firstEnv("RAZORPAY_SECRET", "MIDTRANS_SERVER_KEY", "PAYMENT_STUB_SECRET"),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("PAYMENT_GATEWAY_BASE_URL", ""),
			Timeout:       getEnvDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
			Production:    getEnvBool("PAYMENT_GATEWAY_PRODUCTION", false),
			Currency:      getEnv("PAYMENT_CURRENCY", "INR"),
		},
		Checkout: CheckoutConfig{
			OrderTTL:       getEnvDuration("ORDER_TTL", 30*time.Minute),
			ReconcileGrace: getEnvDuration("RECONCILE_GRACE", 2*time.Minute),
			SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 1m"),
			SweepBatch:     getEnvInt("SWEEP_BATCH", 100),
			GatewayRetries: getEnvInt("GATEWAY_RETRIES", 2),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
	}
}

var validate = validator.New()

// Validate reports the first set of invalid fields, if any.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Checkout.ReconcileGrace >= c.Checkout.OrderTTL {
		return fmt.Errorf("config: RECONCILE_GRACE (%s) must be shorter than ORDER_TTL (%s)", c.Checkout.ReconcileGrace, c.Checkout.OrderTTL)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
