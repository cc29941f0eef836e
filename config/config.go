package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	ServiceName string
	Env         string
	LogLevel    string
	GinMode     string

	MongoURI          string
	DBName            string
	MongoTransactions bool

	JWTSecret string

	RazorpayKeyID  string
	RazorpaySecret string

	RedisAddr     string
	RedisPassword string
	CartCacheTTL  time.Duration

	CheckoutTimeout time.Duration
	GatewayTimeout  time.Duration
}

// LoadEnv reads a .env file into the process environment when one exists.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

func Load() Config {
	return Config{
		Port:        GetEnv("PORT", "8080"),
		ServiceName: GetEnv("SERVICE_NAME", "storefront"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		GinMode:     GetEnv("GIN_MODE", "release"),

		MongoURI:          os.Getenv("MONGO_URI"),
		DBName:            os.Getenv("DB_NAME"),
		MongoTransactions: getBool("MONGO_TRANSACTIONS", true),

		JWTSecret: os.Getenv("JWT_SECRET"),

		RazorpayKeyID:  os.Getenv("RAZORPAY_KEY_ID"),
		RazorpaySecret: os.Getenv("RAZORPAY_SECRET_KEY"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CartCacheTTL:  getDuration("CART_CACHE_TTL", 15*time.Minute),

		CheckoutTimeout: getDuration("CHECKOUT_TIMEOUT", 10*time.Second),
		GatewayTimeout:  getDuration("GATEWAY_TIMEOUT", 5*time.Second),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if c.DBName == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
