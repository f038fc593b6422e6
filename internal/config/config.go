package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const minSigningSecretLen = 32

type Config struct {
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	HTTPAddr     string
	OTLPEndpoint string
	LogLevel     string

	// TraceSampleRatio is the share of root spans kept, in [0, 1].
	TraceSampleRatio float64

	SigningSecret         string
	RetiredSigningSecrets []string

	HorizonURL     string
	OracleTimeout  time.Duration
	OracleCacheTTL time.Duration

	ExpiryInterval time.Duration
	ExpiryRetries  int

	DispatchWorkers int
	DispatchTimeout time.Duration

	OutboxInterval time.Duration
	OutboxBatch    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getEnv("MONGO_DB", "lumentix"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		TraceSampleRatio: getFloat("OTEL_TRACES_SAMPLER_RATIO", 1),

		SigningSecret:         os.Getenv("TICKET_SIGNING_SECRET"),
		RetiredSigningSecrets: splitList(os.Getenv("TICKET_SIGNING_RETIRED_SECRETS")),

		HorizonURL:     getEnv("HORIZON_URL", "https://horizon.stellar.org"),
		OracleTimeout:  getDuration("ORACLE_TIMEOUT", 5*time.Second),
		OracleCacheTTL: getDuration("ORACLE_CACHE_TTL", 24*time.Hour),

		ExpiryInterval: getDuration("EXPIRY_INTERVAL", 5*time.Minute),
		ExpiryRetries:  getInt("EXPIRY_RETRIES", 3),

		DispatchWorkers: getInt("DISPATCH_WORKERS", 8),
		DispatchTimeout: getDuration("DISPATCH_TIMEOUT", 10*time.Second),

		OutboxInterval: getDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:    getInt("OUTBOX_BATCH", 50),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SigningSecret == "" {
		return errors.New("TICKET_SIGNING_SECRET is required")
	}
	if len(c.SigningSecret) < minSigningSecretLen {
		return errors.Newf("TICKET_SIGNING_SECRET must be at least %d bytes", minSigningSecretLen)
	}
	for i, s := range c.RetiredSigningSecrets {
		if len(s) < minSigningSecretLen {
			return errors.Newf("TICKET_SIGNING_RETIRED_SECRETS entry %d must be at least %d bytes", i, minSigningSecretLen)
		}
	}
	if c.OracleTimeout <= 0 {
		return errors.New("ORACLE_TIMEOUT must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return errors.Newf("OTEL_TRACES_SAMPLER_RATIO must be within [0, 1], got %v", c.TraceSampleRatio)
	}
	if c.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be positive")
	}
	if c.ExpiryInterval <= 0 {
		return errors.New("EXPIRY_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return -1
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d == 0 {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
