package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env string

	// ops API
	OpsPort     int
	JWTSecret   string
	JWTTTL      time.Duration
	CacheTTL    time.Duration
	CORSOrigins []string

	// worker
	HealthAddr    string
	Concurrency   int
	DiscoverEvery time.Duration
	ScheduleEvery time.Duration
	DrainGrace    time.Duration

	// workflow tuning
	IntakeBatchSize   int
	PollBatchSize     int
	LeaseDuration     time.Duration
	PollInterval      time.Duration
	MaxSubmitAttempts int
	IdempotencyLease  time.Duration

	// backing services
	DBURL           string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ExternalBaseURL string
	OTELEndpoint    string

	// external job simulator
	SimPort int
}

func Load() Config {
	return Config{
		Env: getEnv("APP_ENV", "dev"),

		OpsPort:     getEnvInt("OPS_PORT", 8080),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:      getEnvDuration("JWT_TTL", time.Hour),
		CacheTTL:    getEnvDuration("OPS_CACHE_TTL", 5*time.Second),
		CORSOrigins: getEnvList("CORS_ORIGINS"),

		HealthAddr:    getEnv("WORKER_HEALTH_ADDR", ":8081"),
		Concurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		DiscoverEvery: getEnvDuration("DISCOVER_EVERY", time.Minute),
		ScheduleEvery: getEnvDuration("SCHEDULE_EVERY", 30*time.Second),
		DrainGrace:    getEnvDuration("WORKER_DRAIN_GRACE", 10*time.Second),

		IntakeBatchSize:   getEnvInt("INTAKE_BATCH_SIZE", 50),
		PollBatchSize:     getEnvInt("POLL_BATCH_SIZE", 200),
		LeaseDuration:     getEnvDuration("LEASE_DURATION", 30*time.Minute),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Minute),
		MaxSubmitAttempts: getEnvInt("MAX_SUBMIT_ATTEMPTS", 3),
		IdempotencyLease:  getEnvDuration("IDEMPOTENCY_LEASE", 2*time.Minute),

		DBURL:           buildDBURL(),
		RedisAddr:       getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		ExternalBaseURL: getEnv("EXTERNAL_BASE_URL", "http://127.0.0.1:8090"),
		OTELEndpoint:    getEnv("OTEL_EXPORTER_ENDPOINT", ""),

		SimPort: getEnvInt("SIM_PORT", 8090),
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "steward")
	pass := getEnv("DB_PASSWORD", "steward")
	name := getEnv("DB_NAME", "steward")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return d
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)

	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
