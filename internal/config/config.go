package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	// AuthSecret signs the HMAC JWTs for the student/admin surfaces.
	AuthSecret string
	// CronSecret is the shared bearer credential for the batch trigger.
	CronSecret string

	AdminUser     string
	AdminPassHash string // bcrypt

	// Batch knobs; BatchSize 0 means "ask the capacity advisor".
	BatchSize         int
	MaxProcessingTime time.Duration
	SizingMode        string // conservative|moderate|aggressive

	QueueMaxAttempts int
	QueueRetention   time.Duration

	CORSOrigins []string
}

func FromEnv() Config {
	return Config{
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		AuthSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		CronSecret: envOr("CRON_SECRET", ""),

		AdminUser: envOr("ADMIN_USER", "admin"),
		// bcrypt("admin"); override in any real deployment.
		AdminPassHash: envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),

		BatchSize:         envInt("BATCH_SIZE", 0),
		MaxProcessingTime: envDur("MAX_PROCESSING_TIME", 4*time.Minute),
		SizingMode:        envOr("SIZING_MODE", "moderate"),

		QueueMaxAttempts: envInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueRetention:   envDur("QUEUE_RETENTION", 7*24*time.Hour),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
