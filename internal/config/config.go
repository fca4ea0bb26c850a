package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Storage
	Store            string        // "postgres" | "memory"
	DatabaseURL      string        // postgres DSN, required when Store=postgres
	DBConnectTimeout time.Duration // total time to retry connecting (ex: 30s)
	DBMaxConns       int           // pgxpool max connections

	// Probing
	GeoIPDatabase   string        // path to a MaxMind country/city database (optional, empty = "AQ" for every host)
	ObservatoryURL  string        // security rating API endpoint
	ObservatoryRPS  float64       // max rating API calls per second
	RequestTimeout  time.Duration // per-request probe timeout (default: 15s)
	RatingGrace     time.Duration // wait before re-asking for an unresolved rating (default: 5s)
	NegativeTTL     time.Duration // how long a failed add/check is remembered (default: 5m)
	SeedFile        string        // optional yaml list of instance urls imported at startup
	CheckUpInterval time.Duration // liveness sweep interval (default: 15m)
	CheckFullPeriod time.Duration // re-validation sweep interval (default: 24h)
	SweepWorkers    int           // max concurrent probes per sweep (default: 32)
	ChecksToStore   int           // checks kept per instance (default: 100)
	MaxFailures     int           // failed checks before an instance is dropped (default: 90)

	// Redis, optional shared negative-lookup cache
	RedisAddr           string        // ex: "localhost:6379", empty = in-memory negative cache
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)

	// Retry policy shared by the redis and postgres connectors
	ConnectRetryInterval time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	ConnectMaxWait       time.Duration // max wait between retries (ex: 10s)
	ConnectPingTimeout   time.Duration // timeout for each ping attempt (ex: 5s)
	ConnectWarnThreshold int           // warn after this many attempts

	// HTTP surface
	AllowedHosts    []string // optional, restrict admin endpoints to specific Host headers
	AllowedCIDRS    []string // optional, restrict admin endpoints to specific IPs (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy      bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	SubmitBurst     int      // add/check requests allowed in a burst per client
	SubmitPerMinute int      // add/check token refill per client per minute
}

func Load() *Config {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("DIRECTORY_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("DIRECTORY_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("DIRECTORY_LOG_LEVEL", "info"),
		PrettyLog: mustBool("DIRECTORY_PRETTY_LOG", true),

		// Storage
		Store:            strings.ToLower(getenv("DIRECTORY_STORE", StorePostgres)),
		DBConnectTimeout: mustDuration("DIRECTORY_DB_CONNECT_TIMEOUT", 30*time.Second),
		DBMaxConns:       getenvInt("DIRECTORY_DB_MAX_CONNS", 4),

		// Probing
		GeoIPDatabase:   getenv("DIRECTORY_GEOIP_DB", ""),
		ObservatoryURL:  getenv("DIRECTORY_OBSERVATORY_URL", "https://observatory-api.mdn.mozilla.net/api/v2/scan"),
		ObservatoryRPS:  getenvFloat("DIRECTORY_OBSERVATORY_RPS", 2),
		RequestTimeout:  mustDuration("DIRECTORY_REQUEST_TIMEOUT", 15*time.Second),
		RatingGrace:     mustDuration("DIRECTORY_RATING_GRACE", 5*time.Second),
		NegativeTTL:     mustDuration("DIRECTORY_NEGATIVE_TTL", 5*time.Minute),
		SeedFile:        getenv("DIRECTORY_SEED_FILE", ""),
		CheckUpInterval: mustDuration("DIRECTORY_CHECK_UP_INTERVAL", 15*time.Minute),
		CheckFullPeriod: mustDuration("DIRECTORY_CHECK_FULL_INTERVAL", 24*time.Hour),
		SweepWorkers:    getenvInt("DIRECTORY_SWEEP_WORKERS", 32),
		ChecksToStore:   getenvInt("DIRECTORY_CHECKS_TO_STORE", 100),
		MaxFailures:     getenvInt("DIRECTORY_MAX_FAILURES", 90),

		// Redis settings
		RedisAddr:           getenv("DIRECTORY_REDIS_ADDR", ""),
		RedisUser:           getenv("DIRECTORY_REDIS_USERNAME", ""),
		RedisPassword:       getenv("DIRECTORY_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("DIRECTORY_REDIS_DB", 0),
		RedisDT:             mustDuration("DIRECTORY_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("DIRECTORY_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("DIRECTORY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:       getenvInt("DIRECTORY_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("DIRECTORY_REDIS_CONNECT_TIMEOUT", 30*time.Second),

		ConnectRetryInterval: mustDuration("DIRECTORY_CONNECT_RETRY_INTERVAL", 2*time.Second),
		ConnectMaxWait:       mustDuration("DIRECTORY_CONNECT_MAX_WAIT", 10*time.Second),
		ConnectPingTimeout:   mustDuration("DIRECTORY_CONNECT_PING_TIMEOUT", 5*time.Second),
		ConnectWarnThreshold: getenvInt("DIRECTORY_CONNECT_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts:    splitAndTrim(getenv("DIRECTORY_ALLOWED_HOSTS", "")),
		AllowedCIDRS:    parseAllowedIPs(getenv("DIRECTORY_ALLOWED_CIDRS", "")),
		TrustProxy:      mustBool("DIRECTORY_TRUST_PROXY", true),
		SubmitBurst:     getenvInt("DIRECTORY_SUBMIT_BURST", 5),
		SubmitPerMinute: getenvInt("DIRECTORY_SUBMIT_PER_MINUTE", 10),
	}

	switch cfg.Store {
	case StorePostgres:
		cfg.DatabaseURL = requireEnv("DIRECTORY_DATABASE_URL")
	case StoreMemory:
	default:
		panic(fmt.Sprintf("❌ FATAL: DIRECTORY_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store))
	}

	if cfg.SweepWorkers < 1 {
		panic(fmt.Sprintf("❌ FATAL: DIRECTORY_SWEEP_WORKERS must be >= 1, got %d", cfg.SweepWorkers))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.DatabaseURL != "" {
			cfgCopy.DatabaseURL = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
