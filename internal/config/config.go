package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSweepHours = 24

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 30s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Sweep
	SweepInterval     time.Duration // from TOPOSYNC_SWEEP_INTERVAL_HOURS (fractional hours, default 24h)
	FetchTimeout      time.Duration // per-endpoint fetch deadline
	Workers           int           // concurrent fetches per sweep
	MaxBodyBytes      int64         // cap on a topology document
	SystemRoots       bool          // false => skip the platform pass, private chain only
	MaterialCacheSize int           // parsed client credentials kept in memory

	Store       string // "redis" | "memory"
	CatalogFile string // optional provisioning file, watched for changes

	// Notifications
	NotifyMode  string // "redis" | "webhook" | "log"
	NotifyTopic string // channel or event name
	NotifyURL   string // webhook target (webhook mode only)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

// NeedsRedis reports whether the configured store or notifier talks to redis.
func (c *Config) NeedsRedis() bool {
	return c.Store == "redis" || c.NotifyMode == "redis"
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("TOPOSYNC_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("TOPOSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),

		// Logging
		LogLevel:  getenv("TOPOSYNC_LOG_LEVEL", "info"),
		PrettyLog: mustBool("TOPOSYNC_PRETTY_LOG", true),

		// Sweep
		SweepInterval:     mustHours("TOPOSYNC_SWEEP_INTERVAL_HOURS", defaultSweepHours),
		FetchTimeout:      mustDuration("TOPOSYNC_FETCH_TIMEOUT", 30*time.Second),
		Workers:           getenvInt("TOPOSYNC_WORKERS", 4),
		MaxBodyBytes:      int64(getenvInt("TOPOSYNC_MAX_BODY_BYTES", 8<<20)),
		SystemRoots:       mustBool("TOPOSYNC_SYSTEM_ROOTS", true),
		MaterialCacheSize: getenvInt("TOPOSYNC_MATERIAL_CACHE_SIZE", 256),

		Store:       strings.ToLower(getenv("TOPOSYNC_STORE", "redis")),
		CatalogFile: getenv("TOPOSYNC_CATALOG_FILE", ""),

		NotifyMode:  strings.ToLower(getenv("TOPOSYNC_NOTIFY_MODE", "redis")),
		NotifyTopic: getenv("TOPOSYNC_NOTIFY_TOPIC", "destination.update"),
		NotifyURL:   getenv("TOPOSYNC_NOTIFY_URL", ""),

		// Redis settings
		RedisUser:             getenv("TOPOSYNC_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("TOPOSYNC_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("TOPOSYNC_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("TOPOSYNC_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("TOPOSYNC_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("TOPOSYNC_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("TOPOSYNC_TRUST_PROXY", true),
	}

	switch cfg.Store {
	case "redis", "memory":
	default:
		panic(fmt.Sprintf("❌ FATAL: TOPOSYNC_STORE must be redis or memory, got %q", cfg.Store))
	}

	switch cfg.NotifyMode {
	case "redis", "log":
	case "webhook":
		cfg.NotifyURL = requireEnv("TOPOSYNC_NOTIFY_URL")
	default:
		panic(fmt.Sprintf("❌ FATAL: TOPOSYNC_NOTIFY_MODE must be redis, webhook or log, got %q", cfg.NotifyMode))
	}

	if cfg.NeedsRedis() {
		cfg.RedisAddr = requireEnv("TOPOSYNC_REDIS_ADDR")

		// Validate Redis password configuration
		if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
			panic("❌ FATAL: TOPOSYNC_REDIS_PASSWORD is required when TOPOSYNC_REDIS_PASSWORD_REQUIRED=true")
		}
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
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

// mustHours reads a fractional hour count. Anything unparsable, not finite
// or not strictly positive yields def hours.
func mustHours(key string, def float64) time.Duration {
	fallback := time.Duration(def * float64(time.Hour))
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return fallback
	}
	d := time.Duration(h * float64(time.Hour))
	if d <= 0 {
		return fallback
	}
	return d
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
