// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Netting    NettingConfig
	Fee        FeeConfig
	Settlement SettlementConfig
}

type ServerConfig struct {
	Host               string
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MaxBodyBytes       int64
	CORSAllowedOrigins []string
	// DetectRateLimit caps detection requests per client per minute.
	// Zero disables the limiter.
	DetectRateLimit int
}

type DatabaseConfig struct {
	// Backend is "postgres" or "memory".
	Backend         string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL            string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

type LogConfig struct {
	Level string
}

// NettingConfig tunes loop detection.
type NettingConfig struct {
	MaxDepth          int
	MaxResults        int
	StrictDisjoint    bool
	MalformedPolicy   string // "skip" or "fail"
	DefaultCurrency   string
	LoopTTL           time.Duration
	DetectionInterval time.Duration
	ResultCacheTTL    time.Duration
}

// FeeConfig holds the utility-token fee schedule. Values are decimal strings.
type FeeConfig struct {
	Base           string
	PerParticipant string
	ValueDivisor   string
	ValueCap       string
}

type SettlementConfig struct {
	ClearingAccount string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getEnv("SERVER_PORT", "8080"),
			ReadTimeout:        getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:       getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:        getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxBodyBytes:       int64(getIntEnv("SERVER_MAX_BODY_BYTES", 1<<20)),
			CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS"),
			DetectRateLimit:    getIntEnv("DETECT_RATE_LIMIT", 30),
		},
		Database: DatabaseConfig{
			Backend:         strings.ToLower(getEnv("STORAGE_BACKEND", "postgres")),
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:            normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getIntEnv("REDIS_DB", 0),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Netting: NettingConfig{
			MaxDepth:          getIntEnv("NETTING_MAX_DEPTH", 4),
			MaxResults:        getIntEnv("NETTING_MAX_RESULTS", 10),
			StrictDisjoint:    getBoolEnv("NETTING_STRICT_DISJOINT", true),
			MalformedPolicy:   strings.ToLower(getEnv("NETTING_MALFORMED_POLICY", "skip")),
			DefaultCurrency:   strings.ToUpper(getEnv("NETTING_DEFAULT_CURRENCY", "USD")),
			LoopTTL:           getDurationEnv("NETTING_LOOP_TTL", 72*time.Hour),
			DetectionInterval: getDurationEnv("NETTING_DETECTION_INTERVAL", 15*time.Minute),
			ResultCacheTTL:    getDurationEnv("NETTING_RESULT_CACHE_TTL", 5*time.Minute),
		},
		Fee: FeeConfig{
			Base:           getEnv("FEE_BASE", "10"),
			PerParticipant: getEnv("FEE_PER_PARTICIPANT", "5"),
			ValueDivisor:   getEnv("FEE_VALUE_DIVISOR", "1000"),
			ValueCap:       getEnv("FEE_VALUE_CAP", "10"),
		},
		Settlement: SettlementConfig{
			ClearingAccount: getEnv("SETTLEMENT_CLEARING_ACCOUNT", "clearing"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
