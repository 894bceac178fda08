package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	BindAddr string

	// Node identity and cluster membership
	NodeID    string
	NodeAddr  string
	PeerAddrs []string

	// Election timing (milliseconds in the environment)
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration

	// Lease TTL policy
	DefaultTTL time.Duration
	MaxTTL     time.Duration

	// Storage backend: memory, postgres or redis
	StorageBackend string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int

	// Sweeper
	SweepSchedule  string
	SweepRetention time.Duration

	// Audit archiving (disabled when the bucket is empty)
	AuditS3Bucket   string
	AuditS3Prefix   string
	AuditS3Region   string
	AuditS3Endpoint string
	AWSAccessKeyID  string
	AWSSecretKey    string

	// Auth (disabled when the secret is empty)
	JWTSecret string

	// Observability
	LogLevel       string
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() *Config {
	return &Config{
		BindAddr: getEnv("BIND_ADDR", ":8080"),

		NodeID:    getEnv("NODE_ID", hostnameOr("coordinator-1")),
		NodeAddr:  getEnv("NODE_ADDR", "localhost:8080"),
		PeerAddrs: splitList(getEnv("PEER_ADDRS", "")),

		ElectionTimeout:   getEnvAsMillis("ELECTION_TIMEOUT_MS", 1500),
		HeartbeatInterval: getEnvAsMillis("HEARTBEAT_INTERVAL_MS", 500),
		PeerTimeout:       getEnvAsMillis("PEER_TIMEOUT_MS", 500),

		DefaultTTL: time.Duration(getEnvAsInt("LEASE_DEFAULT_TTL_SECS", 30)) * time.Second,
		MaxTTL:     time.Duration(getEnvAsInt("LEASE_MAX_TTL_SECS", 300)) * time.Second,

		StorageBackend: getEnv("STORAGE_BACKEND", "memory"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "camcoord"),
		DBPassword:     getEnv("DB_PASSWORD", "password"),
		DBName:         getEnv("DB_NAME", "camcoord"),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),

		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 1m"),
		SweepRetention: time.Duration(getEnvAsInt("SWEEP_RETENTION_SECS", 3600)) * time.Second,

		AuditS3Bucket:   getEnv("AUDIT_S3_BUCKET", ""),
		AuditS3Prefix:   getEnv("AUDIT_S3_PREFIX", "audit/leases/"),
		AuditS3Region:   getEnv("AUDIT_S3_REGION", "us-east-1"),
		AuditS3Endpoint: getEnv("AUDIT_S3_ENDPOINT", ""),
		AWSAccessKeyID:  getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}
}

// PostgresDSN assembles the connection string for the postgres backend.
func (c *Config) PostgresDSN() string {
	return "host=" + c.DBHost +
		" port=" + c.DBPort +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}

// RedisAddr assembles the address for the redis backend.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Millisecond
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
