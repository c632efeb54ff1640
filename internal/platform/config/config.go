package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration assembled from the environment.
// Tunable gate thresholds are not here: they live in the settings source so
// they can change without a restart.
type Config struct {
	Server   Server
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
	Guard    GuardConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
}

// RedisConfig configures the shared store every gate serializes through.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig is optional; without a URL the allowlist is kept in memory.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// KafkaConfig is optional; without brokers audit events only go to the log.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// GuardConfig holds the static wiring of the gates.
type GuardConfig struct {
	SettingsFile        string
	SettingsCacheTTL    time.Duration
	StoreTimeout        time.Duration
	TrustedProxies      []netip.Prefix
	IdentifierSalt      string
	FingerprintEnabled  bool
	ChallengeSigningKey string
	BreakerFailures     int
	BreakerCooldown     time.Duration
}

// Load builds a Config from environment variables so main stays lean.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		Server: Server{
			Addr:            getEnv("CHATGUARD_ADDR", ":8080"),
			AdminToken:      os.Getenv("ADMIN_API_TOKEN"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 20, &errs),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 2*time.Second, &errs),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond, &errs),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond, &errs),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 10, &errs),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5, &errs),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "chatguard.audit"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Guard: GuardConfig{
			SettingsFile:        os.Getenv("SETTINGS_FILE"),
			SettingsCacheTTL:    getDuration("SETTINGS_CACHE_TTL", 0, &errs),
			StoreTimeout:        getDuration("STORE_TIMEOUT", 250*time.Millisecond, &errs),
			IdentifierSalt:      os.Getenv("IDENTIFIER_SALT"),
			FingerprintEnabled:  getBool("FINGERPRINT_ENABLED", false, &errs),
			ChallengeSigningKey: os.Getenv("CHALLENGE_SIGNING_KEY"),
			BreakerFailures:     getInt("STORE_BREAKER_FAILURES", 5, &errs),
			BreakerCooldown:     getDuration("STORE_BREAKER_COOLDOWN", 5*time.Second, &errs),
		},
	}

	proxies, err := ParseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Guard.TrustedProxies = proxies

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants main relies on.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Guard.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.Guard.StoreTimeout)
	}
	if c.Guard.SettingsCacheTTL < 0 {
		return fmt.Errorf("SETTINGS_CACHE_TTL cannot be negative")
	}
	if len(c.Guard.IdentifierSalt) < 16 {
		return fmt.Errorf("IDENTIFIER_SALT must be at least 16 characters")
	}
	if len(c.Guard.ChallengeSigningKey) < 32 {
		return fmt.Errorf("CHALLENGE_SIGNING_KEY must be at least 32 characters")
	}
	if c.Guard.BreakerFailures <= 0 {
		return fmt.Errorf("STORE_BREAKER_FAILURES must be positive")
	}
	return nil
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or bare addresses.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range splitList(raw) {
		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid CIDR %q: %w", item, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q: %w", item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
