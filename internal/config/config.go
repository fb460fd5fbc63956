package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	Env         string

	// CookieSameSiteNone relaxes auth cookies to SameSite=None for cross-site dev frontends.
	CookieSameSiteNone bool

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	PublicBaseURL string
	BcryptCost    int

	Redis RedisConfig

	AMQPURL    string
	AuditQueue string

	LoginRateLimit    int
	LoginRateWindow   time.Duration
	CheckInRateLimit  int
	CheckInRateWindow time.Duration

	SessionSweepInterval time.Duration
	SessionSweepTimeout  time.Duration

	// TrustedProxies are the peers allowed to set X-Forwarded-For / X-Real-IP.
	// Empty means forwarding headers are ignored and clients are keyed by socket address.
	TrustedProxies []netip.Prefix
}

// RedisConfig holds the shared counter store connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// Production reports whether cookies must be marked Secure
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getenv("PORT", "8080"),
		Env:                getenv("ENV", "development"),
		CookieSameSiteNone: getenvBool("COOKIE_SAMESITE_NONE", false),
		AccessTokenTTL:     getenvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:    getenvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		PublicBaseURL:      strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		BcryptCost:         getenvInt("BCRYPT_COST", 12),
		Redis:              loadRedis(),
		AMQPURL:            getenv("AMQP_URL", os.Getenv("RABBITMQ_URL")),
		AuditQueue:         getenv("AUDIT_QUEUE", "security.events"),
		LoginRateLimit:     getenvInt("LOGIN_RATE_LIMIT", 5),
		LoginRateWindow:    getenvDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
		CheckInRateLimit:   getenvInt("CHECKIN_RATE_LIMIT", 10),
		CheckInRateWindow:  getenvDuration("CHECKIN_RATE_WINDOW", time.Minute),

		SessionSweepInterval: getenvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		SessionSweepTimeout:  getenvDuration("SESSION_SWEEP_TIMEOUT", 30*time.Second),
	}

	// Load DATABASE_URL (required)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Load JWT_SECRET (required)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", cfg.BcryptCost)
	}
	if cfg.LoginRateLimit < 1 || cfg.CheckInRateLimit < 1 {
		return nil, fmt.Errorf("rate limits must be positive")
	}

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	return cfg, nil
}

func loadRedis() RedisConfig {
	addr := getenv("REDIS_ADDR", "")
	host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	return RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getenvInt("REDIS_DB", 0),
		TLS:      getenvBool("REDIS_TLS", false),
	}
}

// parseTrustedProxies reads a comma-separated list of addresses or CIDR prefixes
func parseTrustedProxies(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid prefix %q: %w", item, err)
			}
			out = append(out, p.Masked())
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

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
