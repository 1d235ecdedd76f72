package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, one struct per concern.
type Config struct {
	Server    Server
	Authority Authority
	MFA       MFA
	Redis     RedisConfig
	Token     Token
	RateLimit RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	LogLevel       string
	LogFormat      string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxBackups  int
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
}

// Authority points at the iVALT gateway. An empty URL leaves only demo mode
// available.
type Authority struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// MFA holds the handshake cadence and session lifecycle knobs.
type MFA struct {
	CountryCode               string
	DemoMode                  bool
	InitialDelay              time.Duration
	PollInterval              time.Duration
	RetryBackoff              time.Duration
	Timeout                   time.Duration
	DemoStepInterval          time.Duration
	SuccessDisplayDelay       time.Duration
	SimulatedProgressInterval time.Duration
	AmbiguousStatusCodes      []int
	SessionTTL                time.Duration
	ReapInterval              time.Duration
}

// RedisConfig is optional; an empty URL selects the in-memory session store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimit budgets session starts. A zero request count disables a scope.
type RateLimit struct {
	Disabled          bool
	StartsPerMobile   int
	StartsPerIP       int
	Window            time.Duration
	FailureThreshold  int
	RecoveryThreshold int
}

// Token configures the session token minted after a successful handshake.
type Token struct {
	SigningKey string
	Issuer     string
	Audience   string
	TTL        time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed values are reported together rather than silently defaulted.
func FromEnv() (Config, error) {
	p := &parser{}
	cfg := Config{
		Server: Server{
			Addr:           p.str("PUSHAUTH_ADDR", ":8080"),
			LogLevel:       p.str("LOG_LEVEL", "info"),
			LogFormat:      p.str("LOG_FORMAT", "json"),
			LogFile:        p.str("LOG_FILE", ""),
			LogMaxSizeMB:   p.integer("LOG_MAX_SIZE_MB", 100),
			LogMaxBackups:  p.integer("LOG_MAX_BACKUPS", 5),
			RequestTimeout: p.duration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownGrace:  p.duration("SHUTDOWN_GRACE", 10*time.Second),
		},
		Authority: Authority{
			URL:     p.str("AUTHORITY_URL", ""),
			APIKey:  p.str("AUTHORITY_API_KEY", ""),
			Timeout: p.duration("AUTHORITY_TIMEOUT", 15*time.Second),
		},
		MFA: MFA{
			CountryCode:               p.str("MFA_COUNTRY_CODE", "+1"),
			DemoMode:                  p.boolean("MFA_DEMO_MODE", false),
			InitialDelay:              p.duration("MFA_INITIAL_DELAY", time.Second),
			PollInterval:              p.duration("MFA_POLL_INTERVAL", 2*time.Second),
			RetryBackoff:              p.duration("MFA_RETRY_BACKOFF", 3*time.Second),
			Timeout:                   p.duration("MFA_TIMEOUT", 8*time.Minute),
			DemoStepInterval:          p.duration("MFA_DEMO_STEP_INTERVAL", 1500*time.Millisecond),
			SuccessDisplayDelay:       p.duration("MFA_SUCCESS_DISPLAY_DELAY", 1500*time.Millisecond),
			SimulatedProgressInterval: p.duration("MFA_SIMULATED_PROGRESS_INTERVAL", 0),
			AmbiguousStatusCodes:      p.ints("AMBIGUOUS_STATUS_CODES", []int{403}),
			SessionTTL:                p.duration("SESSION_TTL", 15*time.Minute),
			ReapInterval:              p.duration("SESSION_REAP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Token: Token{
			// Use a default for development - should be overridden in production
			SigningKey: p.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:     p.str("JWT_ISSUER", "pushauth"),
			Audience:   p.str("JWT_AUDIENCE", "pushauth-clients"),
			TTL:        p.duration("SESSION_TOKEN_TTL", time.Hour),
		},
		RateLimit: RateLimit{
			Disabled:          p.boolean("RATE_LIMIT_DISABLED", false),
			StartsPerMobile:   p.integer("RATE_LIMIT_STARTS_PER_MOBILE", 5),
			StartsPerIP:       p.integer("RATE_LIMIT_STARTS_PER_IP", 30),
			Window:            p.duration("RATE_LIMIT_WINDOW", 10*time.Minute),
			FailureThreshold:  p.integer("RATE_LIMIT_BREAKER_FAILURES", 5),
			RecoveryThreshold: p.integer("RATE_LIMIT_BREAKER_RECOVERIES", 3),
		},
	}
	if len(p.errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
	}
	return cfg, nil
}

type parser struct {
	errs []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// ints parses a comma separated list of HTTP status codes.
func (p *parser) ints(key string, def []int) []int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 100 || n > 599 {
			p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a status code", key, part))
			return def
		}
		out = append(out, n)
	}
	return out
}
