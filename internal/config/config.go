// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret     string
	TokenTTL      time.Duration
	AllowedOrigin string
	FrontendURL   string
	Production    bool

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	PingInterval     time.Duration
	TurnTimeout      time.Duration
	ForfeitThreshold int
	ReconnectGrace   time.Duration
	PlayAgainTTL     time.Duration
	InvitationTTL    time.Duration
	OutboxTTL        time.Duration
	RequestCacheTTL  time.Duration
	AckTimeout       time.Duration
	AckMaxRetries    int
	AckRetention     time.Duration

	BetTiers       []int64
	RoomCodeLength int

	AutoProvisionUsers bool
	StartingCoins      int64

	ShutdownTimeout time.Duration
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] no .env file loaded: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		Port:        p.str("PORT", "8080"),
		DatabaseURL: p.str("DATABASE_URL", ""),

		RedisAddr:     p.str("REDIS_ADDR", ""),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),

		JWTSecret:     p.str("JWT_SECRET", ""),
		TokenTTL:      p.duration("TOKEN_TTL", 7*24*time.Hour),
		AllowedOrigin: p.str("ALLOWED_ORIGIN", "http://localhost:5173"),
		FrontendURL:   p.str("FRONTEND_URL", "http://localhost:5173"),
		Production:    p.str("ENV", "") == "production",

		GoogleClientID:     p.str("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: p.str("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  p.str("GOOGLE_REDIRECT_URL", ""),

		PingInterval:     p.duration("PING_INTERVAL", 25*time.Second),
		TurnTimeout:      p.duration("TURN_TIMEOUT", 30*time.Second),
		ForfeitThreshold: p.integer("AUTO_PLAY_FORFEIT_THRESHOLD", 3),
		ReconnectGrace:   p.duration("RECONNECT_GRACE", 30*time.Second),
		PlayAgainTTL:     p.duration("PLAY_AGAIN_TTL", 5*time.Minute),
		InvitationTTL:    p.duration("INVITATION_TTL", 24*time.Hour),
		OutboxTTL:        p.duration("OUTBOX_TTL", 10*time.Minute),
		RequestCacheTTL:  p.duration("REQUEST_CACHE_TTL", 30*time.Second),
		AckTimeout:       p.duration("ACK_TIMEOUT", 5*time.Second),
		AckMaxRetries:    p.integer("ACK_MAX_RETRIES", 3),
		AckRetention:     p.duration("ACK_RETENTION", 10*time.Minute),

		BetTiers:       p.tiers("MATCHMAKING_BET_TIERS", []int64{5000, 10000, 50000, 100000, 1000000, 10000000}),
		RoomCodeLength: p.integer("ROOM_CODE_LENGTH", 6),

		AutoProvisionUsers: p.boolean("AUTO_PROVISION_USERS", false),
		StartingCoins:      int64(p.integer("STARTING_COINS", 100000)),

		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"PING_INTERVAL":     c.PingInterval,
		"RECONNECT_GRACE":   c.ReconnectGrace,
		"PLAY_AGAIN_TTL":    c.PlayAgainTTL,
		"INVITATION_TTL":    c.InvitationTTL,
		"OUTBOX_TTL":        c.OutboxTTL,
		"REQUEST_CACHE_TTL": c.RequestCacheTTL,
		"ACK_TIMEOUT":       c.AckTimeout,
		"ACK_RETENTION":     c.AckRetention,
		"SHUTDOWN_TIMEOUT":  c.ShutdownTimeout,
		"TOKEN_TTL":         c.TokenTTL,
	}
	keys := make([]string, 0, len(positive))
	for k := range positive {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if positive[k] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", k))
		}
	}
	if c.TurnTimeout < 0 {
		errs = append(errs, errors.New("TURN_TIMEOUT must not be negative"))
	}
	if c.ForfeitThreshold < 0 {
		errs = append(errs, errors.New("AUTO_PLAY_FORFEIT_THRESHOLD must not be negative"))
	}
	if c.AckMaxRetries < 1 {
		errs = append(errs, errors.New("ACK_MAX_RETRIES must be at least 1"))
	}
	if c.RoomCodeLength < 4 || c.RoomCodeLength > 16 {
		errs = append(errs, errors.New("ROOM_CODE_LENGTH must be between 4 and 16"))
	}
	if len(c.BetTiers) == 0 {
		errs = append(errs, errors.New("MATCHMAKING_BET_TIERS must list at least one amount"))
	}
	if c.StartingCoins < 0 {
		errs = append(errs, errors.New("STARTING_COINS must not be negative"))
	}
	if c.Production && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// duration accepts Go durations ("30s") or plain seconds ("30").
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) tiers(key string, def []int64) []int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	tiers, err := ParseTiers(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return tiers
}

// ParseTiers parses a comma separated list of positive, distinct bet amounts.
func ParseTiers(s string) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("tier %d must be positive", n)
		}
		if seen[n] {
			return nil, fmt.Errorf("tier %d listed twice", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("no tiers listed")
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
