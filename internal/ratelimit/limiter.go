package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	ScopeClient Scope = "client"
	ScopeCamera Scope = "camera"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time // When the window resets
	RetryAfter int       // Seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Enabled reports whether the config limits anything.
func (c LimitConfig) Enabled() bool {
	return c.Rate > 0 && c.Window > 0
}

// Fixed window counter: INCR, set expiry on the first hit, return count and remaining TTL.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	local ttl = redis.call("PTTL", KEYS[1])
	return {current, ttl}
`)

type Limiter struct {
	client *redis.Client
	salt   string // For IP hashing stability
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP creates a privacy-safe hash of the IP
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

// CheckClient limits control requests per caller IP.
func (l *Limiter) CheckClient(ctx context.Context, ip string, cfg LimitConfig) (*Decision, error) {
	return l.check(ctx, ScopeClient, "rl:ptz:client:"+l.HashIP(ip), cfg)
}

// CheckCamera limits motion commands per camera so a stuck UI cannot flood a device.
func (l *Limiter) CheckCamera(ctx context.Context, cameraKey string, cfg LimitConfig) (*Decision, error) {
	return l.check(ctx, ScopeCamera, "rl:ptz:camera:"+cameraKey, cfg)
}

func (l *Limiter) check(ctx context.Context, scope Scope, key string, cfg LimitConfig) (*Decision, error) {
	if !cfg.Enabled() {
		return &Decision{Scope: scope, Allowed: true}, nil
	}

	res, err := windowScript.Run(ctx, l.client, []string{key}, cfg.Window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return nil, ErrRedisUnavailable
	}
	count, ttlMs := int(res[0]), res[1]
	if ttlMs < 0 {
		ttlMs = cfg.Window.Milliseconds()
	}
	ttl := time.Duration(ttlMs) * time.Millisecond

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := int((ttl + time.Second - 1) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &Decision{
		Scope:      scope,
		Limit:      cfg.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(ttl),
		RetryAfter: retryAfter,
		Allowed:    count <= cfg.Rate,
	}, nil
}
