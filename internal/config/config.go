// Package config loads the ptzd configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-ptz/internal/ratelimit"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	PTZ       PTZConfig       `yaml:"ptz"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN renders a lib/pq connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	MaxRetries int    `yaml:"max_retries"`
}

type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SigningKey string `yaml:"signing_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PTZConfig struct {
	VMS      VMSConfig      `yaml:"vms"`
	ONVIF    ONVIFConfig    `yaml:"onvif"`
	Hanwha   HanwhaConfig   `yaml:"hanwha"`
	AutoStop AutoStopConfig `yaml:"autostop"`
}

type VMSConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Speed   float64       `yaml:"speed"`
}

type ONVIFConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Speed       float64       `yaml:"speed"`
	MoveTimeout time.Duration `yaml:"move_timeout"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type HanwhaConfig struct {
	Channel       int           `yaml:"channel"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Timeout       time.Duration `yaml:"timeout"`
	PanStep       float64       `yaml:"pan_step"`
	TiltStep      float64       `yaml:"tilt_step"`
	ZoomStep      float64       `yaml:"zoom_step"`
	InvertPan     bool          `yaml:"invert_pan"`
	BurstCount    int           `yaml:"burst_count"`
	BurstInterval time.Duration `yaml:"burst_interval"`
}

type AutoStopConfig struct {
	Coalesce    bool          `yaml:"coalesce"`
	FireTimeout time.Duration `yaml:"fire_timeout"`
}

type RateLimitConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Camera  ratelimit.LimitConfig `yaml:"camera"`
	Client  ratelimit.LimitConfig `yaml:"client"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Name:            "ts_vms",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			Subject:    "ptz.commands",
			MaxRetries: 3,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		PTZ: PTZConfig{
			VMS: VMSConfig{Timeout: 3 * time.Second, Speed: 0.5},
			ONVIF: ONVIFConfig{
				Timeout:     5 * time.Second,
				Speed:       0.04,
				MoveTimeout: 2 * time.Second,
				CacheSize:   1024,
				CacheTTL:    30 * time.Minute,
			},
			Hanwha: HanwhaConfig{
				ProbeTimeout:  1500 * time.Millisecond,
				Timeout:       3 * time.Second,
				PanStep:       5,
				TiltStep:      5,
				ZoomStep:      1,
				BurstCount:    3,
				BurstInterval: 100 * time.Millisecond,
			},
			AutoStop: AutoStopConfig{Coalesce: true, FireTimeout: 5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Camera: ratelimit.LimitConfig{Rate: 20, Window: time.Second},
			Client: ratelimit.LimitConfig{Rate: 100, Window: time.Second},
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DB_HOST", &c.Database.Host)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Name)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("NATS_URL", &c.NATS.URL)
	str("JWT_SIGNING_KEY", &c.Auth.SigningKey)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("DB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		c.Database.Port = port
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Addr = ":" + v
	}
	if _, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Enabled = true
	}
	if _, ok := lookup("NATS_URL"); ok {
		c.NATS.Enabled = true
	}
	return nil
}

// Validate checks the values that would otherwise fail at dispatch time.
func (c *Config) Validate() error {
	var errs []error
	p := c.PTZ
	if p.VMS.Speed <= 0 || p.VMS.Speed > 1 {
		errs = append(errs, fmt.Errorf("ptz.vms.speed must be in (0, 1], got %v", p.VMS.Speed))
	}
	if p.ONVIF.Speed <= 0 || p.ONVIF.Speed > 1 {
		errs = append(errs, fmt.Errorf("ptz.onvif.speed must be in (0, 1], got %v", p.ONVIF.Speed))
	}
	if p.Hanwha.BurstCount < 1 {
		errs = append(errs, fmt.Errorf("ptz.hanwha.burst_count must be at least 1, got %d", p.Hanwha.BurstCount))
	}
	if p.Hanwha.BurstInterval < 0 {
		errs = append(errs, errors.New("ptz.hanwha.burst_interval must not be negative"))
	}
	if c.Auth.Enabled && c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("auth.enabled requires auth.signing_key or JWT_SIGNING_KEY"))
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("ratelimit.enabled requires redis"))
	}
	return errors.Join(errs...)
}
