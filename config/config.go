package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr string `yaml:"addr"` // пусто: gRPC выключен
}

type HTTP struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
	ReadTimeout     string   `yaml:"readTimeout"`
	IdleTimeout     string   `yaml:"idleTimeout"`
	ShutdownTimeout string   `yaml:"shutdownTimeout"`
	PingEvery       string   `yaml:"pingEvery"`

	ReadTimeoutD     time.Duration `yaml:"-"`
	IdleTimeoutD     time.Duration `yaml:"-"`
	ShutdownTimeoutD time.Duration `yaml:"-"`
	PingEveryD       time.Duration `yaml:"-"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // meeting-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN      string `yaml:"dsn"` // пусто: только память
	MaxConns int32  `yaml:"maxConns"`
}

type ASR struct {
	Mode          string `yaml:"mode"` // iat|rtasr
	AppID         string `yaml:"appId"`
	APIKey        string `yaml:"apiKey"`
	APISecret     string `yaml:"apiSecret"`
	IATURL        string `yaml:"iatUrl"`
	RTASRURL      string `yaml:"rtasrUrl"`
	RetryCooldown string `yaml:"retryCooldown"`

	RetryCooldownD time.Duration `yaml:"-"`
}

type Limits struct {
	Events        int    `yaml:"events"`
	Window        string `yaml:"window"`
	StreamEvents  int    `yaml:"streamEvents"`
	StreamWindow  string `yaml:"streamWindow"`
	SweepInterval string `yaml:"sweepInterval"`
	StaleAfter    string `yaml:"staleAfter"`
	Retention     string `yaml:"retention"`

	WindowD        time.Duration `yaml:"-"`
	StreamWindowD  time.Duration `yaml:"-"`
	SweepIntervalD time.Duration `yaml:"-"`
	StaleAfterD    time.Duration `yaml:"-"`
	RetentionD     time.Duration `yaml:"-"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	ASR      ASR      `yaml:"asr"`
	Limits   Limits   `yaml:"limits"`
}

// LoadConfig reads the optional YAML at CONFIG_PATH, then applies
// environment overrides and defaults.
func LoadConfig() (*Config, error) {
	return load(os.Getenv("CONFIG_PATH"), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		c.HTTP.Addr = ":" + strings.TrimSpace(v)
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	str("GRPC_ADDR", &c.GRPC.Addr)
	str("DATABASE_URL", &c.Postgres.DSN)

	str("IFLYTEK_MODE", &c.ASR.Mode)
	str("IFLYTEK_APPID", &c.ASR.AppID)
	str("IFLYTEK_API_KEY", &c.ASR.APIKey)
	str("IFLYTEK_API_SECRET", &c.ASR.APISecret)
	str("IFLYTEK_IAT_URL", &c.ASR.IATURL)
	str("IFLYTEK_RTASR_URL", &c.ASR.RTASRURL)

	str("APP_ENV", &c.Logging.Env)
	str("LOG_BACKEND", &c.Logging.Backend)
	flag("LOG_DEBUG", &c.Logging.Debug)
}

func (c *Config) validate() error {
	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3001"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "meeting-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Limits.Events <= 0 {
		c.Limits.Events = 100
	}
	if c.Limits.StreamEvents <= 0 {
		c.Limits.StreamEvents = 6000
	}

	c.ASR.Mode = strings.ToLower(c.ASR.Mode)
	switch c.ASR.Mode {
	case "":
		c.ASR.Mode = "rtasr"
	case "iat", "rtasr":
	default:
		return fmt.Errorf("asr.mode must be iat or rtasr, got %q", c.ASR.Mode)
	}
	switch c.Logging.Backend {
	case "std", "zap":
	default:
		return fmt.Errorf("logging.backend must be std or zap, got %q", c.Logging.Backend)
	}

	c.HTTP.ReadTimeoutD = parseDurationOr(15*time.Second, c.HTTP.ReadTimeout)
	c.HTTP.IdleTimeoutD = parseDurationOr(60*time.Second, c.HTTP.IdleTimeout)
	c.HTTP.ShutdownTimeoutD = parseDurationOr(10*time.Second, c.HTTP.ShutdownTimeout)
	c.HTTP.PingEveryD = parseDurationOr(25*time.Second, c.HTTP.PingEvery)
	c.ASR.RetryCooldownD = parseDurationOr(5*time.Second, c.ASR.RetryCooldown)
	c.Limits.WindowD = parseDurationOr(15*time.Minute, c.Limits.Window)
	c.Limits.StreamWindowD = parseDurationOr(time.Minute, c.Limits.StreamWindow)
	c.Limits.SweepIntervalD = parseDurationOr(5*time.Minute, c.Limits.SweepInterval)
	c.Limits.StaleAfterD = parseDurationOr(5*time.Minute, c.Limits.StaleAfter)
	c.Limits.RetentionD = parseDurationOr(30*24*time.Hour, c.Limits.Retention)

	if c.GRPC.Addr != "" && c.GRPC.Addr == c.HTTP.Addr {
		return errors.New("grpc.addr must differ from http.addr")
	}
	return nil
}

// HasDatabase reports whether a durable store is configured.
func (c *Config) HasDatabase() bool { return c.Postgres.DSN != "" }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
