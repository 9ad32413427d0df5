// Package config loads scopecache settings from .env files, environment
// variables and an optional YAML document.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/scopecache/scope"
)

// Config is the typed configuration of a scopecache host.
type Config struct {
	Pool  PoolConfig  `yaml:"pool"`
	Scope ScopeConfig `yaml:"scope"`
	Log   LogConfig   `yaml:"log"`
	HTTP  HTTPConfig  `yaml:"http"`
}

type PoolConfig struct {
	ReuseSizeMax int `yaml:"reuseSizeMax"`
	MaxPooled    int `yaml:"maxPooled"` // 0 = GOMAXPROCS
}

type ScopeConfig struct {
	Shards         int  `yaml:"shards"` // 0 = auto, at most scope.MaxShards
	RequestSizeMax int  `yaml:"requestSizeMax"`
	CloseValues    bool `yaml:"closeValues"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
	CookieName  string `yaml:"cookieName"`
	// SessionTTL ends sessions idle for longer; 0 keeps them until ended.
	SessionTTL time.Duration `yaml:"sessionTTL"`
}

// DefaultSessionTTL is the idle timeout applied when none is configured.
const DefaultSessionTTL = 30 * time.Minute

// Load reads .env (if present) and populates a Config from SCOPECACHE_*
// environment variables, falling back to defaults. A variable that is set
// but malformed is a CodeInvalidConfig error naming the variable.
func Load(envFiles ...string) (*Config, error) {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	var e envReader
	cfg := &Config{
		Pool: PoolConfig{
			ReuseSizeMax: e.intVar("SCOPECACHE_POOL_REUSE_SIZE_MAX", scope.DefaultReuseSizeMax),
			MaxPooled:    e.intVar("SCOPECACHE_POOL_MAX_POOLED", 0),
		},
		Scope: ScopeConfig{
			Shards:         e.intVar("SCOPECACHE_SHARDS", 0),
			RequestSizeMax: e.intVar("SCOPECACHE_REQUEST_SIZE_MAX", scope.DefaultRequestSizeMax),
			CloseValues:    e.boolVar("SCOPECACHE_CLOSE_VALUES", false),
		},
		Log: LogConfig{
			Level:   env("SCOPECACHE_LOG_LEVEL", "info"),
			Console: e.boolVar("SCOPECACHE_LOG_CONSOLE", true),
		},
		HTTP: HTTPConfig{
			Addr:        env("SCOPECACHE_HTTP_ADDR", ":8080"),
			MetricsAddr: env("SCOPECACHE_METRICS_ADDR", ""),
			CookieName:  env("SCOPECACHE_COOKIE", "scopecache_session"),
			SessionTTL:  e.durationVar("SCOPECACHE_SESSION_TTL", DefaultSessionTTL),
		},
	}
	if e.err != nil {
		return nil, e.err
	}
	return cfg, cfg.Validate()
}

// LoadFile is Load followed by an overlay of the YAML document at path.
// Keys absent from the document keep their environment or default value.
func LoadFile(path string, envFiles ...string) (*Config, error) {
	cfg, err := Load(envFiles...)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.WithContext(
			perrors.Wrap(err, perrors.CodeInvalidConfig, "reading config file"), "path", path)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, perrors.WithContext(
			perrors.Wrap(err, perrors.CodeInvalidConfig, "parsing config file"), "path", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Pool.ReuseSizeMax < 1:
		return perrors.Newf(perrors.CodeInvalidConfig, "pool.reuseSizeMax must be >= 1, got %d", c.Pool.ReuseSizeMax)
	case c.Pool.MaxPooled < 0:
		return perrors.Newf(perrors.CodeInvalidConfig, "pool.maxPooled must be >= 0, got %d", c.Pool.MaxPooled)
	case c.Scope.Shards < 0 || c.Scope.Shards > scope.MaxShards:
		return perrors.Newf(perrors.CodeInvalidConfig, "scope.shards must be in [0, %d], got %d", scope.MaxShards, c.Scope.Shards)
	case c.Scope.RequestSizeMax < 1:
		return perrors.Newf(perrors.CodeInvalidConfig, "scope.requestSizeMax must be >= 1, got %d", c.Scope.RequestSizeMax)
	case c.HTTP.SessionTTL < 0:
		return perrors.Newf(perrors.CodeInvalidConfig, "http.sessionTTL must be >= 0, got %s", c.HTTP.SessionTTL)
	case strings.TrimSpace(c.HTTP.CookieName) == "":
		return perrors.New(perrors.CodeInvalidConfig, "http.cookieName must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return perrors.Wrap(err, perrors.CodeInvalidConfig, "log.level")
	}
	return nil
}

// PoolOptions projects the pool settings onto scope.PoolOptions.
func (c *Config) PoolOptions(m scope.Metrics, log *zerolog.Logger) scope.PoolOptions {
	return scope.PoolOptions{
		ReuseSizeMax: c.Pool.ReuseSizeMax,
		MaxPooled:    c.Pool.MaxPooled,
		Metrics:      m,
		Logger:       log,
	}
}

// Level returns the configured log level (info when unparsable).
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// Logger builds a root logger honoring Level and Console.
func (c *Config) Logger() zerolog.Logger {
	var l zerolog.Logger
	if c.Log.Console {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(c.Level()).With().Timestamp().Logger()
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed variables, keeping the first failure.
type envReader struct{ err error }

func (e *envReader) lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != "" && e.err == nil
}

func (e *envReader) fail(key, v string, err error) {
	e.err = perrors.WithContextMap(
		perrors.Wrapf(err, perrors.CodeInvalidConfig, "invalid %s", key),
		map[string]interface{}{"var": key, "value": v})
}

func (e *envReader) intVar(key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return i
}

func (e *envReader) boolVar(key string, fallback bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return b
}

func (e *envReader) durationVar(key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return d
}
