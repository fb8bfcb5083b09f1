package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Accepted values for cache.backend and database.driver.
const (
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"
	CacheBackendRedis     = "redis"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	Env string

	ServerPort        string
	CORSAllowedOrigin string

	WeatherAPIURL        string
	WeatherAPIKey        string // optional; only the commercial Open-Meteo tier needs one
	WeatherAPITimeout    time.Duration
	WeatherUserAgent     string
	MaxConcurrentFetches int

	RequestTimeout time.Duration

	CacheBackend          string
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RedisTimeout          time.Duration
	CacheWarm             bool
	CacheWarmInterval     time.Duration // 0 warms once at startup

	DatabaseDriver       string
	DatabaseDSN          string
	DatabaseMaxOpenConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	EventsEnabled bool
	KafkaBrokers  []string
	EventsTopic   string

	ShutdownTimeout time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	CORS struct {
		AllowedOrigin string `yaml:"allowed_origin"`
	} `yaml:"cors"`

	WeatherAPI struct {
		URL                  string `yaml:"url"`
		Timeout              string `yaml:"timeout"`
		UserAgent            string `yaml:"user_agent"`
		MaxConcurrentFetches int    `yaml:"max_concurrent_fetches"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		Warm         bool   `yaml:"warm"`
		WarmInterval string `yaml:"warm_interval"`
		Memcached    struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Database struct {
		Driver       string `yaml:"driver"`
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalescing struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalescing"`
	} `yaml:"reliability"`

	Events struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration relative to the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom loads dir/.env into the environment (existing variables win), then
// reads dir/config/{ENV_NAME}.yaml (default dev) and the optional
// dir/config/secrets.yaml. Environment variables override file values.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{Env: env}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "5000")
	cfg.CORSAllowedOrigin = firstNonEmpty(os.Getenv("CORS_ALLOWED_ORIGIN"), fc.CORS.AllowedOrigin, "http://localhost:3000")

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherUserAgent = firstNonEmpty(fc.WeatherAPI.UserAgent, "property-weather-service/1.0")
	cfg.MaxConcurrentFetches = positiveOr(fc.WeatherAPI.MaxConcurrentFetches, 10)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, CacheBackendInMemory))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheWarm = fc.Cache.Warm
	cfg.CacheWarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), fc.Cache.Redis.Password)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cfg.DatabaseDriver = strings.ToLower(firstNonEmpty(os.Getenv("DATABASE_DRIVER"), fc.Database.Driver, DatabaseDriverSQLite))
	cfg.DatabaseDSN = firstNonEmpty(os.Getenv("DATABASE_URL"), fc.Database.DSN, "file:properties.db")
	cfg.DatabaseMaxOpenConns = positiveOr(fc.Database.MaxOpenConns, 10)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 1)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = boolOr(cb.Enabled, true)
	cfg.CircuitBreakerFailureThreshold = positiveOr(cb.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(cb.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	co := fc.Reliability.Coalescing
	cfg.CoalesceEnabled = boolOr(co.Enabled, true)
	cfg.CoalesceTimeout = parseDurationOrZero(co.Timeout, 0)

	cfg.EventsEnabled = fc.Events.Enabled
	cfg.KafkaBrokers = fc.Events.Brokers
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
		cfg.EventsEnabled = true
	}
	cfg.EventsTopic = firstNonEmpty(fc.Events.Topic, "property-searches")

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 5)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.WeatherAPIKey, nil
}

// parseDuration parses s and returns defaultVal when s is empty, invalid or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses s, returning defaultVal on empty or invalid input.
// Zero and negative durations are returned as-is for validate to judge.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

func boolOr(v *bool, defaultVal bool) bool {
	if v == nil {
		return defaultVal
	}
	return *v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validate rejects unusable values and derives dependent defaults. The request
// timeout is raised above the weather timeout, and the coalescing wait defaults
// to one second more than a single fetch.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout <= 0 {
		cfg.CoalesceTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.CacheWarmInterval < 0 {
		return fmt.Errorf("cache.warm_interval must not be negative")
	}
	switch cfg.CacheBackend {
	case CacheBackendInMemory, CacheBackendMemcached, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	switch cfg.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.DatabaseDriver)
	}
	if cfg.EventsEnabled && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("events.brokers required when events are enabled")
	}
	return nil
}
