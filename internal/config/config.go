package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	WeatherAPIKey     string        `validate:"required,min=10"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`
	ForecastDays      int           `validate:"min=1,max=14"`

	RequestTimeout time.Duration `validate:"gt=0"`

	RetryAttempts  int           `validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `validate:"gt=0"`
	RetryMaxDelay  time.Duration `validate:"gtefield=RetryBaseDelay"`
	RateLimitRPS   int           `validate:"min=1"`
	RateLimitBurst int           `validate:"min=1"`

	BreakerFailureThreshold int           `validate:"min=1"`
	BreakerSuccessThreshold int           `validate:"min=1"`
	BreakerTimeout          time.Duration `validate:"gt=0"`

	CacheValidity     time.Duration `validate:"gt=0"`
	CacheWarmInterval time.Duration `validate:"gte=0"`
	CacheWarmCities   []string

	HistoryMaxEntries int `validate:"min=1,max=50"`

	SearchMinQueryLength int           `validate:"min=1"`
	SearchDebounce       time.Duration `validate:"gt=0"`

	DefaultCity string `validate:"required"`

	StorageBackend        string `validate:"oneof=memory sqlite mysql memcached"`
	SQLitePath            string `validate:"required_if=StorageBackend sqlite"`
	MySQLDSN              string `validate:"required_if=StorageBackend mysql"`
	MemcachedAddrs        string `validate:"required_if=StorageBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ProbeURL      string        `validate:"omitempty,url"`
	ProbeInterval time.Duration `validate:"gt=0"`
	ProbeTimeout  time.Duration `validate:"gt=0"`
	StartOffline  bool

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"min=1,max=100"`

	ShutdownTimeout time.Duration `validate:"gt=0"`

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL          string `yaml:"url"`
		Timeout      string `yaml:"timeout"`
		ForecastDays int    `yaml:"forecast_days"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Cache struct {
		Validity     string   `yaml:"validity"`
		WarmInterval string   `yaml:"warm_interval"`
		WarmCities   []string `yaml:"warm_cities"`
	} `yaml:"cache"`

	History struct {
		MaxEntries int `yaml:"max_entries"`
	} `yaml:"history"`

	Search struct {
		MinQueryLength int    `yaml:"min_query_length"`
		Debounce       string `yaml:"debounce"`
	} `yaml:"search"`

	DefaultCity string `yaml:"default_city"`

	Storage struct {
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
		MySQLDSN   string `yaml:"mysql_dsn"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"storage"`

	Connectivity struct {
		ProbeURL      string `yaml:"probe_url"`
		ProbeInterval string `yaml:"probe_interval"`
		ProbeTimeout  string `yaml:"probe_timeout"`
		StartOffline  bool   `yaml:"start_offline"`
	} `yaml:"connectivity"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

var validate = validator.New()

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) under the
// working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads configuration relative to root:
//   - root/.env is loaded into the environment if present (existing vars win)
//   - root/config/{ENV_NAME}.yaml provides the settings
//   - the API key comes from WEATHER_API_KEY or root/config/secrets.yaml
//   - selected environment variables override the file
func LoadFrom(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(root, "config", env+".yaml")
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

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey, err = loadAPIKey(root)
	if err != nil {
		return nil, err
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, "https://api.weatherapi.com/v1")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.ForecastDays = intOr(fc.WeatherAPI.ForecastDays, 7)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.RetryAttempts = intOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = intOr(fc.Reliability.RateLimitRPS, 20)
	cfg.RateLimitBurst = intOr(fc.Reliability.RateLimitBurst, 40)
	cfg.BreakerFailureThreshold = intOr(fc.Reliability.BreakerFailureThreshold, 5)
	cfg.BreakerSuccessThreshold = intOr(fc.Reliability.BreakerSuccessThreshold, 1)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.CacheValidity = parseDuration(fc.Cache.Validity, 30*time.Minute)
	cfg.CacheWarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 15*time.Minute)
	cfg.CacheWarmCities = fc.Cache.WarmCities

	cfg.HistoryMaxEntries = intOr(fc.History.MaxEntries, 5)
	cfg.SearchMinQueryLength = intOr(fc.Search.MinQueryLength, 3)
	cfg.SearchDebounce = parseDuration(fc.Search.Debounce, time.Second)
	cfg.DefaultCity = firstNonEmpty(strings.TrimSpace(fc.DefaultCity), "Riyadh")

	cfg.StorageBackend = strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("STORAGE_BACKEND")),
		strings.TrimSpace(fc.Storage.Backend),
		"sqlite"))
	cfg.SQLitePath = firstNonEmpty(os.Getenv("SQLITE_PATH"), fc.Storage.SQLitePath, "weather-lookup.db")
	cfg.MySQLDSN = firstNonEmpty(os.Getenv("MYSQL_DSN"), fc.Storage.MySQLDSN)
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Storage.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Storage.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = intOr(fc.Storage.Memcached.MaxIdleConns, 2)

	cfg.ProbeURL = firstNonEmpty(fc.Connectivity.ProbeURL, cfg.WeatherAPIURL)
	cfg.ProbeInterval = parseDuration(fc.Connectivity.ProbeInterval, 15*time.Second)
	cfg.ProbeTimeout = parseDuration(fc.Connectivity.ProbeTimeout, 3*time.Second)
	cfg.StartOffline = fc.Connectivity.StartOffline
	if v, err := strconv.ParseBool(os.Getenv("WEATHER_OFFLINE")); err == nil {
		cfg.StartOffline = v
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = intOr(fc.Health.DegradedErrorPct, 20)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKey(root string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("WEATHER_API_KEY")); key != "" {
		return key, nil
	}
	secretsData, err := os.ReadFile(filepath.Join(root, "config", "secrets.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
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

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validateConfig runs the struct rules and adjusts RequestTimeout so a full
// retry cycle fits inside one request.
func validateConfig(cfg *Config) error {
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
