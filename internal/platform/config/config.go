package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	strutil "civreg/pkg/platform/strings"
)

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the full portal configuration. Zero values are never used directly:
// start from Default and overlay a file and the environment.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Backend BackendConfig `yaml:"backend"`
	Gateway GatewayConfig `yaml:"gateway"`
	Cache   CacheConfig   `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Draft   DraftConfig   `yaml:"draft"`
	Redis   RedisConfig   `yaml:"redis"`
	Audit   AuditConfig   `yaml:"audit"`
}

// BackendConfig selects the gateway implementation.
type BackendConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// ListenNotify feeds realtime changes from postgres NOTIFY instead of local writes.
	ListenNotify bool `yaml:"listen_notify"`
	Migrate      bool `yaml:"migrate"`
}

type GatewayConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds Entity Cache TTLs.
type CacheConfig struct {
	ListTTL     time.Duration `yaml:"list_ttl"`
	MetadataTTL time.Duration `yaml:"metadata_ttl"`
	SoftLimit   int           `yaml:"soft_limit"`
}

// StoreConfig tunes the Request Store's background work.
type StoreConfig struct {
	FetchLimit      int           `yaml:"fetch_limit"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	DrainInterval   time.Duration `yaml:"drain_interval"`
	DrainBatch      int           `yaml:"drain_batch"`
	MailboxSize     int           `yaml:"mailbox_size"`
	ErrorDebounce   time.Duration `yaml:"error_debounce"`
}

type DraftConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

// RedisConfig configures the optional redis session storage. Empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuditConfig configures audit publishing. No brokers means in-memory only.
type AuditConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
	AsyncBuffer  int      `yaml:"async_buffer"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Backend:   BackendConfig{Driver: DriverMemory},
		Gateway:   GatewayConfig{Timeout: 10 * time.Second},
		Cache: CacheConfig{
			ListTTL:     30 * time.Second,
			MetadataTTL: 5 * time.Minute,
			SoftLimit:   500,
		},
		Store: StoreConfig{
			FetchLimit:      100,
			RefreshInterval: 3 * time.Minute,
			DrainInterval:   50 * time.Millisecond,
			DrainBatch:      10,
			MailboxSize:     1000,
			ErrorDebounce:   100 * time.Millisecond,
		},
		Draft: DraftConfig{
			PollInterval: time.Second,
			SessionTTL:   12 * time.Hour,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Topic:       "civreg.audit",
			AsyncBuffer: 256,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when empty),
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and CIVREG_* environment variables.
func FromEnv() (Config, error) {
	return Load("")
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("CIVREG_LOG_LEVEL", &c.LogLevel)
	str("CIVREG_LOG_FORMAT", &c.LogFormat)
	str("CIVREG_BACKEND_DRIVER", &c.Backend.Driver)
	str("CIVREG_BACKEND_DSN", &c.Backend.DSN)
	if v, ok := lookup("CIVREG_BACKEND_LISTEN_NOTIFY"); ok {
		c.Backend.ListenNotify = v == "true"
	}
	if v, ok := lookup("CIVREG_BACKEND_MIGRATE"); ok {
		c.Backend.Migrate = v == "true"
	}
	dur("CIVREG_GATEWAY_TIMEOUT", &c.Gateway.Timeout)
	dur("CIVREG_CACHE_LIST_TTL", &c.Cache.ListTTL)
	dur("CIVREG_CACHE_METADATA_TTL", &c.Cache.MetadataTTL)
	num("CIVREG_CACHE_SOFT_LIMIT", &c.Cache.SoftLimit)
	num("CIVREG_STORE_FETCH_LIMIT", &c.Store.FetchLimit)
	dur("CIVREG_STORE_REFRESH_INTERVAL", &c.Store.RefreshInterval)
	dur("CIVREG_DRAFT_POLL_INTERVAL", &c.Draft.PollInterval)
	dur("CIVREG_DRAFT_SESSION_TTL", &c.Draft.SessionTTL)
	str("CIVREG_REDIS_URL", &c.Redis.URL)
	if v, ok := lookup("CIVREG_AUDIT_KAFKA_BROKERS"); ok {
		c.Audit.KafkaBrokers = strutil.SplitList(v)
	}
	str("CIVREG_AUDIT_TOPIC", &c.Audit.Topic)

	return errors.Join(errs...)
}

// Validate rejects configurations the portal cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Backend.DSN == "" {
			errs = append(errs, fmt.Errorf("backend dsn is required for driver %q", c.Backend.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend driver %q", c.Backend.Driver))
	}
	if c.Backend.ListenNotify && c.Backend.Driver != DriverPostgres {
		errs = append(errs, errors.New("listen_notify requires the postgres driver"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway timeout must be positive"))
	}
	if c.Cache.ListTTL <= 0 || c.Cache.MetadataTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.Store.FetchLimit <= 0 {
		errs = append(errs, errors.New("fetch limit must be positive"))
	}
	if c.Store.RefreshInterval < 2*time.Minute || c.Store.RefreshInterval > 5*time.Minute {
		errs = append(errs, errors.New("refresh interval must be between 2m and 5m"))
	}
	if c.Store.DrainInterval <= 0 || c.Store.DrainBatch <= 0 || c.Store.MailboxSize <= 0 {
		errs = append(errs, errors.New("realtime drain settings must be positive"))
	}
	if c.Draft.PollInterval <= 0 {
		errs = append(errs, errors.New("draft poll interval must be positive"))
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Audit.Topic == "" {
		errs = append(errs, errors.New("audit topic is required when kafka brokers are set"))
	}
	return errors.Join(errs...)
}
