package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the gateway.
type Config struct {
	APIKey       string   `yaml:"api_key"`
	Debug        bool     `yaml:"debug"`
	Platform     string   `yaml:"platform"`
	ExcludePaths []string `yaml:"exclude_paths"`

	Origin    OriginConfig    `yaml:"origin"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Collector CollectorConfig `yaml:"collector"`
	Cache     CacheConfig     `yaml:"cache"`
	DB        SQLConfig       `yaml:"db"`
	Inject    InjectConfig    `yaml:"inject"`
	Annotate  AnnotateConfig  `yaml:"annotate"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OriginConfig identifies the upstream server admitted traffic is relayed to.
// The URL may omit its scheme, in which case https is assumed.
type OriginConfig struct {
	URL            string   `yaml:"url"`
	Timeout        Duration `yaml:"timeout"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// PatternsConfig controls how the detection dataset is fetched and refreshed.
type PatternsConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	CacheTTL     Duration `yaml:"cache_ttl"`
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
}

// CollectorConfig controls event delivery to the central collector.
type CollectorConfig struct {
	Endpoint        string   `yaml:"endpoint"`
	Timeout         Duration `yaml:"timeout"`
	BlockTimeout    Duration `yaml:"block_timeout"`
	AwaitBlocked    bool     `yaml:"await_blocked"`
	EventsPerSecond float64  `yaml:"events_per_second"`
	EventsBurst     int      `yaml:"events_burst"`
}

// CacheConfig selects the shared pattern-cache tier.
type CacheConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig describes a Redis server used as the shared cache tier.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Timeout  Duration `yaml:"timeout"`
}

// SQLConfig describes an optional relational database for event storage.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// InjectConfig controls beacon-script injection into HTML origin responses.
type InjectConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BeaconURL    string `yaml:"beacon_url"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// AnnotateConfig enables crawler annotations computed on the logging path.
type AnnotateConfig struct {
	Robots        bool     `yaml:"robots"`
	RobotsTTL     Duration `yaml:"robots_ttl"`
	Verify        bool     `yaml:"verify"`
	VerifyTimeout Duration `yaml:"verify_timeout"`
	VerifyTTL     Duration `yaml:"verify_ttl"`
}

// TasksConfig sizes the background worker pool.
type TasksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ServerConfig controls the traffic and admin listeners.
type ServerConfig struct {
	Listen            string   `yaml:"listen"`
	AdminListen       string   `yaml:"admin_listen"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Platform: "go",
		Origin: OriginConfig{
			Timeout: DurationFrom(30 * time.Second),
		},
		Patterns: PatternsConfig{
			CacheTTL:     DurationFrom(1 * time.Hour),
			Timeout:      DurationFrom(10 * time.Second),
			MaxBodyBytes: 4 * 1024 * 1024,
		},
		Collector: CollectorConfig{
			Timeout:         DurationFrom(10 * time.Second),
			BlockTimeout:    DurationFrom(2 * time.Second),
			AwaitBlocked:    true,
			EventsPerSecond: 50,
			EventsBurst:     100,
		},
		Cache: CacheConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Timeout: DurationFrom(5 * time.Second),
			},
		},
		Inject: InjectConfig{
			Enabled:      false,
			MaxBodyBytes: 2 * 1024 * 1024,
		},
		Annotate: AnnotateConfig{
			Robots:        true,
			RobotsTTL:     DurationFrom(6 * time.Hour),
			Verify:        false,
			VerifyTimeout: DurationFrom(2 * time.Second),
			VerifyTTL:     DurationFrom(1 * time.Hour),
		},
		Tasks: TasksConfig{
			Workers:   8,
			QueueSize: 1024,
		},
		Server: ServerConfig{
			Listen:            ":8080",
			ReadHeaderTimeout: DurationFrom(10 * time.Second),
			IdleTimeout:       DurationFrom(90 * time.Second),
			ShutdownTimeout:   DurationFrom(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	if err := decodeYAML(fh, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the gateway configuration.
// The origin URL is deliberately not checked here: an unparsable origin
// disables detection at runtime instead of refusing to start.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("server.listen must be set")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0 (got %d)", c.Tasks.Workers)
	}
	if c.Tasks.QueueSize <= 0 {
		return fmt.Errorf("tasks.queue_size must be > 0 (got %d)", c.Tasks.QueueSize)
	}
	if c.Patterns.CacheTTL.Duration <= 0 {
		return fmt.Errorf("patterns.cache_ttl must be > 0 (got %s)", c.Patterns.CacheTTL)
	}
	if c.Patterns.MaxBodyBytes <= 0 {
		return fmt.Errorf("patterns.max_body_bytes must be > 0 (got %d)", c.Patterns.MaxBodyBytes)
	}
	if c.Collector.BlockTimeout.Duration <= 0 {
		return fmt.Errorf("collector.block_timeout must be > 0 (got %s)", c.Collector.BlockTimeout)
	}
	if c.Collector.EventsPerSecond < 0 {
		return fmt.Errorf("collector.events_per_second must be >= 0 (got %g)", c.Collector.EventsPerSecond)
	}
	switch c.Cache.Backend {
	case "", "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return errors.New("cache.redis.addr must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	if c.DB.Driver != "" && strings.TrimSpace(c.DB.DSN) == "" {
		return errors.New("db.dsn must be set when db.driver is configured")
	}
	if c.Inject.Enabled {
		if strings.TrimSpace(c.Inject.BeaconURL) == "" {
			return errors.New("inject.beacon_url must be set when inject.enabled is true")
		}
		if c.Inject.MaxBodyBytes <= 0 {
			return fmt.Errorf("inject.max_body_bytes must be > 0 (got %d)", c.Inject.MaxBodyBytes)
		}
	}
	return nil
}

func (c *Config) normalise() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.Platform = strings.TrimSpace(c.Platform)
	c.Origin.URL = strings.TrimSpace(c.Origin.URL)
	c.Patterns.Endpoint = strings.TrimSpace(c.Patterns.Endpoint)
	c.Collector.Endpoint = strings.TrimSpace(c.Collector.Endpoint)
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Cache.Redis.Addr = strings.TrimSpace(c.Cache.Redis.Addr)
	c.Inject.BeaconURL = strings.TrimSpace(c.Inject.BeaconURL)

	// Exclusion entries keep their configured order; first match wins.
	if len(c.ExcludePaths) > 0 {
		cleaned := make([]string, 0, len(c.ExcludePaths))
		for _, raw := range c.ExcludePaths {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			cleaned = append(cleaned, raw)
		}
		c.ExcludePaths = cleaned
	}
	if len(c.Origin.TrustedProxies) > 0 {
		cleaned := make([]string, 0, len(c.Origin.TrustedProxies))
		for _, raw := range c.Origin.TrustedProxies {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			cleaned = append(cleaned, raw)
		}
		c.Origin.TrustedProxies = cleaned
	}
}
