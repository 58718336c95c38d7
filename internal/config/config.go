package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/example/dispatch-engine/internal/problems"
)

// EnvPrefix marks the environment variables read as overrides.
const EnvPrefix = "DISPATCH_"

// Config captures all tunable parameters for the server, the location
// consumer and the dispatcher console. Defaults let every binary run locally
// without any setup; a YAML file and then DISPATCH_* variables override them.
type Config struct {
	HTTPAddr        string        `koanf:"http_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisGeoKey   string `koanf:"redis_geo_key"`

	KafkaBrokers       []string `koanf:"kafka_brokers"`
	KafkaTripTopic     string   `koanf:"kafka_trip_topic"`
	KafkaLocationTopic string   `koanf:"kafka_location_topic"`
	KafkaGroup         string   `koanf:"kafka_group"`

	PGDSN         string `koanf:"pg_dsn"`
	RunMigrations bool   `koanf:"run_migrations"`
	// SeedFile is a JSON document loaded into the memory store at startup.
	SeedFile string `koanf:"seed_file"`

	StaleOnTheWay time.Duration `koanf:"stale_on_the_way"`
	StaleArrived  time.Duration `koanf:"stale_arrived"`
	StaleOnTrip   time.Duration `koanf:"stale_on_trip"`

	APIBaseURL   string        `koanf:"api_base_url"`
	PollInterval time.Duration `koanf:"poll_interval"`
	MetricsAddr  string        `koanf:"metrics_addr"`

	LogLevel string `koanf:"log_level"`
}

func Default() Config {
	th := problems.DefaultThresholds()
	return Config{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaTripTopic:     "trip-events",
		KafkaLocationTopic: "driver-locations",
		KafkaGroup:         "dispatch-consumer",
		StaleOnTheWay:      th.OnTheWay,
		StaleArrived:       th.Arrived,
		StaleOnTrip:        th.OnTrip,
		APIBaseURL:         "http://localhost:8080",
		PollInterval:       5 * time.Second,
		MetricsAddr:        ":2112",
		LogLevel:           "info",
	}
}

// Load layers defaults, the optional YAML file at path (or $DISPATCH_CONFIG)
// and DISPATCH_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return cfg, fmt.Errorf("unsupported config format: %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr must be set"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be > 0, got %s", c.PollInterval))
	}
	for name, d := range map[string]time.Duration{
		"stale_on_the_way": c.StaleOnTheWay,
		"stale_arrived":    c.StaleArrived,
		"stale_on_trip":    c.StaleOnTrip,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// Thresholds returns the stale limits for the problem detector.
func (c Config) Thresholds() problems.Thresholds {
	return problems.Thresholds{OnTheWay: c.StaleOnTheWay, Arrived: c.StaleArrived, OnTrip: c.StaleOnTrip}
}

func splitAndTrim(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		for _, r := range strings.Split(v, ",") {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			out = append(out, r)
		}
	}
	return out
}
