// Package config loads the settings of an event store process from a YAML
// file, a .env file and EVENTCORE_* environment variables, in rising order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/eventstore/postgres"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

var ErrInvalid = errors.New("eventcore.config: invalid config")

type Config struct {
	Backend  string `yaml:"backend"`
	Origin   int64  `yaml:"origin"`
	LogLevel string `yaml:"log_level"`

	Postgres      postgres.Config `yaml:"postgres"`
	Badger        Badger          `yaml:"badger"`
	Metrics       Metrics         `yaml:"metrics"`
	Subscriptions Subscriptions   `yaml:"subscriptions"`
}

type Badger struct {
	Dir string `yaml:"dir"`
}

type Metrics struct {
	// Namespace prefixes every metric. Empty disables metrics.
	Namespace string `yaml:"namespace"`
}

type Subscriptions struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxFailures  int           `yaml:"max_failures"`
}

// Default is an in-memory store with the default origin.
func Default() Config {
	return Config{
		Backend:  BackendMemory,
		Origin:   eventstore.DefaultOrigin,
		LogLevel: "info",
		Badger:   Badger{Dir: "data"},
		Metrics:  Metrics{Namespace: "eventcore"},
		Subscriptions: Subscriptions{
			PollInterval: time.Second,
			BatchSize:    100,
			MaxFailures:  10,
		},
	}
}

// Load reads .env from the working directory if there is one, then path
// when it is not empty, then the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("eventcore.config: loading .env: %w", err)
	}

	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("eventcore.config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return Config{}, fmt.Errorf("eventcore.config: parsing %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv() error {
	c.Backend = defaultS("EVENTCORE_BACKEND", c.Backend)
	c.LogLevel = defaultS("EVENTCORE_LOG_LEVEL", c.LogLevel)
	c.Postgres.Host = defaultS("EVENTCORE_DB_HOST", c.Postgres.Host)
	c.Postgres.User = defaultS("EVENTCORE_DB_USER", c.Postgres.User)
	c.Postgres.Pass = defaultS("EVENTCORE_DB_PASS", c.Postgres.Pass)
	c.Postgres.Name = defaultS("EVENTCORE_DB_NAME", c.Postgres.Name)
	c.Postgres.SSLMode = defaultS("EVENTCORE_DB_SSLMODE", c.Postgres.SSLMode)
	c.Postgres.Outbox = defaultS("EVENTCORE_OUTBOX", c.Postgres.Outbox)
	c.Badger.Dir = defaultS("EVENTCORE_BADGER_DIR", c.Badger.Dir)
	c.Metrics.Namespace = defaultS("EVENTCORE_METRICS_NAMESPACE", c.Metrics.Namespace)

	if port := os.Getenv("EVENTCORE_DB_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: EVENTCORE_DB_PORT %q", ErrInvalid, port)
		}
		c.Postgres.Port = n
	}
	if origin := os.Getenv("EVENTCORE_ORIGIN"); origin != "" {
		n, err := strconv.ParseInt(origin, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: EVENTCORE_ORIGIN %q", ErrInvalid, origin)
		}
		c.Origin = n
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.Name == "" {
			return fmt.Errorf("%w: postgres needs a host and a database name", ErrInvalid)
		}
	case BackendBadger:
		if c.Badger.Dir == "" {
			return fmt.Errorf("%w: badger needs a directory", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if c.Origin < 0 {
		return fmt.Errorf("%w: origin must not be negative", ErrInvalid)
	}
	return nil
}

func defaultS(key string, dflt string) string {
	value := os.Getenv(key)
	if value == "" {
		return dflt
	}
	return value
}
