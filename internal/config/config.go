// Package config loads the client configuration from a YAML (or JSON) file,
// an optional .env file and TETHER_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aretw0/tether/internal/link"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Project  string `yaml:"project" json:"project"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Headers are sent with the websocket upgrade request, for example a
	// session cookie the host issued.
	Headers map[string]string `yaml:"headers" json:"headers"`

	// Runtimes points at the registry of local runtimes that process://
	// endpoints may launch.
	Runtimes string `yaml:"runtimes" json:"runtimes"`

	Timing Timing `yaml:"timing" json:"timing"`
	HTTP   HTTP   `yaml:"http" json:"http"`
	Redis  Redis  `yaml:"redis" json:"redis"`
	MCP    MCP    `yaml:"mcp" json:"mcp"`
}

// Timing mirrors link.Timing with file-friendly names.
type Timing struct {
	ProbeConnected  time.Duration `yaml:"probe_connected" json:"probe_connected"`
	ProbeConnecting time.Duration `yaml:"probe_connecting" json:"probe_connecting"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout" json:"liveness_timeout"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	ResultsDelay    time.Duration `yaml:"results_delay" json:"results_delay"`
}

type HTTP struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Redis configures the snapshot mirror. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	Prefix   string        `yaml:"prefix" json:"prefix"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

type MCP struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Endpoint: "ws://localhost:8000/ws",
		LogLevel: "info",
		Runtimes: "runtimes.yaml",
		Timing: Timing{
			ProbeConnected:  link.DefaultProbeConnected,
			ProbeConnecting: link.DefaultProbeConnecting,
			LivenessTimeout: link.DefaultLivenessTimeout,
			ReconnectDelay:  link.DefaultReconnectDelay,
			ResultsDelay:    link.DefaultResultsDelay,
		},
		HTTP: HTTP{Addr: "localhost:8080"},
		Redis: Redis{
			Prefix: "tether:",
			TTL:    24 * time.Hour,
		},
	}
}

// LinkTiming converts the timing section.
func (c Config) LinkTiming() link.Timing {
	return link.Timing{
		ProbeConnected:  c.Timing.ProbeConnected,
		ProbeConnecting: c.Timing.ProbeConnecting,
		LivenessTimeout: c.Timing.LivenessTimeout,
		ReconnectDelay:  c.Timing.ReconnectDelay,
		ResultsDelay:    c.Timing.ResultsDelay,
	}
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	t := c.Timing
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"timing.probe_connected", t.ProbeConnected},
		{"timing.probe_connecting", t.ProbeConnecting},
		{"timing.liveness_timeout", t.LivenessTimeout},
		{"timing.reconnect_delay", t.ReconnectDelay},
	} {
		if f.d < time.Millisecond {
			errs = append(errs, fmt.Errorf("%s must be at least 1ms, got %s", f.name, f.d))
		}
	}
	if t.ResultsDelay < 0 {
		errs = append(errs, errors.New("timing.results_delay must not be negative"))
	}
	return errors.Join(errs...)
}

// Load reads path on top of the defaults. A missing file is not an error,
// which lets the default path be optional. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadFile decodes YAML or JSON with the same decoder. JSON is valid YAML, and
// durations are read as strings such as "30s" in both.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("TETHER_ENDPOINT"); ok {
		cfg.Endpoint = v
	}
	if v, ok := lookup("TETHER_PROJECT"); ok {
		cfg.Project = v
	}
	if v, ok := lookup("TETHER_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("TETHER_RUNTIMES"); ok {
		cfg.Runtimes = v
	}
	if v, ok := lookup("TETHER_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := lookup("TETHER_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := lookup("TETHER_REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := lookup("TETHER_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TETHER_REDIS_DB %q: %w", v, err)
		}
		cfg.Redis.DB = db
	}
	if v, ok := lookup("TETHER_MCP"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TETHER_MCP %q: %w", v, err)
		}
		cfg.MCP.Enabled = enabled
	}
	return nil
}
