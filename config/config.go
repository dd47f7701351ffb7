// Package config loads the node's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"omniproto.dev/omni/archive/registry"
	"omniproto.dev/omni/transport"
)

type Config struct {
	Node      NodeConfig      `toml:"node"`
	Transport TransportConfig `toml:"transport"`
	Store     StoreConfig     `toml:"store"`
	Archive   registry.Config `toml:"archive"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

type NodeConfig struct {
	Name string `toml:"name"`
	// PEM is the node key file. Empty runs the node with a fresh key.
	PEM                string `toml:"pem"`
	AcceptAnyRecipient bool   `toml:"accept_any_recipient"`
}

type TransportConfig struct {
	Listen          string `toml:"listen"`
	MaxMessageBytes int    `toml:"max_message_bytes"`
	// RateLimit is calls per second; zero disables limiting.
	RateLimit       float64       `toml:"rate_limit"`
	Burst           int           `toml:"burst"`
	ShutdownTimeout time.Duration `toml:"-"`
	RawShutdown     string        `toml:"shutdown_timeout"`
}

type StoreConfig struct {
	Engine string `toml:"engine"` // "memory" or "sqlite"
	Path   string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MetricsConfig struct {
	// Listen serves /metrics when set.
	Listen string `toml:"listen"`
}

func Default() Config {
	return Config{
		Node: NodeConfig{Name: "omni-node"},
		Transport: TransportConfig{
			Listen:          "127.0.0.1:8000",
			MaxMessageBytes: transport.DefaultMaxMessageBytes,
			Burst:           1,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Engine: "memory"},
		Log:   LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over Default. Keys absent from the file keep their
// defaults; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}
	if meta.IsDefined("transport", "shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(cfg.Transport.RawShutdown))
		if err != nil {
			return Config{}, fmt.Errorf("parse transport.shutdown_timeout: %w", err)
		}
		cfg.Transport.ShutdownTimeout = d
	}
	cfg.Node.Name = strings.TrimSpace(cfg.Node.Name)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Node.Name == "" {
		errs = append(errs, errors.New("node.name is required"))
	}
	if c.Transport.Listen == "" {
		errs = append(errs, errors.New("transport.listen is required"))
	}
	if c.Transport.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("transport.max_message_bytes must be positive"))
	}
	if c.Transport.RateLimit < 0 {
		errs = append(errs, errors.New("transport.rate_limit must not be negative"))
	}
	if c.Transport.RateLimit > 0 && c.Transport.Burst < 1 {
		errs = append(errs, errors.New("transport.burst must be at least 1"))
	}
	switch c.Store.Engine {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.engine %q is not memory or sqlite", c.Store.Engine))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}
	if len(c.Archive.Backends) > 0 {
		if err := c.Archive.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
