// Package treegive implements the browser-facing checkout core of the
// treegive tree-donation platform: the backend gateway client, the donation
// draft model, the persistent client store, the checkout state machine, the
// post-payment status reconciler, and the session/identity gate.
package treegive

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the client-side settings for the checkout core.
type Config struct {
	// BaseURL is the donation backend root, e.g. "http://127.0.0.1:5000".
	BaseURL string `yaml:"base_url"`

	// UnitPrice is the fixed price per tree in the platform currency.
	UnitPrice int64 `yaml:"unit_price"`

	// MaxTrees is the soft cap on trees per donation.
	MaxTrees int `yaml:"max_trees"`

	// DefaultLocationID is used when the location list cannot be fetched
	// during auto-selection. It is not guaranteed to be valid server-side;
	// the backend's rejection surfaces at submission.
	DefaultLocationID string `yaml:"default_location_id"`

	// PollInterval is the reconciler's re-poll cadence while a donation is
	// awaiting payment.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StorePath is the SQLite file backing the persistent client store.
	StorePath string `yaml:"store_path"`

	// ListenAddr is the web surface's bind address.
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://127.0.0.1:5000",
		UnitPrice:         999,
		MaxTrees:          1000,
		DefaultLocationID: "loc_nursery_001",
		PollInterval:      3 * time.Second,
		StorePath:         "treegive.db",
		ListenAddr:        ":8080",
	}
}

// LoadConfig reads cfg from path, falling back to defaults if the file does
// not exist. Fields omitted from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded settings for values the core cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.UnitPrice <= 0 {
		return fmt.Errorf("config: unit_price must be positive, got %d", c.UnitPrice)
	}
	if c.MaxTrees < 1 {
		return fmt.Errorf("config: max_trees must be at least 1, got %d", c.MaxTrees)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}
