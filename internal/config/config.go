// Package config loads the ledwatch YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/ledwatch/internal/eventlog"
	"github.com/mikeyg42/ledwatch/internal/led"
	"github.com/mikeyg42/ledwatch/internal/logging"
	"github.com/mikeyg42/ledwatch/internal/motion"
	"github.com/mikeyg42/ledwatch/internal/pattern"
	"github.com/mikeyg42/ledwatch/internal/storage"
	"github.com/mikeyg42/ledwatch/internal/verify"
)

// Config holds all application configuration
type Config struct {
	Camera   CameraConfig    `yaml:"camera"`
	Motion   motion.Config   `yaml:"motion"`
	Storage  StorageConfig   `yaml:"storage"`
	EventLog eventlog.Config `yaml:"event_log"`
	Pattern  PatternConfig   `yaml:"pattern"`
	Verify   verify.Config   `yaml:"verify"`
	LED      led.Config      `yaml:"led"`
	Log      logging.Config  `yaml:"log"`
}

type CameraConfig struct {
	Index   int    `yaml:"index"`
	Display bool   `yaml:"display"`
	Backend string `yaml:"backend"` // gocv or pure
}

type StorageConfig struct {
	storage.VideoConfig `yaml:",inline"`
	Catalog             storage.CatalogConfig `yaml:"catalog"`
	Archive             storage.ArchiveConfig `yaml:"archive"`
}

type PatternConfig struct {
	pattern.Config `yaml:",inline"`
	// SecretFile is the provisioned secret shared with the LED actuator.
	// Empty means a fresh secret is generated for every run.
	SecretFile string `yaml:"secret_file"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Index:   0,
			Display: false,
			Backend: "gocv",
		},
		Motion: motion.DefaultConfig(),
		Storage: StorageConfig{
			VideoConfig: storage.DefaultVideoConfig(),
			Catalog: storage.CatalogConfig{
				Driver: "sqlite",
				DSN:    "captured_footage/events.db",
			},
			Archive: storage.ArchiveConfig{
				Endpoint:     "localhost:9000",
				Bucket:       "ledwatch-footage",
				Region:       "us-east-1",
				MaxRetries:   3,
				RetryBackoff: 2 * time.Second,
			},
		},
		EventLog: eventlog.DefaultConfig(),
		Pattern: PatternConfig{
			Config: pattern.Config{
				Length:        4,
				MinDigit:      0,
				MaxDigit:      1,
				RepeatAllowed: true,
			},
		},
		Verify: verify.DefaultConfig(),
		LED:    led.DefaultConfig(),
		Log:    logging.DefaultConfig(),
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Camera.Index < 0 {
		errs = append(errs, fmt.Errorf("camera.index must be non-negative"))
	}
	switch c.Camera.Backend {
	case "gocv", "pure":
	default:
		errs = append(errs, fmt.Errorf("camera.backend must be gocv or pure, got %q", c.Camera.Backend))
	}
	if c.Camera.Display && c.Camera.Backend != "gocv" {
		errs = append(errs, fmt.Errorf("camera.display requires the gocv backend"))
	}
	if c.EventLog.Path == "" {
		errs = append(errs, fmt.Errorf("event_log.path is required"))
	}

	for _, section := range []struct {
		name string
		err  error
	}{
		{"motion", c.Motion.Validate()},
		{"storage", c.Storage.Validate()},
		{"storage.catalog", c.Storage.Catalog.Validate()},
		{"storage.archive", c.Storage.Archive.Validate()},
		{"pattern", c.Pattern.ValidateBlink()},
		{"verify", c.Verify.Validate()},
		{"led", c.LED.Validate()},
		{"log", c.Log.Validate()},
	} {
		if section.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section.name, section.err))
		}
	}
	return errors.Join(errs...)
}
