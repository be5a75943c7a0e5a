// Package verify implements LED tamper evidence: it samples the brightness
// of two LED regions in each frame, calibrates ON/OFF thresholds against the
// live scene, and matches the observed blink sequence against the provisioned
// secret.
package verify

import (
	"fmt"
	"time"
)

// Config holds the verification settings.
type Config struct {
	Enabled               bool          `yaml:"enabled"`
	SampleInterval        time.Duration `yaml:"sample_interval"`
	CalibrationSamples    int           `yaml:"calibration_samples"`
	MinSeparation         float64       `yaml:"min_separation"`
	MaxCalibrationBatches int           `yaml:"max_calibration_batches"`
	HoldDuration          time.Duration `yaml:"hold_duration"`
	Region                RegionConfig  `yaml:"region"`
	Channel               Channel       `yaml:"channel"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		SampleInterval:     time.Second,
		CalibrationSamples: 8,
		MinSeparation:      40,
		HoldDuration:       5 * time.Second,
		Region: RegionConfig{
			WidthFraction:  0.25,
			HeightFraction: 0.5,
		},
		Channel: ChannelBlue,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("verify sample_interval must be positive")
	}
	if c.CalibrationSamples < 2 {
		return fmt.Errorf("verify calibration_samples must be at least 2, got %d", c.CalibrationSamples)
	}
	if c.MinSeparation <= 0 {
		return fmt.Errorf("verify min_separation must be positive")
	}
	if c.MaxCalibrationBatches < 0 {
		return fmt.Errorf("verify max_calibration_batches cannot be negative")
	}
	if c.HoldDuration < 0 {
		return fmt.Errorf("verify hold_duration cannot be negative")
	}
	if err := c.Region.Validate(); err != nil {
		return err
	}
	return c.Channel.Validate()
}

// CalibratorConfig derives the calibrator settings.
func (c Config) CalibratorConfig() CalibratorConfig {
	return CalibratorConfig{
		Samples:       c.CalibrationSamples,
		Interval:      c.SampleInterval,
		MinSeparation: c.MinSeparation,
		MaxBatches:    c.MaxCalibrationBatches,
	}
}

// HoldCoversCycle reports whether the hold spans a full pattern cycle of
// length samples. Windows only line up with the expected pattern once per
// cycle, so a shorter hold lets verification drop between alignments.
func (c Config) HoldCoversCycle(length int) bool {
	return c.HoldDuration >= time.Duration(length)*c.SampleInterval
}
