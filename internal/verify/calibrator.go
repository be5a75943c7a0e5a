package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Thresholds holds the ON/OFF brightness boundary for LED1 and LED2.
type Thresholds [2]float64

// Calibration is the outcome of a successful calibration run.
type Calibration struct {
	Thresholds Thresholds
	Batches    int
	Min        [2]float64
	Max        [2]float64
	Mean       [2]float64
	StdDev     [2]float64
}

// CalibrationFailure describes a batch whose brightness range was too narrow
// to separate ON from OFF. The calibrator retries on it; it is only ever
// logged or returned when a batch limit is set.
type CalibrationFailure struct {
	LED        int
	Separation float64
	Required   float64
}

func (e *CalibrationFailure) Error() string {
	return fmt.Sprintf("led%d brightness separation %.1f below required %.1f", e.LED, e.Separation, e.Required)
}

// CalibratorConfig controls batch collection.
type CalibratorConfig struct {
	Samples       int
	Interval      time.Duration
	MinSeparation float64
	MaxBatches    int // 0 retries until success or cancellation
}

// Calibrator derives per-LED thresholds from brightness sampled while the
// actuator is blinking. Each batch reads Samples pairs, one per Interval.
type Calibrator struct {
	reader BrightnessReader
	config CalibratorConfig
	logger *zap.Logger
	sleep  func(time.Duration)
}

func NewCalibrator(reader BrightnessReader, config CalibratorConfig, logger *zap.Logger) (*Calibrator, error) {
	if reader == nil {
		return nil, fmt.Errorf("brightness reader cannot be nil")
	}
	if config.Samples < 2 {
		return nil, fmt.Errorf("calibration needs at least 2 samples per batch, got %d", config.Samples)
	}
	if config.MinSeparation <= 0 {
		return nil, fmt.Errorf("calibration min separation must be positive, got %v", config.MinSeparation)
	}
	if logger == nil {
		logger = zap.L().Named("calibrator")
	}
	return &Calibrator{reader: reader, config: config, logger: logger, sleep: time.Sleep}, nil
}

// Calibrate collects batches until both LEDs show a brightness range of at
// least MinSeparation and returns the midpoint thresholds. A read error
// aborts immediately. Cancellation is honoured between batches; a batch in
// progress always completes.
func (c *Calibrator) Calibrate(ctx context.Context) (Calibration, error) {
	samples := [2][]float64{
		make([]float64, c.config.Samples),
		make([]float64, c.config.Samples),
	}
	first := true

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return Calibration{}, err
		}

		for i := 0; i < c.config.Samples; i++ {
			if !first {
				c.sleep(c.config.Interval)
			}
			first = false

			led1, led2, err := c.reader.ReadBrightness(ctx)
			if err != nil {
				return Calibration{}, fmt.Errorf("calibration batch %d sample %d: %w", batch, i, err)
			}
			samples[0][i], samples[1][i] = led1, led2
		}

		var cal Calibration
		cal.Batches = batch
		var failure error
		for led := 0; led < 2; led++ {
			cal.Min[led] = floats.Min(samples[led])
			cal.Max[led] = floats.Max(samples[led])
			cal.Mean[led], cal.StdDev[led] = stat.MeanStdDev(samples[led], nil)
			cal.Thresholds[led] = (cal.Max[led] + cal.Min[led]) / 2

			if sep := cal.Max[led] - cal.Min[led]; sep < c.config.MinSeparation && failure == nil {
				failure = &CalibrationFailure{LED: led + 1, Separation: sep, Required: c.config.MinSeparation}
			}
		}

		if failure == nil {
			c.logger.Info("Calibration complete",
				zap.Int("batches", batch),
				zap.Float64("led1_threshold", cal.Thresholds[0]),
				zap.Float64("led2_threshold", cal.Thresholds[1]),
				zap.Float64s("led1_range", []float64{cal.Min[0], cal.Max[0]}),
				zap.Float64s("led2_range", []float64{cal.Min[1], cal.Max[1]}))
			return cal, nil
		}

		c.logger.Warn("Calibration batch rejected, retrying", zap.Int("batch", batch), zap.Error(failure))
		if c.config.MaxBatches > 0 && batch >= c.config.MaxBatches {
			return Calibration{}, fmt.Errorf("calibration gave up after %d batches: %w", batch, failure)
		}
	}
}
