// Package monitor runs the capture loop: it reads frames, flags motion,
// tracks LED verification and drives the recorder.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/frame"
	"github.com/mikeyg42/ledwatch/internal/motion"
	"github.com/mikeyg42/ledwatch/internal/pattern"
	"github.com/mikeyg42/ledwatch/internal/recorder"
	"github.com/mikeyg42/ledwatch/internal/verify"
	"github.com/mikeyg42/ledwatch/internal/vision"
)

// Display shows annotated frames. Show returns false when the viewer asked
// to stop.
type Display interface {
	Show(img image.Image) (bool, error)
	Close() error
}

// Stats summarises a monitoring session.
type Stats struct {
	FramesProcessed int64
	MotionFrames    int64
	Events          uint64
	Clips           uint64
	Samples         int64
	VerifiedSamples int64
	Calibration     verify.Calibration
	Started         time.Time
	Stopped         time.Time
}

// Monitor owns all loop state. Run must be called once.
type Monitor struct {
	source   frame.Source
	detector *motion.Detector
	recorder *recorder.Recorder
	verify   verify.Config
	secret   *pattern.Secret
	logger   *zap.Logger

	annotator  vision.Annotator
	display    Display
	thresholds *verify.Thresholds

	sampler    *verify.Sampler
	matcher    *verify.Matcher
	nextSample time.Time
	stats      Stats
}

type Option func(*Monitor)

func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithDisplay shows every frame, annotated with the motion and verification
// overlay.
func WithDisplay(d Display, a vision.Annotator) Option {
	return func(m *Monitor) { m.display, m.annotator = d, a }
}

// WithThresholds skips calibration and uses fixed ON/OFF thresholds.
func WithThresholds(t verify.Thresholds) Option {
	return func(m *Monitor) { m.thresholds = &t }
}

// New wires a monitor. secret may be nil when verification is disabled.
func New(source frame.Source, detector *motion.Detector, rec *recorder.Recorder, vcfg verify.Config, secret *pattern.Secret, opts ...Option) (*Monitor, error) {
	if source == nil || detector == nil || rec == nil {
		return nil, fmt.Errorf("source, detector and recorder are required")
	}
	if err := vcfg.Validate(); err != nil {
		return nil, err
	}
	if vcfg.Enabled && secret == nil {
		return nil, fmt.Errorf("verification enabled without a secret")
	}
	m := &Monitor{
		source:   source,
		detector: detector,
		recorder: rec,
		verify:   vcfg,
		secret:   secret,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.L().Named("monitor")
	}
	if m.display != nil && m.annotator == nil {
		return nil, fmt.Errorf("display requires an annotator")
	}
	return m, nil
}

// Run calibrates (when verification is enabled) and then processes frames
// until ctx is cancelled, the display is closed, or an error occurs. A
// camera failure is returned as a *frame.DeviceError. An event in progress
// is flushed on the way out.
func (m *Monitor) Run(ctx context.Context) (err error) {
	m.stats.Started = time.Now()
	defer func() {
		if cerr := m.recorder.Close(context.WithoutCancel(ctx)); cerr != nil {
			m.logger.Error("Failed to close recorder", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
		m.stats.Stopped = time.Now()
		m.logStats()
	}()

	if m.verify.Enabled {
		if err := m.startVerification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	m.logger.Info("Monitoring started", zap.Bool("verification", m.verify.Enabled), zap.Bool("display", m.display != nil))
	for {
		if ctx.Err() != nil {
			m.logger.Info("Monitoring stopped")
			return nil
		}
		f, err := m.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cont, err := m.process(ctx, f)
		if err != nil {
			return err
		}
		if !cont {
			m.logger.Info("Display closed, stopping")
			return nil
		}
	}
}

func (m *Monitor) startVerification(ctx context.Context) error {
	sampler, err := verify.NewSampler(m.verify.Region, m.verify.Channel)
	if err != nil {
		return err
	}
	m.sampler = sampler

	if !m.verify.HoldCoversCycle(m.secret.Len()) {
		m.logger.Warn("Hold duration is shorter than one blink cycle; verification will flicker between alignments",
			zap.Duration("hold", m.verify.HoldDuration),
			zap.Duration("cycle", time.Duration(m.secret.Len())*m.verify.SampleInterval))
	}

	var thresholds verify.Thresholds
	if m.thresholds != nil {
		thresholds = *m.thresholds
	} else {
		cal, err := verify.NewCalibrator(&verify.SourceReader{Source: m.source, Sampler: sampler}, m.verify.CalibratorConfig(), m.logger.Named("calibrator"))
		if err != nil {
			return err
		}
		m.logger.Info("Calibrating LED thresholds",
			zap.Int("samples", m.verify.CalibrationSamples),
			zap.Duration("interval", m.verify.SampleInterval))
		result, err := cal.Calibrate(ctx)
		if err != nil {
			return fmt.Errorf("calibration: %w", err)
		}
		m.stats.Calibration = result
		thresholds = result.Thresholds
	}

	m.matcher, err = verify.NewMatcher(m.secret, thresholds, m.verify.HoldDuration)
	return err
}

// process runs one loop iteration for f and reports whether to continue.
func (m *Monitor) process(ctx context.Context, f frame.Frame) (bool, error) {
	m.stats.FramesProcessed++

	moving, err := m.detector.Observe(f)
	if err != nil {
		return false, err
	}
	if moving {
		m.stats.MotionFrames++
	}

	verified := false
	if m.matcher != nil {
		if err := m.sample(f); err != nil {
			return false, err
		}
		verified = m.matcher.Verified()
	}

	if err := m.recorder.Observe(ctx, f, moving, verified); err != nil {
		return false, err
	}

	if m.display == nil {
		return true, nil
	}
	return m.show(f, moving, verified)
}

// sample feeds the matcher once per sample interval of frame time. Deadlines
// sit on a fixed grid anchored at the first sampled frame, so a frame period
// that does not divide the interval does not stretch the cadence.
func (m *Monitor) sample(f frame.Frame) error {
	if m.nextSample.IsZero() {
		m.nextSample = f.Timestamp
	}
	if f.Timestamp.Before(m.nextSample) {
		return nil
	}
	for !m.nextSample.After(f.Timestamp) {
		m.nextSample = m.nextSample.Add(m.verify.SampleInterval)
	}

	led1, led2, err := m.sampler.Sample(f)
	if err != nil {
		return err
	}
	prev := m.matcher.Verified()
	state := m.matcher.Update(f.Timestamp, led1, led2)
	m.stats.Samples++
	if state.Verified {
		m.stats.VerifiedSamples++
	}
	if state.Verified != prev {
		m.logger.Info("LED verification changed",
			zap.Bool("verified", state.Verified),
			zap.Uint64("frame", f.Sequence),
			zap.Float64("led1", led1),
			zap.Float64("led2", led2))
	}
	return nil
}

func (m *Monitor) show(f frame.Frame, moving, verified bool) (bool, error) {
	ov := vision.Overlay{
		Motion:    moving,
		Boxes:     m.detector.Boxes(),
		Verify:    m.matcher != nil,
		Verified:  verified,
		Timestamp: f.Timestamp,
	}
	if m.sampler != nil {
		if regions, ok := m.sampler.Regions(); ok {
			ov.Regions = regions[:]
		}
	}
	annotated, err := m.annotator.Annotate(f.Image, ov)
	if err != nil {
		return false, fmt.Errorf("annotate frame %d: %w", f.Sequence, err)
	}
	return m.display.Show(annotated)
}

// Stats returns the session statistics.
func (m *Monitor) Stats() Stats {
	s := m.stats
	metrics := m.recorder.Metrics()
	s.Events = metrics.EventsStarted.Load()
	s.Clips = metrics.ClipsSaved.Load()
	return s
}

func (m *Monitor) logStats() {
	s := m.Stats()
	ds := m.detector.Stats()
	m.logger.Info("Monitoring summary",
		zap.Duration("uptime", s.Stopped.Sub(s.Started)),
		zap.Int64("frames", s.FramesProcessed),
		zap.Int64("motion_frames", s.MotionFrames),
		zap.Uint64("events", s.Events),
		zap.Uint64("clips", s.Clips),
		zap.Int64("samples", s.Samples),
		zap.Int64("verified_samples", s.VerifiedSamples),
		zap.Float64("avg_motion_area", ds.AverageMotionArea),
		zap.Float64("max_motion_area", ds.MaxMotionArea))
}
