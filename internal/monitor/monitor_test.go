package monitor

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/eventlog"
	"github.com/mikeyg42/ledwatch/internal/frame"
	"github.com/mikeyg42/ledwatch/internal/frame/frametest"
	"github.com/mikeyg42/ledwatch/internal/motion"
	"github.com/mikeyg42/ledwatch/internal/pattern"
	"github.com/mikeyg42/ledwatch/internal/recorder"
	"github.com/mikeyg42/ledwatch/internal/storage"
	"github.com/mikeyg42/ledwatch/internal/verify"
	"github.com/mikeyg42/ledwatch/internal/vision"
)

const (
	frameW, frameH = 128, 96
	dark, lit      = 40, 240
	noRect         = -1
)

var (
	testSecret = &pattern.Secret{LED1: pattern.Pattern{0, 0, 1, 0}, LED2: pattern.Pattern{0, 1, 1, 0}}
	testRegion = verify.RegionConfig{WidthFraction: 0.125, HeightFraction: 0.25}
)

// scene renders one frame: the LEDs at pattern position pos (or both off
// when frozen) and, if rectX is not noRect, a bright 40x40 intruder.
func scene(t *testing.T, pos int, frozen bool, rectX int) image.Image {
	t.Helper()
	regions, err := verify.ComputeRegions(image.Pt(frameW, frameH), testRegion)
	require.NoError(t, err)

	img := frametest.Gray(frameW, frameH, dark)
	white := color.RGBA{R: lit, G: lit, B: lit, A: 255}
	for led, p := range []pattern.Pattern{testSecret.LED1, testSecret.LED2} {
		if !frozen && p[pos%len(p)] != 0 {
			img = frametest.WithRect(img, regions[led], white)
		}
	}
	if rectX != noRect {
		img = frametest.WithRect(img, image.Rect(rectX, 0, rectX+40, 40), white)
	}
	return img
}

type harness struct {
	dir      string
	logPath  string
	recorder *recorder.Recorder
	detector *motion.Detector
}

func newHarness(t *testing.T, verification bool) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	det, err := motion.NewDetector(motion.Config{Threshold: 25, MinArea: 1000, BlurSize: 3}, vision.NewPureProcessor(), logger)
	require.NoError(t, err)

	store, err := storage.NewVideoStorage(storage.VideoConfig{Dir: dir, ClipFPS: 15}, vision.NewPureEncoder(), logger)
	require.NoError(t, err)

	logPath := filepath.Join(dir, "security_log.txt")
	elog, err := eventlog.New(logPath)
	require.NoError(t, err)

	cfg := recorder.DefaultConfig()
	cfg.Verification = verification
	rec, err := recorder.New(cfg, store, elog, recorder.WithLogger(logger))
	require.NoError(t, err)

	return &harness{dir: dir, logPath: logPath, recorder: rec, detector: det}
}

func (h *harness) glob(t *testing.T, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dir, pattern))
	require.NoError(t, err)
	return matches
}

// logTexts returns the security log lines without their timestamps.
func (h *harness) logTexts(t *testing.T) []string {
	t.Helper()
	f, err := os.Open(h.logPath)
	require.NoError(t, err)
	defer f.Close()

	var texts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		_, text, ok := strings.Cut(sc.Text(), "] ")
		require.True(t, ok, "malformed line %q", sc.Text())
		texts = append(texts, text)
	}
	require.NoError(t, sc.Err())
	return texts
}

func verifyConfig() verify.Config {
	cfg := verify.DefaultConfig()
	cfg.SampleInterval = time.Second / 30
	cfg.CalibrationSamples = 4
	cfg.Region = testRegion
	return cfg
}

// intruder is eight quiet frames followed by a rectangle that moves on
// frames 8, 9 and 10 and stays put on frame 11.
func intruder(t *testing.T, frozen bool) *frametest.Source {
	var images []image.Image
	for i := 0; i < 8; i++ {
		images = append(images, scene(t, i, frozen, noRect))
	}
	for i, x := range []int{0, 45, 0, 0} {
		images = append(images, scene(t, 8+i, frozen, x))
	}
	return frametest.NewSource(images...)
}

func TestMonitorVerifiedEvent(t *testing.T) {
	h := newHarness(t, true)
	m, err := New(intruder(t, false), h.detector, h.recorder, verifyConfig(), testSecret,
		WithThresholds(verify.Thresholds{140, 140}), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	err = m.Run(context.Background())
	var devErr *frame.DeviceError
	require.ErrorAs(t, err, &devErr, "stream end surfaces as a device error")

	assert.Len(t, h.glob(t, "frame_*_motion_*.jpg"), 3)
	assert.Len(t, h.glob(t, "video_*_motion_event_verified.avi"), 1)
	assert.Empty(t, h.glob(t, "video_*_unverified*"))
	assert.Equal(t, []string{
		"Motion detected - starting capture - VERIFIED",
		"Motion event ended - VERIFIED",
	}, h.logTexts(t))

	s := m.Stats()
	assert.Equal(t, int64(12), s.FramesProcessed)
	assert.Equal(t, int64(3), s.MotionFrames)
	assert.Equal(t, uint64(1), s.Events)
	assert.Equal(t, uint64(1), s.Clips)
	assert.Equal(t, int64(12), s.Samples)
	assert.Equal(t, int64(9), s.VerifiedSamples, "verified from the first aligned window onward")
}

func TestMonitorTamperedLEDs(t *testing.T) {
	h := newHarness(t, true)
	m, err := New(intruder(t, true), h.detector, h.recorder, verifyConfig(), testSecret,
		WithThresholds(verify.Thresholds{140, 140}), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_ = m.Run(context.Background())

	assert.Len(t, h.glob(t, "video_*_motion_event_unverified.avi"), 1)
	assert.Equal(t, []string{
		"Motion detected - starting capture - TAMPER DETECTED",
		"Motion event ended - TAMPER DETECTED",
	}, h.logTexts(t))
	assert.Zero(t, m.Stats().VerifiedSamples)
}

func TestMonitorCalibratesFromStream(t *testing.T) {
	h := newHarness(t, true)
	var images []image.Image
	for i := 0; i < 8; i++ {
		images = append(images, scene(t, i, false, noRect))
	}
	m, err := New(frametest.NewSource(images...), h.detector, h.recorder, verifyConfig(), testSecret, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_ = m.Run(context.Background())

	s := m.Stats()
	assert.Equal(t, 1, s.Calibration.Batches)
	assert.Equal(t, verify.Thresholds{140, 140}, s.Calibration.Thresholds)
	assert.Equal(t, int64(4), s.FramesProcessed, "calibration consumes the first batch")
	assert.Equal(t, int64(4), s.Samples)
	assert.Equal(t, int64(1), s.VerifiedSamples)
}

func TestMonitorSampleCadence(t *testing.T) {
	testCases := []struct {
		name string
		fps  int
	}{
		{"15 fps", 15},
		{"30 fps", 30},
		{"7 fps", 7},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const seconds = 60
			img := scene(t, 0, false, noRect)
			images := make([]image.Image, seconds*tc.fps)
			for i := range images {
				images[i] = img
			}
			src := frametest.NewSource(images...)
			src.Interval = time.Second / time.Duration(tc.fps)

			cfg := verifyConfig()
			cfg.SampleInterval = time.Second
			h := newHarness(t, true)
			m, err := New(src, h.detector, h.recorder, cfg, testSecret,
				WithThresholds(verify.Thresholds{140, 140}), WithLogger(zap.NewNop()))
			require.NoError(t, err)

			_ = m.Run(context.Background())

			s := m.Stats()
			require.Equal(t, int64(len(images)), s.FramesProcessed)
			assert.Equal(t, int64(seconds), s.Samples, "one sample per second of frame time")
		})
	}
}

func TestMonitorResolutionChange(t *testing.T) {
	h := newHarness(t, true)
	src := frametest.NewSource(scene(t, 0, false, noRect), frametest.Gray(64, 48, dark))
	m, err := New(src, h.detector, h.recorder, verifyConfig(), testSecret,
		WithThresholds(verify.Thresholds{140, 140}), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	err = m.Run(context.Background())
	var rc *verify.ResolutionChangedError
	require.ErrorAs(t, err, &rc)
	assert.Equal(t, image.Pt(frameW, frameH), rc.Want)
	assert.Equal(t, image.Pt(64, 48), rc.Got)
}

type stopAfter struct {
	shown []image.Image
	limit int
}

func (d *stopAfter) Show(img image.Image) (bool, error) {
	d.shown = append(d.shown, img)
	return len(d.shown) < d.limit, nil
}

func (d *stopAfter) Close() error { return nil }

func TestMonitorDisplayStop(t *testing.T) {
	h := newHarness(t, false)
	disabled := verify.DefaultConfig()
	disabled.Enabled = false
	display := &stopAfter{limit: 3}

	m, err := New(intruder(t, false), h.detector, h.recorder, disabled, nil,
		WithDisplay(display, vision.PureAnnotator{}), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))
	require.Len(t, display.shown, 3)
	assert.Equal(t, image.Pt(frameW, frameH), display.shown[0].Bounds().Size())
	assert.Zero(t, m.Stats().Samples)
}

func TestMonitorCancelled(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := intruder(t, false)
	m, err := New(src, h.detector, h.recorder, verifyConfig(), testSecret, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.NoError(t, m.Run(ctx))
	assert.Zero(t, m.Stats().FramesProcessed)
}

func TestNewRejectsMissingParts(t *testing.T) {
	h := newHarness(t, true)
	src := frametest.NewSource()

	_, err := New(nil, h.detector, h.recorder, verifyConfig(), testSecret)
	assert.Error(t, err)
	_, err = New(src, h.detector, h.recorder, verifyConfig(), nil)
	assert.Error(t, err, "verification needs a secret")
	_, err = New(src, h.detector, h.recorder, verifyConfig(), testSecret, WithDisplay(&stopAfter{}, nil))
	assert.Error(t, err)
}
