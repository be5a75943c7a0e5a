package motion

import (
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/frame"
	"github.com/mikeyg42/ledwatch/internal/vision"
)

// Config holds the detector's sensitivity settings.
type Config struct {
	Threshold float64 `yaml:"threshold"` // per-pixel difference that counts as change
	MinArea   float64 `yaml:"min_area"`  // smallest region, in pixels, that counts as motion
	BlurSize  int     `yaml:"blur_size"` // odd Gaussian kernel size
}

func DefaultConfig() Config {
	return Config{
		Threshold: 25,
		MinArea:   1000,
		BlurSize:  21,
	}
}

func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 255 {
		return fmt.Errorf("motion threshold must be in (0,255), got %v", c.Threshold)
	}
	if c.MinArea <= 0 {
		return fmt.Errorf("motion min_area must be positive, got %v", c.MinArea)
	}
	if c.BlurSize <= 0 || c.BlurSize%2 == 0 {
		return fmt.Errorf("motion blur_size must be odd and positive, got %d", c.BlurSize)
	}
	return nil
}

// Stats summarises what the detector has seen.
type Stats struct {
	FramesProcessed   int64
	MotionFrames      int64
	LastMotionTime    time.Time
	AverageMotionArea float64
	MaxMotionArea     float64
	MinMotionArea     float64
	ProcessingTime    time.Duration
	LastProcessedTime time.Time
}

// Detector flags motion by comparing each smoothed frame against a
// background model. The model is set on the first frame and replaced by the
// current frame whenever motion is found; quiet frames leave it untouched.
type Detector struct {
	config Config
	proc   vision.Processor
	logger *zap.Logger

	mu         sync.Mutex
	background *image.Gray
	blobs      []vision.Blob
	stats      Stats
}

func NewDetector(config Config, proc vision.Processor, logger *zap.Logger) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		logger = zap.L().Named("motion")
	}
	return &Detector{
		config: config,
		proc:   proc,
		logger: logger,
	}, nil
}

// Observe reports whether f shows motion against the background model. An
// empty frame is an error wrapping frame.ErrEmptyFrame, never "no motion".
func (d *Detector) Observe(f frame.Frame) (bool, error) {
	if f.Empty() {
		return false, fmt.Errorf("motion: frame %d: %w", f.Sequence, frame.ErrEmptyFrame)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() {
		d.stats.ProcessingTime = time.Since(start)
		d.stats.LastProcessedTime = time.Now()
	}()

	smoothed, err := d.proc.Smooth(f.Image, d.config.BlurSize)
	if err != nil {
		return false, fmt.Errorf("motion: smooth frame %d: %w", f.Sequence, err)
	}
	d.stats.FramesProcessed++
	d.blobs = d.blobs[:0]

	if d.background == nil {
		d.background = smoothed
		d.logger.Debug("Background model initialised",
			zap.Uint64("frame", f.Sequence),
			zap.Stringer("size", smoothed.Bounds().Size()))
		return false, nil
	}
	if d.background.Bounds().Size() != smoothed.Bounds().Size() {
		d.logger.Warn("Frame size changed, reinitialising background model",
			zap.Stringer("old", d.background.Bounds().Size()),
			zap.Stringer("new", smoothed.Bounds().Size()))
		d.background = smoothed
		return false, nil
	}

	blobs, err := d.proc.Contours(d.background, smoothed, d.config.Threshold)
	if err != nil {
		return false, fmt.Errorf("motion: contours frame %d: %w", f.Sequence, err)
	}

	var totalArea float64
	motion := false
	// Blob areas come from the backend: the pure processor counts mask pixels
	// while gocv reports contour polygon area, which is smaller for the same
	// region. A given min_area therefore trips on slightly larger blobs under
	// gocv.
	for _, b := range blobs {
		if b.Area >= d.config.MinArea {
			motion = true
			totalArea += b.Area
			d.blobs = append(d.blobs, b)
		}
	}
	if !motion {
		return false, nil
	}

	d.background = smoothed
	d.stats.MotionFrames++
	d.stats.LastMotionTime = f.Timestamp
	n := float64(d.stats.MotionFrames)
	d.stats.AverageMotionArea = (d.stats.AverageMotionArea*(n-1) + totalArea) / n
	if totalArea > d.stats.MaxMotionArea {
		d.stats.MaxMotionArea = totalArea
	}
	if d.stats.MinMotionArea == 0 || totalArea < d.stats.MinMotionArea {
		d.stats.MinMotionArea = totalArea
	}
	return true, nil
}

// Boxes returns the bounding boxes of the regions that triggered motion on
// the last observed frame.
func (d *Detector) Boxes() []image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	boxes := make([]image.Rectangle, len(d.blobs))
	for i, b := range d.blobs {
		boxes[i] = b.Bounds
	}
	return boxes
}

// Background returns the current model, or nil before the first frame.
func (d *Detector) Background() *image.Gray {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.background
}

// Reset drops the background model so the next frame starts cold.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.background = nil
	d.blobs = nil
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
