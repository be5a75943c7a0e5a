package motion

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/mikeyg42/ledwatch/internal/frame"
	"github.com/mikeyg42/ledwatch/internal/frame/frametest"
	"github.com/mikeyg42/ledwatch/internal/vision"
)

const (
	frameW = 160
	frameH = 120
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultConfig(), vision.NewPureProcessor(), nil)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return d
}

func observe(t *testing.T, d *Detector, img image.Image, seq int) bool {
	t.Helper()
	motion, err := d.Observe(frametest.At(img, seq, time.Second/15))
	if err != nil {
		t.Fatalf("Observe(frame %d) failed: %v", seq, err)
	}
	return motion
}

func TestColdStartReportsNoMotion(t *testing.T) {
	d := newTestDetector(t)
	if d.Background() != nil {
		t.Fatal("background should be empty before the first frame")
	}
	if observe(t, d, frametest.Gray(frameW, frameH, 60), 0) {
		t.Fatal("first frame must not report motion")
	}
	if d.Background() == nil {
		t.Fatal("first frame should initialise the background model")
	}
}

func TestNoiseBelowThreshold(t *testing.T) {
	d := newTestDetector(t)
	base := frametest.Gray(frameW, frameH, 60)
	observe(t, d, base, 0)
	bg := d.Background()

	for seed := int64(1); seed <= 5; seed++ {
		if observe(t, d, frametest.Noisy(base, 6, seed), int(seed)) {
			t.Fatalf("noise (seed %d) reported as motion", seed)
		}
	}
	if d.Background() != bg {
		t.Fatal("quiet frames must leave the background model untouched")
	}
}

func TestBlobTriggersMotionAndReplacesBackground(t *testing.T) {
	testCases := []struct {
		name   string
		blob   image.Rectangle
		motion bool
	}{
		{"Large blob", image.Rect(40, 30, 90, 80), true},
		{"Small blob", image.Rect(70, 50, 85, 65), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDetector(t)
			base := frametest.Gray(frameW, frameH, 60)
			observe(t, d, base, 0)
			bg := d.Background()

			img := frametest.WithRect(base, tc.blob, color.RGBA{R: 220, G: 220, B: 220, A: 255})
			got := observe(t, d, img, 1)
			if got != tc.motion {
				t.Fatalf("Observe = %v, expected %v", got, tc.motion)
			}

			if !tc.motion {
				if d.Background() != bg {
					t.Fatal("background replaced without motion")
				}
				return
			}

			want, err := vision.NewPureProcessor().Smooth(img, DefaultConfig().BlurSize)
			if err != nil {
				t.Fatalf("Smooth failed: %v", err)
			}
			got2 := d.Background()
			if got2 == bg {
				t.Fatal("background should be replaced on motion")
			}
			c := tc.blob.Min.Add(image.Pt(tc.blob.Dx()/2, tc.blob.Dy()/2))
			if got2.GrayAt(c.X, c.Y) != want.GrayAt(c.X, c.Y) {
				t.Fatalf("background at blob centre = %v, expected %v", got2.GrayAt(c.X, c.Y), want.GrayAt(c.X, c.Y))
			}
			if len(d.Boxes()) == 0 || !d.Boxes()[0].Overlaps(tc.blob) {
				t.Fatalf("expected a box over %v, got %v", tc.blob, d.Boxes())
			}

			// The same scene again is no longer motion.
			if observe(t, d, img, 2) {
				t.Fatal("static scene after adaptation reported motion")
			}
		})
	}
}

// fixedBlobs is a Processor whose Contours always reports the same blobs.
type fixedBlobs struct {
	blobs []vision.Blob
}

func (p fixedBlobs) Smooth(img image.Image, _ int) (*image.Gray, error) {
	return image.NewGray(img.Bounds()), nil
}

func (p fixedBlobs) Contours(_, _ *image.Gray, _ float64) ([]vision.Blob, error) {
	return p.blobs, nil
}

func TestMinAreaIsInclusive(t *testing.T) {
	minArea := DefaultConfig().MinArea
	testCases := []struct {
		name   string
		area   float64
		motion bool
	}{
		{"Just below", minArea - 1, false},
		{"Exactly min area", minArea, true},
		{"Above", minArea + 1, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			blob := vision.Blob{Area: tc.area, Bounds: image.Rect(0, 0, 10, 10)}
			d, err := NewDetector(DefaultConfig(), fixedBlobs{blobs: []vision.Blob{blob}}, nil)
			if err != nil {
				t.Fatalf("NewDetector failed: %v", err)
			}
			base := frametest.Gray(frameW, frameH, 60)
			observe(t, d, base, 0)
			if got := observe(t, d, base, 1); got != tc.motion {
				t.Fatalf("area %.0f with min_area %.0f: Observe = %v, expected %v", tc.area, minArea, got, tc.motion)
			}
		})
	}
}

func TestEmptyFrameIsError(t *testing.T) {
	d := newTestDetector(t)
	_, err := d.Observe(frame.Frame{})
	if !errors.Is(err, frame.ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestFrameSizeChangeReinitialises(t *testing.T) {
	d := newTestDetector(t)
	observe(t, d, frametest.Gray(frameW, frameH, 60), 0)
	if observe(t, d, frametest.Gray(frameW/2, frameH/2, 200), 1) {
		t.Fatal("size change must not report motion")
	}
	if got := d.Background().Bounds().Size(); got != image.Pt(frameW/2, frameH/2) {
		t.Fatalf("background size = %v after size change", got)
	}
}

func TestStats(t *testing.T) {
	d := newTestDetector(t)
	base := frametest.Gray(frameW, frameH, 60)
	observe(t, d, base, 0)
	observe(t, d, frametest.WithRect(base, image.Rect(10, 10, 70, 70), color.White), 1)
	observe(t, d, base, 2)

	s := d.Stats()
	if s.FramesProcessed != 3 || s.MotionFrames != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.MinMotionArea <= 0 || s.MaxMotionArea < s.MinMotionArea {
		t.Fatalf("inconsistent area stats: %+v", s)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Default", func(*Config) {}, false},
		{"Zero threshold", func(c *Config) { c.Threshold = 0 }, true},
		{"Negative area", func(c *Config) { c.MinArea = -1 }, true},
		{"Even blur", func(c *Config) { c.BlurSize = 20 }, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
