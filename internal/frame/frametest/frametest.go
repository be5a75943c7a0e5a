// Package frametest builds synthetic frames and scripted sources for tests.
package frametest

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"sync"
	"time"

	"github.com/mikeyg42/ledwatch/internal/frame"
)

// Epoch is the timestamp of the first frame produced by Sequence.
var Epoch = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// Gray returns a solid image of the given intensity.
func Gray(w, h int, v uint8) *image.RGBA {
	return Solid(w, h, color.RGBA{R: v, G: v, B: v, A: 255})
}

// WithRect returns a copy of base with r filled with c.
func WithRect(base image.Image, r image.Rectangle, c color.Color) *image.RGBA {
	b := base.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), base, b.Min, draw.Src)
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// Noisy returns a copy of base with every channel perturbed by a uniform
// value in [-amp, amp], deterministic for a given seed.
func Noisy(base image.Image, amp int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	b := base.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), base, b.Min, draw.Src)
	for i := 0; i < len(img.Pix); i++ {
		if i%4 == 3 {
			continue
		}
		v := int(img.Pix[i]) + rng.Intn(2*amp+1) - amp
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		img.Pix[i] = uint8(v)
	}
	return img
}

// At wraps img as frame seq, timestamped seq intervals after Epoch.
func At(img image.Image, seq int, interval time.Duration) frame.Frame {
	return frame.Frame{
		Image:     img,
		Timestamp: Epoch.Add(time.Duration(seq) * interval),
		Sequence:  uint64(seq),
	}
}

// Source replays a fixed list of images and then reports a DeviceError, the
// way a camera does when its stream ends.
type Source struct {
	Images   []image.Image
	Interval time.Duration

	mu     sync.Mutex
	next   int
	closed bool
}

// NewSource returns a Source producing frames 1/30 s apart.
func NewSource(images ...image.Image) *Source {
	return &Source{Images: images, Interval: time.Second / 30}
}

func (s *Source) Read(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.Images) {
		return frame.Frame{}, &frame.DeviceError{Op: "read", Device: "test", Err: frame.ErrEmptyFrame}
	}
	f := At(s.Images[s.next], s.next, s.Interval)
	s.next++
	return f, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
