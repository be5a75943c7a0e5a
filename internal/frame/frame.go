// Package frame defines the immutable camera frame passed through the
// monitoring loop and the Source contract cameras implement.
package frame

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"
)

// Frame is a captured image with metadata. Consumers treat Image as
// read-only; a consumer that keeps a frame past the current iteration must
// hold a Clone.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Sequence  uint64
}

// Bounds returns the image bounds, or the empty rectangle for a nil image.
func (f Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// Size returns width and height as a point.
func (f Frame) Size() image.Point {
	return f.Bounds().Size()
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Bounds().Empty()
}

// Clone returns a frame backed by an owned RGBA copy of the pixels.
func (f Frame) Clone() Frame {
	if f.Empty() {
		return f
	}
	b := f.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), f.Image, b.Min, draw.Src)
	return Frame{Image: dst, Timestamp: f.Timestamp, Sequence: f.Sequence}
}

// Source yields frames in capture order. Read blocks until a frame is
// available. A failed or empty read is reported as a *DeviceError and ends
// the stream.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// DeviceError reports a camera that could not be opened or read.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %s %s failed", e.Device, e.Op)
	}
	return fmt.Sprintf("camera %s %s failed: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ErrEmptyFrame marks a read that returned no pixels.
var ErrEmptyFrame = fmt.Errorf("empty frame")
