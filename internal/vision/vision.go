// Package vision defines the pixel-processing operations the motion
// detector, overlay and storage layers depend on, and a pure-Go backend that
// implements them without OpenCV. The gocv backend lives in vision/cvproc.
package vision

import (
	"image"
	"time"
)

// Blob is one connected foreground region of a thresholded difference mask.
type Blob struct {
	Area   float64
	Bounds image.Rectangle
}

// Processor provides the image primitives used for background subtraction.
type Processor interface {
	// Smooth converts img to grayscale and applies a ksize x ksize
	// Gaussian blur. ksize must be odd and positive.
	Smooth(img image.Image, ksize int) (*image.Gray, error)

	// Contours thresholds |background - current| at threshold (strictly
	// greater is foreground) and returns the external regions found in the
	// resulting mask.
	Contours(background, current *image.Gray, threshold float64) ([]Blob, error)
}

// Overlay is what gets drawn on top of a frame before display.
type Overlay struct {
	Motion    bool
	Boxes     []image.Rectangle
	Verify    bool // verification is running; Verified is meaningful
	Verified  bool
	Regions   []image.Rectangle
	Timestamp time.Time
}

// Annotator draws an overlay on a copy of img.
type Annotator interface {
	Annotate(img image.Image, ov Overlay) (image.Image, error)
}

// Encoder persists stills and clips.
type Encoder interface {
	WriteStill(path string, img image.Image) error
	// WriteClip encodes frames at fps into a single clip sized to the first
	// frame. Frames of a different size are scaled or cropped to fit.
	WriteClip(path string, frames []image.Image, fps int) error
	// ClipExt is the file extension, with dot, the encoder writes clips in.
	ClipExt() string
}

// StatusText is the overlay's motion line.
func StatusText(motion bool) string {
	if motion {
		return "Status: Motion Detected"
	}
	return "Status: No Motion"
}

// VerifyText is the overlay's verification line.
func VerifyText(verified bool) string {
	if verified {
		return "LED: VERIFIED"
	}
	return "LED: NOT VERIFIED"
}

// TimestampLayout is used for the overlay clock.
const TimestampLayout = "2006-01-02 15:04:05"

// SigmaForKernel returns the Gaussian sigma OpenCV derives for a kernel size
// when sigma is passed as zero.
func SigmaForKernel(ksize int) float32 {
	return float32(0.3*((float64(ksize)-1)*0.5-1) + 0.8)
}
