package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	"github.com/icza/mjpeg"
)

// PureEncoder writes JPEG stills and MJPG AVI clips without OpenCV. The
// clip header records the frame rate.
type PureEncoder struct {
	Quality int
}

func NewPureEncoder() *PureEncoder {
	return &PureEncoder{Quality: 90}
}

func (e *PureEncoder) ClipExt() string { return ".avi" }

func (e *PureEncoder) WriteStill(path string, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return fmt.Errorf("write still: empty image")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		f.Close()
		return fmt.Errorf("write still: %w", err)
	}
	return f.Close()
}

func (e *PureEncoder) WriteClip(path string, frames []image.Image, fps int) error {
	if len(frames) == 0 {
		return fmt.Errorf("write clip: no frames")
	}
	if fps <= 0 {
		return fmt.Errorf("write clip: invalid fps %d", fps)
	}
	size := frames[0].Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return fmt.Errorf("write clip: empty first frame")
	}

	aw, err := mjpeg.New(path, int32(size.X), int32(size.Y), int32(fps))
	if err != nil {
		return fmt.Errorf("write clip: %w", err)
	}
	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: e.Quality}
	for i, img := range frames {
		buf.Reset()
		if err := jpeg.Encode(&buf, FitTo(img, size), opts); err != nil {
			aw.Close()
			return fmt.Errorf("write clip frame %d: %w", i, err)
		}
		if err := aw.AddFrame(buf.Bytes()); err != nil {
			aw.Close()
			return fmt.Errorf("write clip frame %d: %w", i, err)
		}
	}
	return aw.Close()
}

// FitTo returns img unchanged if it already has size, otherwise a copy
// cropped or padded to size anchored at the top-left corner.
func FitTo(img image.Image, size image.Point) image.Image {
	b := img.Bounds()
	if b.Size() == size {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
