// Package cvproc implements the vision interfaces on top of OpenCV.
package cvproc

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/ledwatch/internal/vision"
)

// Processor runs grayscale, blur, difference and contour extraction in
// OpenCV.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) Smooth(img image.Image, ksize int) (*image.Gray, error) {
	if ksize <= 0 || ksize%2 == 0 {
		return nil, fmt.Errorf("smooth: kernel size %d must be odd and positive", ksize)
	}
	src, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	gray := src
	if src.Channels() > 1 {
		gray = gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(ksize, ksize), 0, 0, gocv.BorderDefault)

	return toGray(blurred)
}

func (p *Processor) Contours(background, current *image.Gray, threshold float64) ([]vision.Blob, error) {
	if background.Bounds().Size() != current.Bounds().Size() {
		return nil, fmt.Errorf("contours: size mismatch %v vs %v", background.Bounds().Size(), current.Bounds().Size())
	}
	bg, err := ToMat(background)
	if err != nil {
		return nil, err
	}
	defer bg.Close()
	cur, err := ToMat(current)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(bg, cur, &delta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, float32(threshold), 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	blobs := make([]vision.Blob, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		blobs = append(blobs, vision.Blob{
			Area:   gocv.ContourArea(c),
			Bounds: gocv.BoundingRect(c),
		})
	}
	return blobs, nil
}

// Annotator draws overlays with OpenCV's Hershey fonts.
type Annotator struct{}

var (
	green = color.RGBA{G: 255, A: 255}
	red   = color.RGBA{R: 255, A: 255}
	amber = color.RGBA{R: 255, G: 191, A: 255}
)

func (Annotator) Annotate(img image.Image, ov vision.Overlay) (image.Image, error) {
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for _, r := range ov.Boxes {
		gocv.Rectangle(&mat, r, green, 2)
	}
	for _, r := range ov.Regions {
		gocv.Rectangle(&mat, r, amber, 1)
	}

	status := green
	if ov.Motion {
		status = red
	}
	gocv.PutText(&mat, vision.StatusText(ov.Motion), image.Pt(10, 20), gocv.FontHersheySimplex, 0.5, status, 2)

	if ov.Verify {
		c := red
		if ov.Verified {
			c = green
		}
		gocv.PutText(&mat, vision.VerifyText(ov.Verified), image.Pt(10, 40), gocv.FontHersheySimplex, 0.5, c, 2)
	}
	if !ov.Timestamp.IsZero() {
		gocv.PutText(&mat, ov.Timestamp.Format(vision.TimestampLayout), image.Pt(10, mat.Rows()-10),
			gocv.FontHersheySimplex, 0.35, red, 1)
	}
	return mat.ToImage()
}

// Encoder writes JPEG stills and MJPG AVI clips.
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) ClipExt() string { return ".avi" }

func (e *Encoder) WriteStill(path string, img image.Image) error {
	mat, err := ToMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("imwrite %s failed", path)
	}
	return nil
}

func (e *Encoder) WriteClip(path string, frames []image.Image, fps int) error {
	if len(frames) == 0 {
		return fmt.Errorf("write clip: no frames")
	}
	size := frames[0].Bounds().Size()

	writer, err := gocv.VideoWriterFile(path, "MJPG", float64(fps), size.X, size.Y, true)
	if err != nil {
		return fmt.Errorf("failed to open video writer: %w", err)
	}
	defer writer.Close()

	for i, img := range frames {
		mat, err := ToMat(img)
		if err != nil {
			return fmt.Errorf("clip frame %d: %w", i, err)
		}
		if mat.Channels() == 1 {
			gocv.CvtColor(mat, &mat, gocv.ColorGrayToBGR)
		}
		if img.Bounds().Size() != size {
			gocv.Resize(mat, &mat, size, 0, 0, gocv.InterpolationLinear)
		}
		err = writer.Write(mat)
		mat.Close()
		if err != nil {
			return fmt.Errorf("clip frame %d: %w", i, err)
		}
	}
	return nil
}

// Window shows annotated frames in a HighGUI window.
type Window struct {
	win *gocv.Window
}

// EscKey is the key code that closes the display.
const EscKey = 27

func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show displays img and polls the keyboard for 1 ms. It reports false when
// the operator pressed ESC.
func (w *Window) Show(img image.Image) (bool, error) {
	mat, err := ToMat(img)
	if err != nil {
		return true, err
	}
	defer mat.Close()
	w.win.IMShow(mat)
	return w.win.WaitKey(1) != EscKey, nil
}

func (w *Window) Close() error {
	return w.win.Close()
}
