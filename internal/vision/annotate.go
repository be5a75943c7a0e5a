package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorGreen = color.RGBA{G: 255, A: 255}
	colorRed   = color.RGBA{R: 255, A: 255}
	colorAmber = color.RGBA{R: 255, G: 191, A: 255}
)

// PureAnnotator draws overlays with the standard library and basicfont.
type PureAnnotator struct{}

func (PureAnnotator) Annotate(img image.Image, ov Overlay) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("annotate: empty image")
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, r := range ov.Boxes {
		strokeRect(dst, r, colorGreen)
	}
	for _, r := range ov.Regions {
		strokeRect(dst, r, colorAmber)
	}

	status := colorGreen
	if ov.Motion {
		status = colorRed
	}
	drawText(dst, 10, 20, StatusText(ov.Motion), status)

	if ov.Verify {
		c := colorRed
		if ov.Verified {
			c = colorGreen
		}
		drawText(dst, 10, 40, VerifyText(ov.Verified), c)
	}

	if !ov.Timestamp.IsZero() {
		drawText(dst, 10, dst.Rect.Dy()-10, ov.Timestamp.Format(TimestampLayout), colorRed)
	}
	return dst, nil
}

func drawText(dst draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(dst.Rect)
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.SetRGBA(x, r.Min.Y, c)
		dst.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst.SetRGBA(r.Min.X, y, c)
		dst.SetRGBA(r.Max.X-1, y, c)
	}
}
