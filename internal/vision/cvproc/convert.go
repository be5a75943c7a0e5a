package cvproc

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// ToMat converts an image.Image to a BGR Mat, or a single-channel Mat for
// *image.Gray. The caller owns the returned Mat.
func ToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("cvproc: nil image")
	}
	if img.Bounds().Empty() {
		return gocv.NewMat(), fmt.Errorf("cvproc: empty image bounds")
	}

	switch im := img.(type) {
	case *image.Gray:
		return grayToMat(im)
	case *image.RGBA:
		return rgbaToMat(im)
	default:
		b := img.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		return rgbaToMat(rgba)
	}
}

// rgbaToMat unpremultiplies partially transparent pixels, then lets OpenCV
// swap channels.
func rgbaToMat(im *image.RGBA) (gocv.Mat, error) {
	w, h := im.Rect.Dx(), im.Rect.Dy()
	buf := make([]byte, 4*w*h)
	dst := 0
	for y := 0; y < h; y++ {
		row := im.Pix[im.PixOffset(im.Rect.Min.X, im.Rect.Min.Y+y):]
		for x := 0; x < w; x++ {
			r, g, b, a := row[4*x], row[4*x+1], row[4*x+2], row[4*x+3]
			if a > 0 && a < 255 {
				r = uint8(uint32(r) * 255 / uint32(a))
				g = uint8(uint32(g) * 255 / uint32(a))
				b = uint8(uint32(b) * 255 / uint32(a))
			}
			buf[dst], buf[dst+1], buf[dst+2], buf[dst+3] = r, g, b, a
			dst += 4
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("cvproc: mat from RGBA: %w", err)
	}
	defer mat.Close()

	out := gocv.NewMat()
	gocv.CvtColor(mat, &out, gocv.ColorRGBAToBGR)
	return out, nil
}

func grayToMat(im *image.Gray) (gocv.Mat, error) {
	w, h := im.Rect.Dx(), im.Rect.Dy()
	pix := im.Pix
	if im.Stride != w || !im.Rect.Min.Eq(image.Point{}) {
		pix = make([]byte, w*h)
		for y := 0; y < h; y++ {
			src := im.PixOffset(im.Rect.Min.X, im.Rect.Min.Y+y)
			copy(pix[y*w:(y+1)*w], im.Pix[src:src+w])
		}
	}
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("cvproc: mat from Gray: %w", err)
	}
	return mat, nil
}

// toGray reads a single-channel Mat back into an owned *image.Gray.
func toGray(m gocv.Mat) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("cvproc: mat to image: %w", err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g, nil
}
