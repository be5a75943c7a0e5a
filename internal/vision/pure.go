package vision

import (
	"fmt"
	"image"

	"github.com/disintegration/gift"
)

// PureProcessor implements Processor in Go. Blob areas are pixel counts of
// 8-connected foreground regions, which run slightly larger than the
// polygon areas OpenCV reports for the same mask.
type PureProcessor struct{}

// NewPureProcessor returns a Processor that needs no cgo.
func NewPureProcessor() *PureProcessor {
	return &PureProcessor{}
}

func (p *PureProcessor) Smooth(img image.Image, ksize int) (*image.Gray, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("smooth: empty image")
	}
	if ksize <= 0 || ksize%2 == 0 {
		return nil, fmt.Errorf("smooth: kernel size %d must be odd and positive", ksize)
	}

	g := gift.New(
		gift.Grayscale(),
		gift.GaussianBlur(SigmaForKernel(ksize)),
	)
	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst, nil
}

func (p *PureProcessor) Contours(background, current *image.Gray, threshold float64) ([]Blob, error) {
	mask, err := DiffMask(background, current, threshold)
	if err != nil {
		return nil, err
	}
	return components(mask), nil
}

// DiffMask returns a binary mask, 255 where |a-b| > threshold and 0
// elsewhere. Both images must have the same size.
func DiffMask(a, b *image.Gray, threshold float64) (*image.Gray, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("diff: nil image")
	}
	sa, sb := a.Bounds().Size(), b.Bounds().Size()
	if sa != sb {
		return nil, fmt.Errorf("diff: size mismatch %v vs %v", sa, sb)
	}

	mask := image.NewGray(image.Rect(0, 0, sa.X, sa.Y))
	for y := 0; y < sa.Y; y++ {
		ra := a.Pix[a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y):]
		rb := b.Pix[b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y):]
		rm := mask.Pix[y*mask.Stride:]
		for x := 0; x < sa.X; x++ {
			d := int(ra[x]) - int(rb[x])
			if d < 0 {
				d = -d
			}
			if float64(d) > threshold {
				rm[x] = 255
			}
		}
	}
	return mask, nil
}

// components labels 8-connected non-zero regions of a zero-origin mask.
func components(mask *image.Gray) []Blob {
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	seen := make([]bool, w*h)
	var blobs []Blob
	var stack []int

	for start := 0; start < w*h; start++ {
		if seen[start] || mask.Pix[(start/w)*mask.Stride+start%w] == 0 {
			continue
		}

		seen[start] = true
		stack = append(stack[:0], start)
		bounds := image.Rect(start%w, start/w, start%w+1, start/w+1)
		area := 0

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			area++
			bounds = bounds.Union(image.Rect(x, y, x+1, y+1))

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if seen[j] || mask.Pix[ny*mask.Stride+nx] == 0 {
						continue
					}
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		blobs = append(blobs, Blob{Area: float64(area), Bounds: bounds})
	}
	return blobs
}
