package verify

import (
	"context"
	"fmt"
	"image"

	"github.com/mikeyg42/ledwatch/internal/frame"
)

// Channel selects which colour component is averaged over a region.
type Channel string

const (
	// ChannelBlue is the first channel of a BGR camera frame.
	ChannelBlue  Channel = "blue"
	ChannelGreen Channel = "green"
	ChannelRed   Channel = "red"
	ChannelLuma  Channel = "luma"
)

func (c Channel) Validate() error {
	switch c {
	case ChannelBlue, ChannelGreen, ChannelRed, ChannelLuma:
		return nil
	}
	return fmt.Errorf("unknown channel %q", c)
}

// RegionConfig places the LED observation band at the bottom-right corner
// of the frame, as fractions of the frame size.
type RegionConfig struct {
	WidthFraction  float64 `yaml:"width_fraction"`
	HeightFraction float64 `yaml:"height_fraction"`
}

func (r RegionConfig) Validate() error {
	if r.WidthFraction <= 0 || r.WidthFraction > 1 {
		return fmt.Errorf("region width_fraction must be in (0,1], got %v", r.WidthFraction)
	}
	if r.HeightFraction <= 0 || r.HeightFraction > 1 {
		return fmt.Errorf("region height_fraction must be in (0,1], got %v", r.HeightFraction)
	}
	return nil
}

// ComputeRegions splits the bottom-right band into two side-by-side
// regions: LED1 on the left, LED2 on the right.
func ComputeRegions(size image.Point, rc RegionConfig) ([2]image.Rectangle, error) {
	if err := rc.Validate(); err != nil {
		return [2]image.Rectangle{}, err
	}
	w := int(float64(size.X) * rc.WidthFraction)
	h := int(float64(size.Y) * rc.HeightFraction)
	half := w / 2
	if half == 0 || h == 0 {
		return [2]image.Rectangle{}, fmt.Errorf("frame %v too small for LED regions", size)
	}

	x0, y0 := size.X-w, size.Y-h
	return [2]image.Rectangle{
		image.Rect(x0, y0, x0+half, size.Y),
		image.Rect(x0+half, y0, size.X, size.Y),
	}, nil
}

// ResolutionChangedError is returned when a frame no longer has the size
// the LED regions were computed from.
type ResolutionChangedError struct {
	Want image.Point
	Got  image.Point
}

func (e *ResolutionChangedError) Error() string {
	return fmt.Sprintf("frame size changed from %v to %v; LED regions are no longer valid", e.Want, e.Got)
}

// Sampler measures LED brightness. Regions are fixed by the first frame it
// sees and never recomputed.
type Sampler struct {
	region  RegionConfig
	channel Channel
	size    image.Point
	regions [2]image.Rectangle
	ready   bool
}

func NewSampler(region RegionConfig, channel Channel) (*Sampler, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if err := channel.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{region: region, channel: channel}, nil
}

// Sample returns the mean channel intensity of both LED regions.
func (s *Sampler) Sample(f frame.Frame) (float64, float64, error) {
	if f.Empty() {
		return 0, 0, fmt.Errorf("sample frame %d: %w", f.Sequence, frame.ErrEmptyFrame)
	}
	size := f.Size()
	if !s.ready {
		regions, err := ComputeRegions(size, s.region)
		if err != nil {
			return 0, 0, err
		}
		s.size, s.regions, s.ready = size, regions, true
	} else if size != s.size {
		return 0, 0, &ResolutionChangedError{Want: s.size, Got: size}
	}

	origin := f.Bounds().Min
	led1 := MeanChannel(f.Image, s.regions[0].Add(origin), s.channel)
	led2 := MeanChannel(f.Image, s.regions[1].Add(origin), s.channel)
	return led1, led2, nil
}

// Regions returns the LED regions once they have been fixed.
func (s *Sampler) Regions() ([2]image.Rectangle, bool) {
	return s.regions, s.ready
}

// MeanChannel averages one 8-bit channel over r.
func MeanChannel(img image.Image, r image.Rectangle, ch Channel) float64 {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return 0
	}

	var sum uint64
	if rgba, ok := img.(*image.RGBA); ok {
		off := channelOffset(ch)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(r.Min.X, y):]
			for x := 0; x < r.Dx(); x++ {
				p := row[4*x : 4*x+3]
				if off < 0 {
					sum += uint64(luma(uint32(p[0]), uint32(p[1]), uint32(p[2])))
				} else {
					sum += uint64(p[off])
				}
			}
		}
	} else {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				cr, cg, cb, _ := img.At(x, y).RGBA()
				cr, cg, cb = cr>>8, cg>>8, cb>>8
				switch ch {
				case ChannelRed:
					sum += uint64(cr)
				case ChannelGreen:
					sum += uint64(cg)
				case ChannelBlue:
					sum += uint64(cb)
				default:
					sum += uint64(luma(cr, cg, cb))
				}
			}
		}
	}
	return float64(sum) / float64(r.Dx()*r.Dy())
}

func channelOffset(ch Channel) int {
	switch ch {
	case ChannelRed:
		return 0
	case ChannelGreen:
		return 1
	case ChannelBlue:
		return 2
	}
	return -1
}

// luma uses the BT.601 weights OpenCV applies for BGR to gray.
func luma(r, g, b uint32) uint32 {
	return (299*r + 587*g + 114*b + 500) / 1000
}

// BrightnessReader yields one brightness pair per call.
type BrightnessReader interface {
	ReadBrightness(ctx context.Context) (float64, float64, error)
}

// SourceReader samples consecutive frames from a camera.
type SourceReader struct {
	Source  frame.Source
	Sampler *Sampler
}

func (r *SourceReader) ReadBrightness(ctx context.Context) (float64, float64, error) {
	f, err := r.Source.Read(ctx)
	if err != nil {
		return 0, 0, err
	}
	return r.Sampler.Sample(f)
}
