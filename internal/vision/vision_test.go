package vision

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/ledwatch/internal/frame/frametest"
)

func TestSigmaForKernel(t *testing.T) {
	assert.InDelta(t, 3.5, SigmaForKernel(21), 1e-6)
	assert.InDelta(t, 1.1, SigmaForKernel(5), 1e-6)
}

func TestSmoothRejectsBadKernel(t *testing.T) {
	p := NewPureProcessor()
	img := frametest.Gray(16, 16, 100)

	for _, k := range []int{0, -3, 4} {
		_, err := p.Smooth(img, k)
		assert.Error(t, err, "ksize %d", k)
	}
	_, err := p.Smooth(image.NewRGBA(image.Rectangle{}), 5)
	assert.Error(t, err)
}

func TestSmoothKeepsUniformImage(t *testing.T) {
	p := NewPureProcessor()
	g, err := p.Smooth(frametest.Gray(32, 24, 120), 21)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(32, 24), g.Bounds().Size())
	assert.InDelta(t, 120, int(g.GrayAt(16, 12).Y), 1)
}

func TestContoursFindsSeparateBlobs(t *testing.T) {
	bg := image.NewGray(image.Rect(0, 0, 50, 40))
	cur := image.NewGray(image.Rect(0, 0, 50, 40))
	fill := func(r image.Rectangle) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				cur.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}
	fill(image.Rect(2, 2, 12, 7))    // 50 px
	fill(image.Rect(30, 20, 34, 24)) // 16 px
	fill(image.Rect(34, 24, 36, 26)) // diagonal neighbour joins the second blob

	blobs, err := NewPureProcessor().Contours(bg, cur, 25)
	require.NoError(t, err)
	require.Len(t, blobs, 2)

	assert.Equal(t, 50.0, blobs[0].Area)
	assert.Equal(t, image.Rect(2, 2, 12, 7), blobs[0].Bounds)
	assert.Equal(t, 20.0, blobs[1].Area)
	assert.Equal(t, image.Rect(30, 20, 36, 26), blobs[1].Bounds)
}

func TestDiffMaskThresholdIsStrict(t *testing.T) {
	a := image.NewGray(image.Rect(0, 0, 2, 1))
	b := image.NewGray(image.Rect(0, 0, 2, 1))
	b.SetGray(0, 0, color.Gray{Y: 25})
	b.SetGray(1, 0, color.Gray{Y: 26})

	mask, err := DiffMask(a, b, 25)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), mask.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), mask.GrayAt(1, 0).Y)

	_, err = DiffMask(a, image.NewGray(image.Rect(0, 0, 3, 1)), 25)
	assert.Error(t, err)
}

func TestPureEncoder(t *testing.T) {
	dir := t.TempDir()
	enc := NewPureEncoder()

	still := filepath.Join(dir, "still.jpg")
	require.NoError(t, enc.WriteStill(still, frametest.Gray(20, 10, 50)))
	info, err := os.Stat(still)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	clip := filepath.Join(dir, "clip"+enc.ClipExt())
	frames := []image.Image{
		frametest.Gray(20, 10, 10),
		frametest.Gray(20, 10, 20),
		frametest.Gray(30, 30, 30),
	}
	require.NoError(t, enc.WriteClip(clip, frames, 15))

	data, err := os.ReadFile(clip)
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(data, []byte{0xFF, 0xD8}), "one JPEG per frame")

	assert.Error(t, enc.WriteClip(filepath.Join(dir, "empty.avi"), nil, 15))
	assert.Error(t, enc.WriteClip(filepath.Join(dir, "nofps.avi"), frames, 0))
}

// chunkField reads the little-endian uint32 at off bytes into the payload
// of the first chunk tagged id.
func chunkField(t *testing.T, data []byte, id string, off int) uint32 {
	t.Helper()
	i := bytes.Index(data, []byte(id))
	require.GreaterOrEqual(t, i, 0, "no %s chunk", id)
	start := i + 8 + off
	require.LessOrEqual(t, start+4, len(data))
	return binary.LittleEndian.Uint32(data[start:])
}

func TestPureEncoderRecordsFrameRate(t *testing.T) {
	testCases := []struct {
		name string
		fps  int
	}{
		{"Clip default", 15},
		{"Camera rate", 30},
		{"Slow", 5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clip := filepath.Join(t.TempDir(), "clip.avi")
			frames := []image.Image{frametest.Gray(16, 8, 1), frametest.Gray(16, 8, 2)}
			require.NoError(t, NewPureEncoder().WriteClip(clip, frames, tc.fps))

			data, err := os.ReadFile(clip)
			require.NoError(t, err)
			require.Equal(t, "RIFF", string(data[:4]))
			require.Equal(t, "AVI ", string(data[8:12]))

			assert.Equal(t, uint32(1_000_000/tc.fps), chunkField(t, data, "avih", 0), "microseconds per frame")
			scale := chunkField(t, data, "strh", 20)
			rate := chunkField(t, data, "strh", 24)
			require.NotZero(t, scale)
			assert.Equal(t, uint32(tc.fps), rate/scale, "stream rate")
		})
	}
}

func TestAnnotateDoesNotModifySource(t *testing.T) {
	src := frametest.Gray(120, 80, 0)
	out, err := PureAnnotator{}.Annotate(src, Overlay{
		Motion:    true,
		Boxes:     []image.Rectangle{image.Rect(5, 5, 30, 30)},
		Verify:    true,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	r, g, _, _ := out.At(5, 5).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	assert.Equal(t, uint32(255), g>>8, "box corner drawn in green")

	r, g, b, _ := src.At(5, 5).RGBA()
	assert.Zero(t, r+g+b, "source untouched")
}

func TestFitTo(t *testing.T) {
	img := frametest.Gray(10, 10, 1)
	assert.Same(t, img, FitTo(img, image.Pt(10, 10)).(*image.RGBA))
	assert.Equal(t, image.Pt(4, 6), FitTo(img, image.Pt(4, 6)).Bounds().Size())
}
