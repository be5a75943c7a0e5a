// Package camera reads frames from a local capture device through OpenCV.
package camera

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/ledwatch/internal/frame"
)

// Camera is a frame.Source backed by gocv.VideoCapture.
type Camera struct {
	index  int
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	seq    uint64
	logger *zap.Logger
}

// Open opens the capture device at index.
func Open(index int, logger *zap.Logger) (*Camera, error) {
	if logger == nil {
		logger = zap.L().Named("camera")
	}
	dev := strconv.Itoa(index)

	cap, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, &frame.DeviceError{Op: "open", Device: dev, Err: err}
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, &frame.DeviceError{Op: "open", Device: dev, Err: fmt.Errorf("device not opened")}
	}

	logger.Info("Camera opened",
		zap.Int("index", index),
		zap.Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)),
		zap.Float64("fps", cap.Get(gocv.VideoCaptureFPS)))

	return &Camera{
		index:  index,
		cap:    cap,
		mat:    gocv.NewMat(),
		logger: logger,
	}, nil
}

// Read blocks on the device until the next frame arrives. A failed or empty
// read ends the stream with a *frame.DeviceError.
func (c *Camera) Read(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	dev := strconv.Itoa(c.index)

	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return frame.Frame{}, &frame.DeviceError{Op: "read", Device: dev, Err: frame.ErrEmptyFrame}
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return frame.Frame{}, &frame.DeviceError{Op: "decode", Device: dev, Err: err}
	}

	c.seq++
	return frame.Frame{Image: img, Timestamp: time.Now(), Sequence: c.seq}, nil
}

func (c *Camera) Close() error {
	c.mat.Close()
	if err := c.cap.Close(); err != nil {
		return fmt.Errorf("failed to close camera %d: %w", c.index, err)
	}
	c.logger.Info("Camera closed", zap.Int("index", c.index), zap.Uint64("frames", c.seq))
	return nil
}
