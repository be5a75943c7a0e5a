package storage

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/vision"
)

const fileTimeLayout = "20060102_150405"

// VideoConfig configures local footage storage.
type VideoConfig struct {
	Dir       string `yaml:"dir"`
	ClipFPS   int    `yaml:"clip_fps"`
	MinFreeMB uint64 `yaml:"min_free_mb"`
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Dir:       "captured_footage",
		ClipFPS:   15,
		MinFreeMB: 512,
	}
}

func (c VideoConfig) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("storage dir cannot be empty")
	}
	if c.ClipFPS <= 0 {
		return fmt.Errorf("storage clip_fps must be positive, got %d", c.ClipFPS)
	}
	return nil
}

// VideoStorage writes stills and clips under a single directory. Still
// names carry a counter that increases with every saved frame, so two
// frames saved in the same second never collide.
type VideoStorage struct {
	config  VideoConfig
	encoder vision.Encoder
	logger  *zap.Logger

	mu      sync.Mutex
	counter uint64
	now     func() time.Time
	free    func(dir string) (uint64, error)
}

// NewVideoStorage creates the output directory if needed.
func NewVideoStorage(config VideoConfig, encoder vision.Encoder, logger *zap.Logger) (*VideoStorage, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if encoder == nil {
		return nil, fmt.Errorf("encoder cannot be nil")
	}
	if logger == nil {
		logger = zap.L().Named("video-storage")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: config.Dir, Err: err}
	}
	return &VideoStorage{
		config:  config,
		encoder: encoder,
		logger:  logger,
		now:     time.Now,
		free:    FreeSpace,
	}, nil
}

func (s *VideoStorage) Dir() string { return s.config.Dir }

func (s *VideoStorage) FPS() int { return s.config.ClipFPS }

// SaveFrame writes img as frame_<time>_<tag>_<counter>.jpg and returns the
// path.
func (s *VideoStorage) SaveFrame(img image.Image, tag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("frame_%s_%s_%d.jpg", s.now().Format(fileTimeLayout), tag, s.counter)
	path := filepath.Join(s.config.Dir, sanitize(name))

	if err := s.encoder.WriteStill(path, img); err != nil {
		return "", &StorageError{Op: "save_frame", Path: path, Err: err}
	}
	s.counter++

	s.logger.Debug("Frame saved", zap.String("path", path))
	return path, nil
}

// SaveClip encodes frames as one clip at the configured frame rate, sized to
// the first frame, and returns its path.
func (s *VideoStorage) SaveClip(frames []image.Image, tag string) (string, error) {
	if len(frames) == 0 {
		return "", &StorageError{Op: "save_clip", Path: s.config.Dir, Err: ErrNoFrames}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := sanitize(fmt.Sprintf("video_%s_%s", s.now().Format(fileTimeLayout), tag))
	ext := s.encoder.ClipExt()
	path := filepath.Join(s.config.Dir, base+ext)
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(s.config.Dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}

	if err := s.encoder.WriteClip(path, frames, s.config.ClipFPS); err != nil {
		return "", &StorageError{Op: "save_clip", Path: path, Err: err}
	}

	s.logger.Info("Clip saved",
		zap.String("path", path),
		zap.Int("frames", len(frames)),
		zap.Int("fps", s.config.ClipFPS),
		zap.Stringer("size", frames[0].Bounds().Size()))
	return path, nil
}

// EnsureSpace fails with ErrInsufficientSpace when the storage volume has
// less than MinFreeMB available. A zero floor disables the check.
func (s *VideoStorage) EnsureSpace() error {
	if s.config.MinFreeMB == 0 {
		return nil
	}
	avail, err := s.free(s.config.Dir)
	if err != nil {
		return &StorageError{Op: "statfs", Path: s.config.Dir, Err: err}
	}
	if avail < s.config.MinFreeMB*1024*1024 {
		return &StorageError{
			Op:   "ensure_space",
			Path: s.config.Dir,
			Err:  fmt.Errorf("%w: %d MB available, %d MB required", ErrInsufficientSpace, avail/(1024*1024), s.config.MinFreeMB),
		}
	}
	return nil
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
