// Package recorder turns the per-frame motion flag into capture events:
// still snapshots while motion lasts and one clip per event.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/frame"
	"github.com/mikeyg42/ledwatch/internal/storage"
)

const (
	textMotionStarted = "Motion detected - starting capture"
	textMotionEnded   = "Motion event ended"
)

// State is the recorder's position in the capture state machine.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Store persists stills and clips.
type Store interface {
	SaveFrame(img image.Image, tag string) (string, error)
	SaveClip(frames []image.Image, tag string) (string, error)
	EnsureSpace() error
}

// EventLog is the security log.
type EventLog interface {
	Event(text string) error
	VerifiedEvent(text string, verified bool) error
}

// Catalog indexes finished events.
type Catalog interface {
	Record(ctx context.Context, ev storage.EventRecord) error
	SetArchiveKey(ctx context.Context, id, key string) error
}

// Archive copies finished clips off the device.
type Archive interface {
	Upload(ctx context.Context, path string, capturedAt time.Time) (string, error)
}

// Config names the artifacts the recorder writes.
type Config struct {
	StillTag string
	ClipTag  string
	// Verification tags log lines, clip names and catalog rows with the LED
	// verification outcome.
	Verification bool
}

func DefaultConfig() Config {
	return Config{StillTag: "motion", ClipTag: "motion_event"}
}

// CaptureEvent is one motion episode.
type CaptureEvent struct {
	ID             string
	Started        time.Time
	Ended          time.Time
	Frames         []frame.Frame
	FrameCount     int
	VerifiedFrames int
	Stills         []string
	ClipPath       string
}

// Verified reports whether every captured frame was seen with the LED
// pattern verified.
func (e *CaptureEvent) Verified() bool {
	return e.FrameCount > 0 && e.VerifiedFrames == e.FrameCount
}

// Metrics counts recorder activity.
type Metrics struct {
	EventsStarted  atomic.Uint64
	EventsEnded    atomic.Uint64
	FramesCaptured atomic.Uint64
	StillsSaved    atomic.Uint64
	ClipsSaved     atomic.Uint64
	Errors         atomic.Uint64
}

// Recorder is the Idle/Active capture state machine. It is driven from a
// single goroutine, one Observe call per frame in capture order.
type Recorder struct {
	config  Config
	store   Store
	log     EventLog
	catalog Catalog
	archive Archive
	logger  *zap.Logger
	metrics Metrics

	state State
	event *CaptureEvent
}

// Option configures optional collaborators.
type Option func(*Recorder)

func WithCatalog(c Catalog) Option { return func(r *Recorder) { r.catalog = c } }

func WithArchive(a Archive) Option { return func(r *Recorder) { r.archive = a } }

func WithLogger(l *zap.Logger) Option { return func(r *Recorder) { r.logger = l } }

func New(config Config, store Store, log EventLog, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("event log cannot be nil")
	}
	if config.StillTag == "" || config.ClipTag == "" {
		return nil, fmt.Errorf("still and clip tags are required")
	}
	r := &Recorder{config: config, store: store, log: log}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.L().Named("recorder")
	}
	return r, nil
}

// Observe advances the state machine with one frame. verified is the LED
// verification state at the time the frame was captured.
func (r *Recorder) Observe(ctx context.Context, f frame.Frame, motion, verified bool) error {
	switch {
	case r.state == Idle && motion:
		return r.start(f, verified)
	case r.state == Active && motion:
		return r.capture(f, verified)
	case r.state == Active && !motion:
		_, err := r.end(ctx, f.Timestamp)
		return err
	}
	return nil
}

func (r *Recorder) start(f frame.Frame, verified bool) error {
	if err := r.store.EnsureSpace(); err != nil {
		r.metrics.Errors.Add(1)
		return err
	}
	if err := r.logEvent(textMotionStarted, verified); err != nil {
		return err
	}

	r.event = &CaptureEvent{ID: uuid.NewString(), Started: f.Timestamp}
	r.state = Active
	r.metrics.EventsStarted.Add(1)
	r.logger.Info("Capture started", zap.String("event", r.event.ID), zap.Uint64("frame", f.Sequence))

	return r.capture(f, verified)
}

func (r *Recorder) capture(f frame.Frame, verified bool) error {
	ev := r.event
	owned := f.Clone()
	ev.Frames = append(ev.Frames, owned)
	ev.FrameCount++
	if verified {
		ev.VerifiedFrames++
	}
	r.metrics.FramesCaptured.Add(1)

	path, err := r.store.SaveFrame(owned.Image, r.config.StillTag)
	if err != nil {
		r.metrics.Errors.Add(1)
		return err
	}
	ev.Stills = append(ev.Stills, path)
	r.metrics.StillsSaved.Add(1)
	return nil
}

func (r *Recorder) end(ctx context.Context, at time.Time) (string, error) {
	ev := r.event
	ev.Ended = at
	r.state = Idle
	r.metrics.EventsEnded.Add(1)

	// The clip is written before the log line so a failing security log
	// cannot cost the footage.
	var (
		path     string
		flushErr error
	)
	if len(ev.Frames) > 0 {
		path, flushErr = r.Flush(ctx)
	}
	if err := r.logEvent(textMotionEnded, ev.Verified()); err != nil {
		return path, errors.Join(flushErr, err)
	}
	r.logger.Info("Capture ended",
		zap.String("event", ev.ID),
		zap.Int("frames", ev.FrameCount),
		zap.Int("verified_frames", ev.VerifiedFrames),
		zap.Duration("duration", ev.Ended.Sub(ev.Started)),
		zap.String("clip", path))
	return path, flushErr
}

// Flush encodes the buffered frames of the current event as one clip and
// empties the buffer. It fails with a *storage.StorageError when there is
// nothing buffered.
func (r *Recorder) Flush(ctx context.Context) (string, error) {
	ev := r.event
	if ev == nil || len(ev.Frames) == 0 {
		return "", &storage.StorageError{Op: "flush", Err: storage.ErrNoFrames}
	}

	images := make([]image.Image, len(ev.Frames))
	for i, f := range ev.Frames {
		images[i] = f.Image
	}

	path, err := r.store.SaveClip(images, r.clipTag(ev))
	if err != nil {
		r.metrics.Errors.Add(1)
		return "", err
	}
	ev.Frames = nil
	ev.ClipPath = path
	r.metrics.ClipsSaved.Add(1)

	r.index(ctx, ev)
	return path, nil
}

// Close ends an event still in progress, flushing its clip.
func (r *Recorder) Close(ctx context.Context) error {
	if r.state != Active {
		return nil
	}
	_, err := r.end(ctx, time.Now())
	return err
}

func (r *Recorder) State() State { return r.state }

// Buffered is the number of frames awaiting a flush.
func (r *Recorder) Buffered() int {
	if r.event == nil {
		return 0
	}
	return len(r.event.Frames)
}

// Event returns the current or most recently finished event.
func (r *Recorder) Event() *CaptureEvent { return r.event }

func (r *Recorder) Metrics() *Metrics { return &r.metrics }

func (r *Recorder) logEvent(text string, verified bool) error {
	var err error
	if r.config.Verification {
		err = r.log.VerifiedEvent(text, verified)
	} else {
		err = r.log.Event(text)
	}
	if err != nil {
		r.metrics.Errors.Add(1)
		return fmt.Errorf("security log: %w", err)
	}
	return nil
}

func (r *Recorder) clipTag(ev *CaptureEvent) string {
	if !r.config.Verification {
		return r.config.ClipTag
	}
	if ev.Verified() {
		return r.config.ClipTag + "_verified"
	}
	return r.config.ClipTag + "_unverified"
}

// index records the finished clip in the catalog and archive. The clip is
// already on disk, so failures here are logged and not returned.
func (r *Recorder) index(ctx context.Context, ev *CaptureEvent) {
	if r.catalog != nil {
		rec := storage.EventRecord{
			ID:             ev.ID,
			StartedAt:      ev.Started,
			EndedAt:        ev.Ended,
			FrameCount:     ev.FrameCount,
			ClipPath:       ev.ClipPath,
			Verified:       ev.Verified(),
			VerifiedFrames: ev.VerifiedFrames,
		}
		if err := r.catalog.Record(ctx, rec); err != nil {
			r.metrics.Errors.Add(1)
			r.logger.Error("Failed to catalog event", zap.String("event", ev.ID), zap.Error(err))
		}
	}

	if r.archive != nil {
		key, err := r.archive.Upload(ctx, ev.ClipPath, ev.Started)
		if err != nil {
			r.metrics.Errors.Add(1)
			r.logger.Error("Failed to archive clip", zap.String("path", ev.ClipPath), zap.Error(err))
			return
		}
		if r.catalog != nil {
			if err := r.catalog.SetArchiveKey(ctx, ev.ID, key); err != nil {
				r.logger.Warn("Failed to store archive key", zap.String("event", ev.ID), zap.Error(err))
			}
		}
	}
}
