// Command ledwatch is a motion-triggered security camera that proves its
// footage came from an untampered device by watching two status LEDs blink
// a provisioned secret pattern.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/camera"
	"github.com/mikeyg42/ledwatch/internal/config"
	"github.com/mikeyg42/ledwatch/internal/eventlog"
	"github.com/mikeyg42/ledwatch/internal/frame"
	"github.com/mikeyg42/ledwatch/internal/led"
	"github.com/mikeyg42/ledwatch/internal/logging"
	"github.com/mikeyg42/ledwatch/internal/monitor"
	"github.com/mikeyg42/ledwatch/internal/motion"
	"github.com/mikeyg42/ledwatch/internal/pattern"
	"github.com/mikeyg42/ledwatch/internal/recorder"
	"github.com/mikeyg42/ledwatch/internal/storage"
	"github.com/mikeyg42/ledwatch/internal/vision"
	"github.com/mikeyg42/ledwatch/internal/vision/cvproc"
)

// Application holds all components
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	secret   *pattern.Secret
	camera   *camera.Camera
	window   *cvproc.Window
	catalog  *storage.Catalog
	actuator *led.Actuator
	monitor  *monitor.Monitor
	wg       sync.WaitGroup
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		cameraIdx  = flag.Int("camera", 0, "camera device index")
		display    = flag.Bool("display", false, "show the annotated feed (ESC to quit)")
		backend    = flag.String("backend", "", "image processing backend: gocv or pure")
		provision  = flag.Bool("provision", false, "write a new LED secret to pattern.secret_file and exit")
	)
	flag.Parse()

	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera.Index = *cameraIdx
		case "display":
			cfg.Camera.Display = *display
		case "backend":
			cfg.Camera.Backend = *backend
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger, flush, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer flush()

	if *provision {
		if cfg.Pattern.SecretFile == "" {
			logger.Error("pattern.secret_file must be set to provision a secret")
			return 2
		}
		s, err := pattern.Provision(cfg.Pattern.SecretFile, cfg.Pattern.Config)
		if err != nil {
			logger.Error("Provisioning failed", zap.Error(err))
			return 1
		}
		logger.Info("Secret provisioned", zap.String("path", cfg.Pattern.SecretFile), zap.Int("length", s.Len()))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create application", zap.Error(err))
		return 1
	}
	defer app.Cleanup()

	if err := app.Run(ctx); err != nil {
		var devErr *frame.DeviceError
		if errors.As(err, &devErr) {
			logger.Error("Camera failure, stopping", zap.Error(err))
		} else {
			logger.Error("Monitoring failed", zap.Error(err))
		}
		return 1
	}
	return 0
}

func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *Application, err error) {
	app = &Application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Cleanup()
		}
	}()

	if app.secret, err = loadSecret(cfg); err != nil {
		return app, err
	}

	var (
		proc vision.Processor
		ann  vision.Annotator
		enc  vision.Encoder
	)
	switch cfg.Camera.Backend {
	case "pure":
		proc, ann, enc = vision.NewPureProcessor(), vision.PureAnnotator{}, vision.NewPureEncoder()
	default:
		proc, ann, enc = cvproc.NewProcessor(), cvproc.Annotator{}, cvproc.NewEncoder()
	}

	detector, err := motion.NewDetector(cfg.Motion, proc, logger.Named("motion"))
	if err != nil {
		return app, fmt.Errorf("failed to create motion detector: %w", err)
	}

	store, err := storage.NewVideoStorage(cfg.Storage.VideoConfig, enc, logger.Named("video-storage"))
	if err != nil {
		return app, fmt.Errorf("failed to create video storage: %w", err)
	}
	securityLog, err := eventlog.New(cfg.EventLog.Path)
	if err != nil {
		return app, err
	}

	recOpts := []recorder.Option{recorder.WithLogger(logger.Named("recorder"))}
	if cfg.Storage.Catalog.Enabled {
		if app.catalog, err = storage.OpenCatalog(ctx, cfg.Storage.Catalog, logger.Named("catalog")); err != nil {
			return app, err
		}
		recOpts = append(recOpts, recorder.WithCatalog(app.catalog))
	}
	if cfg.Storage.Archive.Enabled {
		archive, err := storage.NewArchive(ctx, cfg.Storage.Archive, logger.Named("archive"))
		if err != nil {
			return app, err
		}
		recOpts = append(recOpts, recorder.WithArchive(archive))
	}

	recCfg := recorder.DefaultConfig()
	recCfg.Verification = cfg.Verify.Enabled
	rec, err := recorder.New(recCfg, store, securityLog, recOpts...)
	if err != nil {
		return app, fmt.Errorf("failed to create recorder: %w", err)
	}

	if cfg.LED.Enabled {
		if app.actuator, err = led.Open(cfg.LED, logger.Named("led")); err != nil {
			return app, fmt.Errorf("failed to open LEDs: %w", err)
		}
	}

	if app.camera, err = camera.Open(cfg.Camera.Index, logger.Named("camera")); err != nil {
		return app, err
	}

	monOpts := []monitor.Option{monitor.WithLogger(logger.Named("monitor"))}
	if cfg.Camera.Display {
		app.window = cvproc.NewWindow("ledwatch")
		monOpts = append(monOpts, monitor.WithDisplay(app.window, ann))
	}
	app.monitor, err = monitor.New(app.camera, detector, rec, cfg.Verify, app.secret, monOpts...)
	if err != nil {
		return app, err
	}
	return app, nil
}

// loadSecret reads the provisioned secret, or draws a fresh one for this run
// when no secret file is configured.
func loadSecret(cfg *config.Config) (*pattern.Secret, error) {
	if cfg.Pattern.SecretFile != "" {
		s, err := pattern.LoadSecret(cfg.Pattern.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load secret %s: %w", cfg.Pattern.SecretFile, err)
		}
		return s, nil
	}
	if cfg.Verify.Enabled && !cfg.LED.Enabled {
		zap.L().Warn("No secret file and no local LED actuator; verification cannot succeed")
	}
	return pattern.NewSecret(cfg.Pattern.Config)
}

// Run blinks the LEDs (when configured) and monitors until ctx is done.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ledErr error
	if app.actuator != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if ledErr = app.actuator.Run(ctx, app.secret); ledErr != nil {
				app.logger.Error("LED actuator stopped", zap.Error(ledErr))
				cancel()
			}
		}()
	}

	err := app.monitor.Run(ctx)
	cancel()
	app.wg.Wait()
	if ledErr != nil {
		return errors.Join(err, fmt.Errorf("led actuator: %w", ledErr))
	}
	return err
}

func (app *Application) Cleanup() {
	if app.window != nil {
		app.window.Close()
	}
	if app.camera != nil {
		app.camera.Close()
	}
	if app.actuator != nil {
		app.actuator.Close()
	}
	if app.catalog != nil {
		app.catalog.Close()
	}
}
