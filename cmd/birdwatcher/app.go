package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/archive"
	"github.com/mikeyg42/birdwatcher/internal/camera"
	"github.com/mikeyg42/birdwatcher/internal/camera/rpicam"
	"github.com/mikeyg42/birdwatcher/internal/classifier"
	"github.com/mikeyg42/birdwatcher/internal/classifier/yolo"
	"github.com/mikeyg42/birdwatcher/internal/config"
	"github.com/mikeyg42/birdwatcher/internal/controller"
	"github.com/mikeyg42/birdwatcher/internal/ledger"
	"github.com/mikeyg42/birdwatcher/internal/motion"
	"github.com/mikeyg42/birdwatcher/internal/retention"
	"github.com/mikeyg42/birdwatcher/internal/settings"
	"github.com/mikeyg42/birdwatcher/internal/transcode"
	"github.com/mikeyg42/birdwatcher/internal/video"
)

// Application struct that holds all components
type Application struct {
	config *config.Config
	logger *zap.Logger

	settings   *settings.Store
	gate       *motion.Gate
	detector   *yolo.Detector
	session    *camera.Session
	ledger     *ledger.Ledger
	archiver   *archive.Archiver
	queue      *transcode.Queue
	sweeper    *retention.Sweeper
	controller *controller.Controller

	wg sync.WaitGroup
}

func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Initialize acquires the hardware and starts the background services.
// Whatever was acquired before a failure is released by Cleanup.
func (app *Application) Initialize(ctx context.Context) error {
	cfg := app.config

	app.settings = settings.NewStore(cfg.Video.SettingsPath, app.logger)
	current := app.settings.Load()
	app.logger.Info("loaded settings",
		zap.Int("clip_seconds", current.ClipSeconds()),
		zap.Stringer("resolution", current.Resolution),
		zap.Int("retention_days", current.RetentionDays))

	gate, err := motion.Open(cfg.GPIO.MotionPin, app.logger)
	if err != nil {
		return fmt.Errorf("failed to open motion sensor: %w", err)
	}
	app.gate = gate

	targets, err := classifier.TargetsByName(cfg.Classifier.Targets)
	if err != nil {
		return fmt.Errorf("invalid classifier targets: %w", err)
	}
	detector, err := yolo.New(yolo.Config{
		ModelPath: cfg.Classifier.ModelPath,
		InputSize: cfg.Classifier.InputSize,
		Threshold: cfg.Classifier.Threshold,
		Targets:   targets,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}
	app.detector = detector

	dev := rpicam.New(rpicam.Config{
		Binary:        cfg.Camera.Binary,
		PreviewWidth:  cfg.Camera.PreviewWidth,
		PreviewHeight: cfg.Camera.PreviewHeight,
		FrameRate:     cfg.Camera.FrameRate,
		Autofocus:     cfg.Camera.Autofocus,
		StopTimeout:   cfg.Camera.StopTimeout,
	}, app.logger)
	app.session = camera.NewSession(dev, camera.Options{StartRetries: cfg.Camera.StartRetries}, app.logger)
	if err := app.session.Open(ctx, current.Resolution); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}

	var listeners []transcode.Listener
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN, app.logger)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		app.ledger = l
		listeners = append(listeners, l)
	}
	if cfg.Archive.Enabled {
		store, err := archive.NewMinIOStore(ctx, archive.MinIOConfig{
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			UseSSL:          cfg.Archive.UseSSL,
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			RequestTimeout:  cfg.Archive.RequestTimeout,
			MaxRetries:      cfg.Archive.MaxRetries,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect archive: %w", err)
		}
		app.archiver = archive.New(store, cfg.Archive.Prefix, 2*cfg.Transcode.QueueSize, app.logger)
		listeners = append(listeners, app.archiver)
	}

	app.queue = transcode.NewQueue(transcode.Options{
		QueueSize: cfg.Transcode.QueueSize,
		Workers:   cfg.Transcode.Workers,
		Remuxer:   newRemuxer(cfg, app.logger),
		Prober:    transcode.FFprobe{},
		Listeners: listeners,
		Logger:    app.logger,
	})
	if cfg.Transcode.Recover {
		n, err := app.queue.Recover(cfg.Video.Dir)
		if err != nil {
			app.logger.Warn("recovery of leftover recordings incomplete", zap.Error(err))
		} else if n > 0 {
			app.logger.Info("queued leftover recordings", zap.Int("count", n))
		}
	}

	if cfg.Retention.Enabled {
		app.sweeper = retention.NewSweeper(cfg.Video.Dir, app.settings, cfg.Retention.Interval, app.logger)
	}

	ctrl, err := controller.New(controller.Deps{
		Sensor:     app.gate,
		Classifier: app.detector,
		Camera:     app.session,
		Settings:   app.settings,
		Namer:      video.NewNamer(cfg.Video.Dir),
		Queue:      app.queue,
		Timings: controller.Timings{
			Tick:              cfg.Timings.Tick,
			NegativeDelay:     cfg.Timings.NegativeDelay,
			ClassifierBackoff: cfg.Timings.ClassifierBackoff,
			Settle:            cfg.Timings.Settle,
			Cooldown:          cfg.Timings.Cooldown,
		},
		Logger:            app.logger,
		FrameFailureLimit: cfg.Camera.MaxFrameFailures,
	})
	if err != nil {
		return err
	}
	app.controller = ctrl

	app.logger.Info("birdwatcher ready",
		zap.String("video_dir", cfg.Video.Dir),
		zap.String("motion_pin", cfg.GPIO.MotionPin),
		zap.Stringer("targets", targets))
	return nil
}

// newRemuxer remuxes at the rate the camera records at.
func newRemuxer(cfg *config.Config, logger *zap.Logger) *transcode.FFmpeg {
	return transcode.NewFFmpeg(cfg.Transcode.FFmpegPath, cfg.Camera.FrameRate, cfg.Transcode.LowPriority, logger)
}

// Run blocks in the capture loop until ctx is cancelled or the camera
// fails for good.
func (app *Application) Run(ctx context.Context) error {
	// stops the sweeper when the loop ends with a fatal error too
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if app.sweeper != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.sweeper.Run(ctx)
		}()
	}

	err := app.controller.Run(ctx)
	cancel()
	app.wg.Wait()
	return err
}

// Cleanup releases the camera and the sensor first, then drains the
// transcode queue before closing its listeners.
func (app *Application) Cleanup() {
	var errs []error

	app.logStats()
	if app.session != nil {
		errs = append(errs, app.session.Close())
	}
	if app.gate != nil {
		errs = append(errs, app.gate.Close())
	}
	if app.detector != nil {
		errs = append(errs, app.detector.Close())
	}
	if app.queue != nil {
		errs = append(errs, app.queue.Close(app.config.Transcode.DrainTimeout))
		s := app.queue.Stats()
		app.logger.Info("transcode queue closed",
			zap.Int64("done", s.Done),
			zap.Int64("failed", s.Failed),
			zap.Int64("rejected", s.Rejected))
	}
	if app.archiver != nil {
		errs = append(errs, app.archiver.Close(30*time.Second))
		s := app.archiver.Stats()
		app.logger.Info("archive closed",
			zap.Int64("uploaded", s.Uploaded),
			zap.Int64("failed", s.Failed),
			zap.Int64("dropped", s.Dropped))
	}
	if app.ledger != nil {
		errs = append(errs, app.ledger.Close())
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Warn("cleanup finished with errors", zap.Error(err))
	}
}

// logStats reports what the capture side did during this run.
func (app *Application) logStats() {
	if app.controller != nil {
		s := app.controller.Stats()
		app.logger.Info("capture loop totals",
			zap.Int64("triggers", s.Triggers),
			zap.Int64("negatives", s.Negatives),
			zap.Int64("recordings", s.Recordings),
			zap.Int64("classifier_errors", s.ClassifierErrors),
			zap.Int64("frame_errors", s.FrameErrors),
			zap.Int64("camera_restarts", s.CameraRestarts),
			zap.Int64("submit_failures", s.SubmitFailures))
	}
	if app.gate != nil {
		s := app.gate.Stats()
		app.logger.Info("motion sensor totals",
			zap.Int64("polls", s.Polls),
			zap.Int64("rising_edges", s.RisingEdges),
			zap.Time("last_motion", s.LastMotionAt))
	}
	if app.detector != nil {
		runs, last := app.detector.Stats()
		app.logger.Info("classifier totals",
			zap.Int64("runs", runs),
			zap.Duration("last_run", last))
	}
}
