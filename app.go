package main

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tutortoise/frame-pipeline/detections"
	"github.com/Tutortoise/frame-pipeline/models"
	"github.com/Tutortoise/frame-pipeline/scheduler"
	"github.com/Tutortoise/frame-pipeline/source"
)

// LivePipeline wires a frame source through the scheduler to a viewer.
type LivePipeline struct {
	Scheduler *scheduler.Scheduler
	Viewer    *Viewer

	src     source.Source
	slot    *scheduler.Slot
	closer  io.Closer
	logger  *zap.SugaredLogger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	srcDone chan error
}

// StartLivePipeline loads the engine first; a ResourceError returns before
// the source is opened or any frame is read.
func StartLivePipeline(ctx context.Context, cfg *Config, newEngine func(context.Context) (detections.Engine, error), onFrame func(*models.AnnotatedFrame) error, logger *zap.SugaredLogger) (*LivePipeline, error) {
	engine, err := newEngine(ctx)
	if err != nil {
		return nil, err
	}

	labels, err := loadLabels(cfg.LabelPath)
	if err != nil {
		engine.Close()
		return nil, err
	}

	pipeline, err := detections.NewPipeline(engine, cfg.pipelineOptions(labels), logger.Named("pipeline"))
	if err != nil {
		engine.Close()
		return nil, err
	}

	src, closer, err := openSource(cfg)
	if err != nil {
		pipeline.Close()
		return nil, err
	}

	lp := &LivePipeline{
		slot:    scheduler.NewSlot(),
		src:     src,
		closer:  closer,
		logger:  logger,
		srcDone: make(chan error, 1),
	}
	lp.Scheduler = scheduler.New(pipeline, lp.slot, logger.Named("scheduler"))
	lp.Viewer = NewViewer(onFrame, logger.Named("viewer"))

	runCtx, cancel := context.WithCancel(ctx)
	lp.cancel = cancel
	if err := lp.Scheduler.Start(runCtx); err != nil {
		cancel()
		lp.Scheduler.Stop()
		return nil, err
	}

	lp.wg.Add(2)
	go func() {
		defer lp.wg.Done()
		lp.Viewer.Run(runCtx, lp.slot)
	}()
	go func() {
		defer lp.wg.Done()
		lp.srcDone <- lp.src.Run(runCtx, lp.Scheduler.Submit)
	}()

	return lp, nil
}

// SourceDone reports the source result once it stops producing frames.
func (lp *LivePipeline) SourceDone() <-chan error {
	return lp.srcDone
}

// Stop lets the in-flight frame finish, shows it, and releases the engine.
func (lp *LivePipeline) Stop() error {
	err := lp.Scheduler.Stop()
	lp.Viewer.Drain(lp.slot)
	lp.cancel()
	lp.wg.Wait()
	if lp.closer != nil {
		lp.closer.Close()
	}
	return err
}

func loadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	labels, err := detections.LoadLabels(path)
	if err != nil {
		return nil, &detections.ResourceError{Message: "labels", Cause: err}
	}
	return labels, nil
}

func openSource(cfg *Config) (source.Source, io.Closer, error) {
	switch cfg.Source {
	case "":
		return nil, nil, errors.New("no frame source configured")
	case "synthetic":
		return source.NewSynthetic(cfg.Width, cfg.Height, cfg.FPS, cfg.Frames), nil, nil
	case "-":
		src, err := source.NewI420Reader(os.Stdin, cfg.Width, cfg.Height, cfg.FPS)
		return src, nil, err
	}
	f, err := os.Open(cfg.Source)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open frame source")
	}
	src, err := source.NewI420Reader(f, cfg.Width, cfg.Height, cfg.FPS)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return src, f, nil
}

// jpegWriter stores every displayed frame as <dir>/frame_<seq>.jpg.
func jpegWriter(dir string) (func(*models.AnnotatedFrame) error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}
	return func(frame *models.AnnotatedFrame) error {
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", frame.Seq))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: detections.JPEGQuality})
	}, nil
}
