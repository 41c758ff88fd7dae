package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Tutortoise/frame-pipeline/detections"
)

func main() {
	app := &cli.App{
		Name:  "frame-pipeline",
		Usage: "real-time object detection over a camera frame stream",
		Before: func(*cli.Context) error {
			// A missing .env is fine; flags and the environment still apply.
			_ = godotenv.Load()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve /infer, /annotate and the live overlay over HTTP and websocket",
				Flags:  append(append([]cli.Flag{}, commonFlags...), serveFlags...),
				Action: serve,
			},
			{
				Name:   "run",
				Usage:  "run the live pipeline headless and write annotated frames as JPEG",
				Flags:  append(append([]cli.Flag{}, commonFlags...), runFlags...),
				Action: run,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	logger, err := newLogger("frame-pipeline", cfg.Debug, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer detections.DestroyRuntime()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := NewEnginePool(func() (detections.Engine, error) {
		return loadEngine(ctx, cfg)
	}, cfg.PoolSize)
	if err != nil {
		return errors.Wrap(err, "failed to create engine pool")
	}
	defer pool.Destroy()

	labels, err := loadLabels(cfg.LabelPath)
	if err != nil {
		return err
	}

	state := &AppState{
		Pool:    pool,
		Options: cfg.pipelineOptions(labels),
		Logger:  logger.Named("http"),
	}

	if cfg.Source != "" {
		hub := NewFrameHub(logger.Named("stream"))
		defer hub.Close()

		live, err := StartLivePipeline(ctx, cfg, engineLoader(cfg), hub.Publish, logger)
		if err != nil {
			return err
		}
		defer logStopped(logger, live)
		state.Live = live
		state.Hub = hub
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func run(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	if cfg.Source == "" {
		return errors.New("run needs --source")
	}
	logger, err := newLogger("frame-pipeline", cfg.Debug, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer detections.DestroyRuntime()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer, err := jpegWriter(cfg.OutDir)
	if err != nil {
		return err
	}

	live, err := StartLivePipeline(ctx, cfg, engineLoader(cfg), writer, logger)
	if err != nil {
		return err
	}

	var srcErr error
	select {
	case srcErr = <-live.SourceDone():
		if err := live.Scheduler.WaitIdle(ctx); err != nil {
			logger.Warnw("stopped before the last frame finished", "error", err)
		}
	case <-ctx.Done():
	}

	logStopped(logger, live)
	return srcErr
}

func engineLoader(cfg *Config) func(context.Context) (detections.Engine, error) {
	return func(ctx context.Context) (detections.Engine, error) {
		return loadEngine(ctx, cfg)
	}
}

func logStopped(logger *zap.SugaredLogger, live *LivePipeline) {
	if err := live.Stop(); err != nil {
		logger.Warnw("pipeline close failed", "error", err)
	}
	stats := live.Scheduler.Stats()
	logger.Infow("pipeline stopped",
		"submitted", stats.Submitted,
		"processed", stats.Processed,
		"dropped", stats.Dropped,
		"format_errors", stats.FormatErrors,
		"inference_failures", stats.InferenceFails,
		"shown", live.Viewer.Shown(),
	)
}
