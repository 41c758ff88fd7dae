package main

import (
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Tutortoise/frame-pipeline/detections"
)

type Config struct {
	Debug   bool
	LogFile string

	ModelPath     string        `validate:"required_without=RemoteURL"`
	LibraryPath   string
	InputName     string        `validate:"required"`
	BoxesName     string        `validate:"required"`
	ClassesName   string
	ScoresName    string        `validate:"required"`
	CountName     string
	MaxDetections int           `validate:"gt=0"`
	Threads       int           `validate:"gte=0"`
	RemoteURL     string        `validate:"omitempty,url"`
	RemoteTimeout time.Duration `validate:"gte=0"`

	Layout      detections.TensorLayout
	ConvertMode detections.ConvertMode
	Postprocess detections.Postprocessor
	Threshold   float32 `validate:"gte=0,lt=1"`
	LabelPath   string

	Source string
	Width  int     `validate:"gt=0"`
	Height int     `validate:"gt=0"`
	FPS    float64 `validate:"gte=0"`
	Frames int     `validate:"gte=0"`

	Addr     string `validate:"omitempty,hostname_port"`
	PoolSize int    `validate:"gte=0"`
	OutDir   string
}

var validate = validator.New()

var commonFlags = []cli.Flag{
	&cli.BoolFlag{Name: "debug", EnvVars: []string{"DEBUG"}, Usage: "debug logging and per-frame timings"},
	&cli.StringFlag{Name: "log-file", EnvVars: []string{"LOG_FILE"}, Usage: "also write JSON logs to this rotated file"},
	&cli.StringFlag{Name: "model", EnvVars: []string{"MODEL_PATH"}, Value: "../models/ssd_mobilenet_v1.onnx", Usage: "detection model"},
	&cli.StringFlag{Name: "onnxruntime-lib", EnvVars: []string{"ONNXRUNTIME_LIB"}, Usage: "onnxruntime shared library"},
	&cli.StringFlag{Name: "input-name", EnvVars: []string{"MODEL_INPUT"}, Value: "image_tensor:0"},
	&cli.StringFlag{Name: "boxes-name", EnvVars: []string{"MODEL_BOXES"}, Value: "detection_boxes:0"},
	&cli.StringFlag{Name: "classes-name", EnvVars: []string{"MODEL_CLASSES"}, Value: "detection_classes:0"},
	&cli.StringFlag{Name: "scores-name", EnvVars: []string{"MODEL_SCORES"}, Value: "detection_scores:0"},
	&cli.StringFlag{Name: "count-name", EnvVars: []string{"MODEL_COUNT"}, Value: "num_detections:0"},
	&cli.IntFlag{Name: "max-detections", EnvVars: []string{"MAX_DETECTIONS"}, Value: detections.MaxDetections},
	&cli.IntFlag{Name: "threads", EnvVars: []string{"MODEL_THREADS"}, Value: runtime.NumCPU()},
	&cli.StringFlag{Name: "layout", EnvVars: []string{"TENSOR_LAYOUT"}, Value: "uint8", Usage: "uint8 or float32"},
	&cli.StringFlag{Name: "convert", EnvVars: []string{"CONVERT_MODE"}, Value: "direct", Usage: "direct or jpeg"},
	&cli.StringFlag{Name: "postprocess", EnvVars: []string{"POSTPROCESS"}, Value: "none", Usage: "none, nms or cluster"},
	&cli.Float64Flag{Name: "threshold", EnvVars: []string{"SCORE_THRESHOLD"}, Value: detections.ScoreThreshold},
	&cli.StringFlag{Name: "labels", EnvVars: []string{"LABEL_PATH"}, Usage: "class names, one per line"},
	&cli.StringFlag{Name: "remote", EnvVars: []string{"REMOTE_ENGINE_URL"}, Usage: "use a remote /infer endpoint instead of a local model"},
	&cli.DurationFlag{Name: "remote-timeout", EnvVars: []string{"REMOTE_ENGINE_TIMEOUT"}, Value: 5 * time.Second},
	&cli.StringFlag{Name: "source", EnvVars: []string{"FRAME_SOURCE"}, Usage: "I420 file, - for stdin, or synthetic"},
	&cli.IntFlag{Name: "width", EnvVars: []string{"FRAME_WIDTH"}, Value: 640},
	&cli.IntFlag{Name: "height", EnvVars: []string{"FRAME_HEIGHT"}, Value: 480},
	&cli.Float64Flag{Name: "fps", EnvVars: []string{"FRAME_RATE"}, Value: 30},
	&cli.IntFlag{Name: "frames", EnvVars: []string{"FRAME_COUNT"}, Usage: "synthetic frame count, 0 = unbounded"},
}

var serveFlags = []cli.Flag{
	&cli.StringFlag{Name: "addr", EnvVars: []string{"HTTP_ADDR"}, Value: "127.0.0.1:8080"},
	&cli.IntFlag{Name: "pool-size", EnvVars: []string{"POOL_SIZE"}, Value: DefaultPoolSize},
}

var runFlags = []cli.Flag{
	&cli.StringFlag{Name: "out", EnvVars: []string{"OUTPUT_DIR"}, Value: "frames", Usage: "directory for annotated JPEGs"},
}

func configFromContext(c *cli.Context) (*Config, error) {
	layout, err := detections.ParseTensorLayout(c.String("layout"))
	if err != nil {
		return nil, err
	}
	mode, err := detections.ParseConvertMode(c.String("convert"))
	if err != nil {
		return nil, err
	}
	post, err := detections.ParsePostprocessor(c.String("postprocess"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Debug:         c.Bool("debug"),
		LogFile:       c.String("log-file"),
		ModelPath:     c.String("model"),
		LibraryPath:   c.String("onnxruntime-lib"),
		InputName:     c.String("input-name"),
		BoxesName:     c.String("boxes-name"),
		ClassesName:   c.String("classes-name"),
		ScoresName:    c.String("scores-name"),
		CountName:     c.String("count-name"),
		MaxDetections: c.Int("max-detections"),
		Threads:       c.Int("threads"),
		RemoteURL:     c.String("remote"),
		RemoteTimeout: c.Duration("remote-timeout"),
		Layout:        layout,
		ConvertMode:   mode,
		Postprocess:   post,
		Threshold:     float32(c.Float64("threshold")),
		LabelPath:     c.String("labels"),
		Source:        c.String("source"),
		Width:         c.Int("width"),
		Height:        c.Int("height"),
		FPS:           c.Float64("fps"),
		Frames:        c.Int("frames"),
		Addr:          c.String("addr"),
		PoolSize:      c.Int("pool-size"),
		OutDir:        c.String("out"),
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (cfg *Config) sessionConfig(modelPath string) detections.SessionConfig {
	sc := detections.DefaultSessionConfig(modelPath)
	sc.InputName = cfg.InputName
	sc.BoxesName = cfg.BoxesName
	sc.ClassesName = cfg.ClassesName
	sc.ScoresName = cfg.ScoresName
	sc.CountName = cfg.CountName
	sc.MaxDetections = cfg.MaxDetections
	sc.Layout = cfg.Layout
	sc.Threads = cfg.Threads
	return sc
}

func (cfg *Config) pipelineOptions(labels []string) detections.Options {
	opts := detections.DefaultOptions()
	opts.ConvertMode = cfg.ConvertMode
	opts.Layout = cfg.Layout
	opts.Threshold = cfg.Threshold
	opts.Labels = labels
	opts.Postprocess = cfg.Postprocess
	opts.Debug = cfg.Debug
	return opts
}
