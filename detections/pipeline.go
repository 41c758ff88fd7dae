package detections

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tutortoise/frame-pipeline/models"
)

type Options struct {
	ConvertMode ConvertMode
	Layout      TensorLayout
	Threshold   float32
	Labels      []string
	Postprocess Postprocessor
	Debug       bool
}

func DefaultOptions() Options {
	return Options{
		ConvertMode: ConvertDirect,
		Layout:      LayoutUint8,
		Threshold:   ScoreThreshold,
	}
}

// Pipeline runs convert, preprocess, infer, decode and render for one frame at
// a time. It owns its engine and releases it on Close.
type Pipeline struct {
	converter    *ColorConverter
	preprocessor *Preprocessor
	engine       Engine
	renderer     *Renderer
	threshold    float32
	post         Postprocessor
	debug        bool
	logger       *zap.SugaredLogger

	closeOnce sync.Once
	closeErr  error
}

func NewPipeline(engine Engine, opts Options, logger *zap.SugaredLogger) (*Pipeline, error) {
	if engine == nil {
		return nil, &ResourceError{Message: "pipeline needs an inference engine"}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		converter:    NewColorConverter(opts.ConvertMode),
		preprocessor: NewPreprocessor(opts.Layout),
		engine:       engine,
		renderer:     NewRenderer(opts.Labels),
		threshold:    opts.Threshold,
		post:         opts.Postprocess,
		debug:        opts.Debug,
		logger:       logger,
	}, nil
}

// Process converts and annotates one camera frame. The frame is released as
// soon as conversion finishes, whether or not it succeeded.
func (p *Pipeline) Process(ctx context.Context, frame *models.RawFrame) (*models.AnnotatedFrame, error) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{}
	if frame != nil {
		timings.FrameID = fmt.Sprintf("%d", frame.Seq)
	}

	convertStart := time.Now()
	raster, err := p.converter.Convert(frame)
	timings.Convert = time.Since(convertStart)
	if frame != nil {
		frame.Release()
	}
	if err != nil {
		return nil, err
	}

	out, err := p.annotate(ctx, raster, timings)
	if err != nil {
		return nil, err
	}
	out.Seq = frame.Seq
	out.Timestamp = frame.Timestamp

	timings.Total = time.Since(startTotal)
	p.logTimings(timings)
	return out, nil
}

// Annotate runs the stages after color conversion on an RGB raster.
func (p *Pipeline) Annotate(ctx context.Context, raster *models.Raster) (*models.AnnotatedFrame, error) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{FrameID: "still"}
	out, err := p.annotate(ctx, raster, timings)
	if err != nil {
		return nil, err
	}
	timings.Total = time.Since(startTotal)
	p.logTimings(timings)
	return out, nil
}

func (p *Pipeline) annotate(ctx context.Context, raster *models.Raster, timings *models.ProcessingTimings) (*models.AnnotatedFrame, error) {
	prepStart := time.Now()
	tensor, err := p.preprocessor.Prepare(raster)
	timings.Preprocess = time.Since(prepStart)
	if err != nil {
		return nil, err
	}

	inferStart := time.Now()
	det, err := p.engine.Infer(ctx, tensor)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		var ie *InferenceError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &InferenceError{Message: "model inference", Cause: err}
	}
	if err := Validate(det); err != nil {
		return nil, err
	}

	decodeStart := time.Now()
	boxes := Collect(Decode(det, raster.Width, raster.Height, p.threshold))
	if p.post != nil {
		boxes = p.post(boxes)
	}
	timings.Decode = time.Since(decodeStart)

	renderStart := time.Now()
	out := p.renderer.Render(raster, slices.Values(boxes))
	timings.Render = time.Since(renderStart)
	return out, nil
}

func (p *Pipeline) logTimings(t *models.ProcessingTimings) {
	if !p.debug {
		return
	}
	p.logger.Debugw("frame processed",
		"frame", t.FrameID,
		"convert", t.Convert,
		"preprocess", t.Preprocess,
		"inference", t.Inference,
		"decode", t.Decode,
		"render", t.Render,
		"total", t.Total,
	)
}

// Close releases the engine. Later calls return the first result.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.engine.Close()
	})
	return p.closeErr
}
