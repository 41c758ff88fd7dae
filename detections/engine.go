package detections

import (
	"context"

	"github.com/Tutortoise/frame-pipeline/models"
)

// Engine is the opaque detector. Given a fixed-shape input tensor it returns
// parallel location, score and class arrays with locations normalized to the
// tensor frame. Engines are not reentrant: callers must not invoke Infer
// concurrently on one Engine. Close releases the engine and is called once.
type Engine interface {
	Infer(ctx context.Context, tensor *models.InputTensor) (*models.DetectionSet, error)
	Close() error
}

// EngineFunc adapts a function to an Engine with a no-op Close.
type EngineFunc func(ctx context.Context, tensor *models.InputTensor) (*models.DetectionSet, error)

func (f EngineFunc) Infer(ctx context.Context, tensor *models.InputTensor) (*models.DetectionSet, error) {
	return f(ctx, tensor)
}

func (f EngineFunc) Close() error { return nil }
