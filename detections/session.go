package detections

import (
	"context"
	"os"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/Tutortoise/frame-pipeline/models"
)

// SessionConfig names the model artifact and its SSD-style tensors.
type SessionConfig struct {
	ModelPath     string
	InputName     string
	BoxesName     string
	ClassesName   string
	ScoresName    string
	CountName     string
	MaxDetections int
	Layout        TensorLayout
	Threads       int
}

func DefaultSessionConfig(modelPath string) SessionConfig {
	return SessionConfig{
		ModelPath:     modelPath,
		InputName:     "image_tensor:0",
		BoxesName:     "detection_boxes:0",
		ClassesName:   "detection_classes:0",
		ScoresName:    "detection_scores:0",
		CountName:     "num_detections:0",
		MaxDetections: MaxDetections,
		Layout:        LayoutUint8,
		Threads:       runtime.NumCPU(),
	}
}

// InitRuntime loads the ONNX Runtime shared library once per process.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return &ResourceError{Message: "onnxruntime library not found: " + libPath, Cause: err}
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return &ResourceError{Message: "initialize onnxruntime", Cause: err}
	}
	return nil
}

func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ModelSession is one loaded detector with preallocated tensors.
type ModelSession struct {
	Session  *ort.AdvancedSession
	InputU8  *ort.Tensor[uint8]
	InputF32 *ort.Tensor[float32]
	Boxes    *ort.Tensor[float32]
	Classes  *ort.Tensor[float32]
	Scores   *ort.Tensor[float32]
	Count    *ort.Tensor[float32]
}

// NewModelSession loads cfg.ModelPath. Every failure is a ResourceError.
func NewModelSession(cfg SessionConfig) (*ModelSession, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &ResourceError{Message: "model file not found: " + cfg.ModelPath, Cause: err}
	}
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = MaxDetections
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, &ResourceError{Message: "error creating session options", Cause: err}
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, &ResourceError{Message: "set intra-op threads", Cause: err}
		}
	}

	m := &ModelSession{}
	n := int64(cfg.MaxDetections)
	inputShape := ort.NewShape(1, InputHeight, InputWidth, InputChannels)

	var input ort.ArbitraryTensor
	if cfg.Layout == LayoutFloat32 {
		m.InputF32, err = ort.NewEmptyTensor[float32](inputShape)
		input = m.InputF32
	} else {
		m.InputU8, err = ort.NewEmptyTensor[uint8](inputShape)
		input = m.InputU8
	}
	if err != nil {
		return nil, &ResourceError{Message: "error creating input tensor", Cause: err}
	}

	if m.Boxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, 4)); err != nil {
		m.Destroy()
		return nil, &ResourceError{Message: "error creating boxes tensor", Cause: err}
	}
	if m.Classes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n)); err != nil {
		m.Destroy()
		return nil, &ResourceError{Message: "error creating classes tensor", Cause: err}
	}
	if m.Scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n)); err != nil {
		m.Destroy()
		return nil, &ResourceError{Message: "error creating scores tensor", Cause: err}
	}
	if m.Count, err = ort.NewEmptyTensor[float32](ort.NewShape(1)); err != nil {
		m.Destroy()
		return nil, &ResourceError{Message: "error creating count tensor", Cause: err}
	}

	m.Session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.BoxesName, cfg.ClassesName, cfg.ScoresName, cfg.CountName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{m.Boxes, m.Classes, m.Scores, m.Count},
		options,
	)
	if err != nil {
		m.Destroy()
		return nil, &ResourceError{Message: "error creating session", Cause: err}
	}
	return m, nil
}

// Infer runs the session once. It must not be called concurrently.
func (m *ModelSession) Infer(ctx context.Context, tensor *models.InputTensor) (*models.DetectionSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Message: "cancelled", Cause: err}
	}
	if err := m.fillInput(tensor); err != nil {
		return nil, err
	}
	if err := m.Session.Run(); err != nil {
		return nil, &InferenceError{Message: "model inference", Cause: err}
	}

	boxes := m.Boxes.GetData()
	scores := m.Scores.GetData()
	classes := m.Classes.GetData()

	det := &models.DetectionSet{
		Locations: append([]float32(nil), boxes...),
		Scores:    append([]float32(nil), scores...),
		Classes:   make([]int, len(classes)),
		Count:     int(m.Count.GetData()[0]),
	}
	for i, c := range classes {
		det.Classes[i] = int(c)
	}
	return det, nil
}

func (m *ModelSession) fillInput(tensor *models.InputTensor) error {
	if tensor == nil || tensor.Width != InputWidth || tensor.Height != InputHeight || tensor.Channels != InputChannels {
		return &InferenceError{Message: "shape is not 300x300x3", Cause: ErrInvalidTensor}
	}
	want := InputWidth * InputHeight * InputChannels
	switch {
	case m.InputU8 != nil:
		if len(tensor.Data) != want {
			return &InferenceError{Message: "uint8 data expected", Cause: ErrInvalidTensor}
		}
		copy(m.InputU8.GetData(), tensor.Data)
	case m.InputF32 != nil:
		if len(tensor.Float) != want {
			return &InferenceError{Message: "float32 data expected", Cause: ErrInvalidTensor}
		}
		copy(m.InputF32.GetData(), tensor.Float)
	default:
		return &InferenceError{Message: "session has no input tensor"}
	}
	return nil
}

func (m *ModelSession) Close() error {
	return m.Destroy()
}

func (m *ModelSession) Destroy() error {
	var err error
	if m.Session != nil {
		err = multierr.Append(err, m.Session.Destroy())
		m.Session = nil
	}
	for _, t := range []interface{ Destroy() error }{m.InputU8, m.InputF32, m.Boxes, m.Classes, m.Scores, m.Count} {
		if !isNilTensor(t) {
			err = multierr.Append(err, t.Destroy())
		}
	}
	m.InputU8, m.InputF32, m.Boxes, m.Classes, m.Scores, m.Count = nil, nil, nil, nil, nil, nil
	return errors.Wrap(err, "destroy model session")
}

func isNilTensor(t interface{ Destroy() error }) bool {
	switch v := t.(type) {
	case *ort.Tensor[uint8]:
		return v == nil
	case *ort.Tensor[float32]:
		return v == nil
	}
	return t == nil
}
