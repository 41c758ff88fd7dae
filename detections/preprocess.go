package detections

import (
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/Tutortoise/frame-pipeline/models"
)

// TensorLayout selects the element type the model input expects.
type TensorLayout int

const (
	// LayoutUint8 keeps channel values 0-255 with no normalization.
	LayoutUint8 TensorLayout = iota
	// LayoutFloat32 scales channel values into [0,1].
	LayoutFloat32
)

func ParseTensorLayout(s string) (TensorLayout, error) {
	switch s {
	case "", "uint8":
		return LayoutUint8, nil
	case "float32":
		return LayoutFloat32, nil
	}
	return LayoutUint8, errors.Errorf("unknown tensor layout %q", s)
}

func (l TensorLayout) String() string {
	if l == LayoutFloat32 {
		return "float32"
	}
	return "uint8"
}

// Preprocessor stretches a raster to the model input size and packs it.
type Preprocessor struct {
	layout   TensorLayout
	packer   *rowPacker
	channels *channelProcessor
}

func NewPreprocessor(layout TensorLayout) *Preprocessor {
	return &Preprocessor{
		layout:   layout,
		packer:   newRowPacker(InputWidth, InputHeight),
		channels: newChannelProcessor(InputWidth, InputHeight),
	}
}

// Prepare resizes with bilinear interpolation, no letterboxing.
func (p *Preprocessor) Prepare(raster *models.Raster) (*models.InputTensor, error) {
	if raster == nil || raster.Width <= 0 || raster.Height <= 0 {
		return nil, formatErrorf("empty raster")
	}
	if len(raster.Pix) != raster.Width*raster.Height*3 {
		return nil, formatErrorf("raster has %d bytes, want %d", len(raster.Pix), raster.Width*raster.Height*3)
	}

	resized := imaging.Resize(raster.ToNRGBA(), InputWidth, InputHeight, imaging.Linear)

	tensor := &models.InputTensor{
		Width:    InputWidth,
		Height:   InputHeight,
		Channels: InputChannels,
	}
	switch p.layout {
	case LayoutFloat32:
		tensor.Float = p.channels.processChannels(resized)
	default:
		buffer := p.packer.Pack(resized)
		tensor.Data = make([]uint8, len(buffer))
		copy(tensor.Data, buffer)
		p.packer.put(buffer)
	}
	return tensor, nil
}
