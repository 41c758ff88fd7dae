package models

import (
	"image"
	"image/color"
	"sync"
	"time"
)

// Plane is one single-channel byte grid of a planar frame.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// RawFrame is a planar YUV 4:2:0 capture. Planes are ordered Y, U, V.
type RawFrame struct {
	Planes    []Plane
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64

	release     func()
	releaseOnce sync.Once
}

// NewRawFrame wraps planes delivered by a source. release, if not nil, hands the
// buffers back to the source and runs at most once.
func NewRawFrame(planes []Plane, width, height int, ts time.Time, release func()) *RawFrame {
	return &RawFrame{
		Planes:    planes,
		Width:     width,
		Height:    height,
		Timestamp: ts,
		release:   release,
	}
}

// Release returns the frame buffers to their source.
func (f *RawFrame) Release() {
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Raster is a packed RGB888 image, row-major, Width*Height*3 bytes.
type Raster struct {
	Width  int
	Height int
	Pix    []byte
}

func NewRaster(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

func (r *Raster) ColorModel() color.Model { return color.RGBAModel }

func (r *Raster) Bounds() image.Rectangle { return image.Rect(0, 0, r.Width, r.Height) }

func (r *Raster) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return color.RGBA{}
	}
	i := (y*r.Width + x) * 3
	return color.RGBA{R: r.Pix[i], G: r.Pix[i+1], B: r.Pix[i+2], A: 0xff}
}

// ToNRGBA expands the raster into an opaque NRGBA image.
func (r *Raster) ToNRGBA() *image.NRGBA {
	dst := image.NewNRGBA(r.Bounds())
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		dst.Pix[j] = r.Pix[i]
		dst.Pix[j+1] = r.Pix[i+1]
		dst.Pix[j+2] = r.Pix[i+2]
		dst.Pix[j+3] = 0xff
	}
	return dst
}

// InputTensor is the fixed-shape model input, NHWC with a batch of one.
type InputTensor struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
	Data     []uint8   `json:"data,omitempty"`
	Float    []float32 `json:"float,omitempty"`
}

// DetectionSet holds the parallel output arrays of one inference call.
// Locations are [top, left, bottom, right] per detection, normalized to [0,1].
type DetectionSet struct {
	Locations []float32 `json:"locations"`
	Scores    []float32 `json:"scores"`
	Classes   []int     `json:"classes,omitempty"`
	Count     int       `json:"count"`
}

// Len is the fixed number of detection slots.
func (d *DetectionSet) Len() int { return len(d.Scores) }

// BoundingBox is a decoded detection in target raster pixels. Coordinates are
// not clamped to the raster.
type BoundingBox struct {
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Right    float64 `json:"right"`
	Bottom   float64 `json:"bottom"`
	Score    float32 `json:"score"`
	ClassID  int     `json:"class_id"`
	HasClass bool    `json:"has_class"`
}

func (b BoundingBox) Width() float64  { return b.Right - b.Left }
func (b BoundingBox) Height() float64 { return b.Bottom - b.Top }

// AnnotatedFrame is the terminal pipeline artifact handed to the display sink.
type AnnotatedFrame struct {
	Image     *image.RGBA
	Boxes     []BoundingBox
	Seq       uint64
	Timestamp time.Time
}

type ProcessingTimings struct {
	FrameID    string
	Convert    time.Duration
	Preprocess time.Duration
	Inference  time.Duration
	Decode     time.Duration
	Render     time.Duration
	Total      time.Duration
}
