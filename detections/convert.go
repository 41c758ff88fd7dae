package detections

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/Tutortoise/frame-pipeline/models"
)

type ConvertMode int

const (
	// ConvertDirect applies the BT.601 full-range matrix per pixel.
	ConvertDirect ConvertMode = iota
	// ConvertJPEG repacks to NV21 and round-trips through a quality 90 JPEG.
	ConvertJPEG
)

func (m ConvertMode) String() string {
	switch m {
	case ConvertJPEG:
		return "jpeg"
	default:
		return "direct"
	}
}

// ParseConvertMode maps a config string to a mode.
func ParseConvertMode(s string) (ConvertMode, error) {
	switch s {
	case "", "direct":
		return ConvertDirect, nil
	case "jpeg":
		return ConvertJPEG, nil
	}
	return ConvertDirect, errors.Errorf("unknown convert mode %q", s)
}

// ColorConverter turns planar 4:2:0 frames into RGB rasters.
type ColorConverter struct {
	mode       ConvertMode
	numWorkers int
}

func NewColorConverter(mode ConvertMode) *ColorConverter {
	return &ColorConverter{
		mode:       mode,
		numWorkers: runtime.GOMAXPROCS(0),
	}
}

// planeView is a validated plane with strides resolved.
type planeView struct {
	data        []byte
	rowStride   int
	pixelStride int
}

func (p planeView) at(x, y int) byte {
	return p.data[y*p.rowStride+x*p.pixelStride]
}

func resolvePlane(name string, p models.Plane, width, height int) (planeView, error) {
	if len(p.Data) == 0 {
		return planeView{}, formatErrorf("%s plane is empty", name)
	}
	ps := p.PixelStride
	if ps <= 0 {
		ps = 1
	}
	rs := p.RowStride
	if rs <= 0 {
		rs = width * ps
	}
	if rs < (width-1)*ps+1 {
		return planeView{}, formatErrorf("%s plane row stride %d too small for width %d", name, rs, width)
	}
	need := (height-1)*rs + (width-1)*ps + 1
	if len(p.Data) < need {
		return planeView{}, formatErrorf("%s plane has %d bytes, want at least %d for %dx%d", name, len(p.Data), need, width, height)
	}
	return planeView{data: p.Data, rowStride: rs, pixelStride: ps}, nil
}

func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

func validateFrame(frame *models.RawFrame) (y, u, v planeView, err error) {
	if frame == nil {
		return y, u, v, formatErrorf("nil frame")
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return y, u, v, formatErrorf("invalid frame size %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Planes) != 3 {
		return y, u, v, formatErrorf("want 3 planes, got %d", len(frame.Planes))
	}
	cw, ch := chromaSize(frame.Width, frame.Height)
	if y, err = resolvePlane("Y", frame.Planes[0], frame.Width, frame.Height); err != nil {
		return
	}
	if u, err = resolvePlane("U", frame.Planes[1], cw, ch); err != nil {
		return
	}
	v, err = resolvePlane("V", frame.Planes[2], cw, ch)
	return
}

// Convert produces an RGB raster of the frame. The caller owns the frame and
// releases it afterwards whatever the outcome.
func (c *ColorConverter) Convert(frame *models.RawFrame) (*models.Raster, error) {
	yp, up, vp, err := validateFrame(frame)
	if err != nil {
		return nil, err
	}
	if c.mode == ConvertJPEG {
		return c.convertJPEG(frame, yp, up, vp)
	}
	out := models.NewRaster(frame.Width, frame.Height)
	c.convertParallel(out, yp, up, vp)
	return out, nil
}

func (c *ColorConverter) convertParallel(out *models.Raster, yp, up, vp planeView) {
	workers := c.numWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > out.Height {
		workers = out.Height
	}
	rowsPerWorker := out.Height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = out.Height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				offset := y * out.Width * 3
				cy := y / 2
				for x := 0; x < out.Width; x++ {
					cx := x / 2
					r, g, b := color.YCbCrToRGB(yp.at(x, y), up.at(cx, cy), vp.at(cx, cy))
					i := offset + x*3
					out.Pix[i] = r
					out.Pix[i+1] = g
					out.Pix[i+2] = b
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// NV21 repacks a validated frame as Y followed by interleaved V,U samples.
func NV21(frame *models.RawFrame) ([]byte, error) {
	yp, up, vp, err := validateFrame(frame)
	if err != nil {
		return nil, err
	}
	return packNV21(frame.Width, frame.Height, yp, up, vp), nil
}

func packNV21(width, height int, yp, up, vp planeView) []byte {
	cw, ch := chromaSize(width, height)
	ySize := width * height
	buf := make([]byte, ySize+cw*ch*2)
	for y := 0; y < height; y++ {
		row := buf[y*width : (y+1)*width]
		for x := range row {
			row[x] = yp.at(x, y)
		}
	}
	vu := buf[ySize:]
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			i := (y*cw + x) * 2
			vu[i] = vp.at(x, y)
			vu[i+1] = up.at(x, y)
		}
	}
	return buf
}

func (c *ColorConverter) convertJPEG(frame *models.RawFrame, yp, up, vp planeView) (*models.Raster, error) {
	width, height := frame.Width, frame.Height
	nv21 := packNV21(width, height, yp, up, vp)

	cw, ch := chromaSize(width, height)
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	for y := 0; y < height; y++ {
		copy(img.Y[y*img.YStride:y*img.YStride+width], nv21[y*width:(y+1)*width])
	}
	vu := nv21[width*height:]
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			i := (y*cw + x) * 2
			img.Cr[y*img.CStride+x] = vu[i]
			img.Cb[y*img.CStride+x] = vu[i+1]
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, &FormatError{Message: "jpeg encode", Cause: err}
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, &FormatError{Message: "jpeg decode", Cause: err}
	}
	return RasterFromImage(decoded), nil
}

// RasterFromImage copies any image into a packed RGB raster.
func RasterFromImage(img image.Image) *models.Raster {
	b := img.Bounds()
	out := models.NewRaster(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bb := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				i := (y*out.Width + x) * 3
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = r, g, bb
			}
		}
	default:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				i := (y*out.Width + x) * 3
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = uint8(r>>8), uint8(g>>8), uint8(bb>>8)
			}
		}
	}
	return out
}
