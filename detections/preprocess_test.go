package detections

import (
	"image"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Tutortoise/frame-pipeline/models"
)

func noiseRaster(width, height int, seed int64) *models.Raster {
	r := models.NewRaster(width, height)
	rng := rand.New(rand.NewSource(seed))
	rng.Read(r.Pix)
	return r
}

func TestPrepareShape(t *testing.T) {
	pre := NewPreprocessor(LayoutUint8)

	for _, size := range [][2]int{{640, 480}, {300, 300}, {17, 901}} {
		tensor, err := pre.Prepare(noiseRaster(size[0], size[1], 1))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tensor.Width, test.ShouldEqual, InputWidth)
		test.That(t, tensor.Height, test.ShouldEqual, InputHeight)
		test.That(t, tensor.Channels, test.ShouldEqual, InputChannels)
		test.That(t, tensor.Data, test.ShouldHaveLength, InputWidth*InputHeight*InputChannels)
		test.That(t, tensor.Float, test.ShouldBeNil)
	}
}

func TestPrepareDeterministic(t *testing.T) {
	pre := NewPreprocessor(LayoutUint8)
	raster := noiseRaster(640, 480, 7)

	first, err := pre.Prepare(raster)
	test.That(t, err, test.ShouldBeNil)
	second, err := pre.Prepare(raster)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Data, test.ShouldResemble, first.Data)

	// Tensors never alias the pooled buffer.
	first.Data[0] ^= 0xff
	third, err := pre.Prepare(raster)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, third.Data, test.ShouldResemble, second.Data)
}

func TestPrepareUniformColor(t *testing.T) {
	raster := models.NewRaster(64, 32)
	for i := 0; i < len(raster.Pix); i += 3 {
		raster.Pix[i], raster.Pix[i+1], raster.Pix[i+2] = 10, 20, 30
	}

	tensor, err := NewPreprocessor(LayoutUint8).Prepare(raster)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < len(tensor.Data); i += 3 {
		if tensor.Data[i] != 10 || tensor.Data[i+1] != 20 || tensor.Data[i+2] != 30 {
			t.Fatalf("element %d = %v", i/3, tensor.Data[i:i+3])
		}
	}
}

func TestPrepareFloatLayout(t *testing.T) {
	raster := noiseRaster(320, 240, 3)

	u8, err := NewPreprocessor(LayoutUint8).Prepare(raster)
	test.That(t, err, test.ShouldBeNil)
	f32, err := NewPreprocessor(LayoutFloat32).Prepare(raster)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, f32.Data, test.ShouldBeNil)
	test.That(t, f32.Float, test.ShouldHaveLength, len(u8.Data))
	for i, v := range f32.Float {
		test.That(t, float64(v), test.ShouldAlmostEqual, float64(u8.Data[i])/255.0, 1e-6)
	}
}

func TestPrepareRejectsBadRaster(t *testing.T) {
	pre := NewPreprocessor(LayoutUint8)

	_, err := pre.Prepare(nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = pre.Prepare(&models.Raster{Width: 10, Height: 10, Pix: make([]byte, 10)})
	var fe *FormatError
	test.That(t, errors.As(err, &fe), test.ShouldBeTrue)
}

func TestPackRowDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 13, 5))
	rand.New(rand.NewSource(11)).Read(img.Pix)

	dst := make([]byte, 13*3)
	for y := 0; y < 5; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+13*4]
		packRow(dst, src, 13)
		for x := 0; x < 13; x++ {
			test.That(t, dst[x*3:x*3+3], test.ShouldResemble, src[x*4:x*4+3])
		}
	}
}

func TestParseTensorLayout(t *testing.T) {
	l, err := ParseTensorLayout("float32")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, LayoutFloat32)
	test.That(t, l.String(), test.ShouldEqual, "float32")

	_, err = ParseTensorLayout("int8")
	test.That(t, err, test.ShouldNotBeNil)
}
