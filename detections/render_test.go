package detections

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"go.viam.com/test"

	"github.com/Tutortoise/frame-pipeline/models"
)

func grayImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0x40, 0x40, 0x40, 0xff
	}
	return img
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 0xc0 && g>>8 < 0x40 && b>>8 < 0x40
}

func TestRenderDrawsOutline(t *testing.T) {
	base := grayImage(200, 200)
	before := slices.Clone(base.Pix)

	b := box(50, 80, 150, 160, 0.9)
	out := NewRenderer(nil).Render(base, slices.Values([]models.BoundingBox{b}))

	test.That(t, base.Pix, test.ShouldResemble, before)
	test.That(t, out.Image.Bounds(), test.ShouldResemble, base.Bounds())
	test.That(t, out.Boxes, test.ShouldHaveLength, 1)

	test.That(t, isRed(out.Image.At(50, 120)), test.ShouldBeTrue)
	test.That(t, isRed(out.Image.At(150, 120)), test.ShouldBeTrue)
	test.That(t, isRed(out.Image.At(100, 80)), test.ShouldBeTrue)
	test.That(t, isRed(out.Image.At(100, 160)), test.ShouldBeTrue)
	// Interior and far corners are untouched.
	test.That(t, isRed(out.Image.At(100, 120)), test.ShouldBeFalse)
	test.That(t, out.Image.At(5, 195), test.ShouldResemble, base.At(5, 195))
}

func TestRenderNoBoxes(t *testing.T) {
	base := grayImage(40, 30)
	out := NewRenderer(nil).Render(base, slices.Values([]models.BoundingBox(nil)))
	test.That(t, out.Boxes, test.ShouldBeEmpty)
	test.That(t, out.Image.Pix, test.ShouldResemble, base.Pix)
}

func TestRenderOddBoxesDoNotPanic(t *testing.T) {
	base := grayImage(100, 100)
	boxes := []models.BoundingBox{
		box(-50, -50, 400, 400, 0.9),
		box(80, 90, 20, 10, 0.8),
		box(150, 150, 300, 300, 0.7),
	}
	out := NewRenderer(nil).Render(base, slices.Values(boxes))
	test.That(t, out.Boxes, test.ShouldHaveLength, 3)
	test.That(t, out.Image.Bounds().Dx(), test.ShouldEqual, 100)
}

func TestRenderRaster(t *testing.T) {
	raster := models.NewRaster(64, 48)
	out := NewRenderer(nil).Render(raster, slices.Values([]models.BoundingBox{box(10, 10, 50, 40, 0.9)}))
	test.That(t, out.Image.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 48))
	test.That(t, isRed(out.Image.At(10, 25)), test.ShouldBeTrue)
	test.That(t, raster.Pix, test.ShouldResemble, make([]byte, 64*48*3))
}

func TestCaption(t *testing.T) {
	r := NewRenderer([]string{"background", "person", ""})

	test.That(t, r.Caption(box(10, 20, 110, 70, 0.9)), test.ShouldEqual, "W: 100.00, H: 50.00")
	test.That(t, r.Caption(models.BoundingBox{Score: 0.875, ClassID: 1, HasClass: true}), test.ShouldEqual, "person 0.88")
	test.That(t, r.Caption(models.BoundingBox{Score: 0.5, ClassID: 2, HasClass: true}), test.ShouldEqual, "2 0.50")
	test.That(t, r.Caption(models.BoundingBox{Score: 0.5, ClassID: 90, HasClass: true}), test.ShouldEqual, "90 0.50")
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	test.That(t, os.WriteFile(path, []byte("background\n person \ncar\n"), 0o644), test.ShouldBeNil)

	labels, err := LoadLabels(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, labels, test.ShouldResemble, []string{"background", "person", "car"})

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)
}
