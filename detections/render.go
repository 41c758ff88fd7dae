package detections

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Tutortoise/frame-pipeline/models"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// LoadLabels reads one class name per line. Line n names class id n.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read labels %s", path)
	}
	return labels, nil
}

// Renderer draws box outlines and captions onto a private copy of a frame.
type Renderer struct {
	labels []string
	stroke color.Color
}

func NewRenderer(labels []string) *Renderer {
	return &Renderer{
		labels: labels,
		stroke: color.RGBA{R: 0xff, A: 0xff},
	}
}

// Caption is the text drawn above a box.
func (r *Renderer) Caption(b models.BoundingBox) string {
	if !b.HasClass {
		return fmt.Sprintf("W: %.2f, H: %.2f", b.Width(), b.Height())
	}
	name := strconv.Itoa(b.ClassID)
	if b.ClassID >= 0 && b.ClassID < len(r.labels) && r.labels[b.ClassID] != "" {
		name = r.labels[b.ClassID]
	}
	return fmt.Sprintf("%s %.2f", name, b.Score)
}

// Render never writes to base. Boxes outside the frame or with inverted
// corners are drawn as given; the canvas clips them.
func (r *Renderer) Render(base image.Image, boxes iter.Seq[models.BoundingBox]) *models.AnnotatedFrame {
	dc := gg.NewContextForImage(base)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: LabelSize}))
	dc.SetColor(r.stroke)

	var drawn []models.BoundingBox
	for b := range boxes {
		dc.DrawRectangle(b.Left, b.Top, b.Right-b.Left, b.Bottom-b.Top)
		dc.SetLineWidth(StrokeWidth)
		dc.Stroke()

		dc.DrawString(r.Caption(b), b.Left, b.Top-LabelOffsetY)
		drawn = append(drawn, b)
	}

	return &models.AnnotatedFrame{
		Image: toRGBA(dc.Image()),
		Boxes: drawn,
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}
