package detections

import (
	"testing"

	"go.viam.com/test"

	"github.com/Tutortoise/frame-pipeline/models"
)

func box(left, top, right, bottom float64, score float32) models.BoundingBox {
	return models.BoundingBox{Left: left, Top: top, Right: right, Bottom: bottom, Score: score}
}

func TestCalculateIOU(t *testing.T) {
	a := box(0, 0, 10, 10, 1)
	test.That(t, calculateIOU(a, a), test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, calculateIOU(a, box(5, 0, 15, 10, 1)), test.ShouldAlmostEqual, 50.0/150.0, 1e-9)
	test.That(t, calculateIOU(a, box(20, 20, 30, 30, 1)), test.ShouldEqual, 0.0)
	test.That(t, calculateIOU(box(10, 10, 0, 0, 1), a), test.ShouldEqual, 0.0)
}

func TestNMS(t *testing.T) {
	in := []models.BoundingBox{
		box(0, 0, 100, 100, 0.6),
		box(200, 200, 260, 260, 0.7),
		box(2, 2, 102, 102, 0.9),
		box(50, 0, 150, 100, 0.8),
	}
	out := NewNMS(IouThreshold)(in)

	// The 0.6 box overlaps the 0.9 box almost entirely; the half-shifted box
	// stays under the IoU limit.
	test.That(t, out, test.ShouldHaveLength, 3)
	test.That(t, out[0].Score, test.ShouldEqual, float32(0.7))
	test.That(t, out[1].Score, test.ShouldEqual, float32(0.9))
	test.That(t, out[2].Score, test.ShouldEqual, float32(0.8))

	test.That(t, NewNMS(IouThreshold)(nil), test.ShouldBeEmpty)
}

func TestClusterBoxesMergesNeighbours(t *testing.T) {
	in := []models.BoundingBox{
		{Left: 10, Top: 10, Right: 110, Bottom: 110, Score: 0.6, ClassID: 1, HasClass: true},
		{Left: 14, Top: 12, Right: 112, Bottom: 114, Score: 0.9, ClassID: 2, HasClass: true},
		{Left: 400, Top: 300, Right: 500, Bottom: 400, Score: 0.7, ClassID: 3, HasClass: true},
	}
	out := ClusterBoxes(in)
	test.That(t, out, test.ShouldHaveLength, 2)

	test.That(t, out[0].Left, test.ShouldEqual, 10.0)
	test.That(t, out[0].Top, test.ShouldEqual, 10.0)
	test.That(t, out[0].Right, test.ShouldEqual, 112.0)
	test.That(t, out[0].Bottom, test.ShouldEqual, 114.0)
	test.That(t, out[0].Score, test.ShouldEqual, float32(0.9))
	test.That(t, out[0].ClassID, test.ShouldEqual, 2)

	test.That(t, out[1].ClassID, test.ShouldEqual, 3)
	test.That(t, ClusterBoxes(nil), test.ShouldBeNil)
}

func TestParsePostprocessor(t *testing.T) {
	p, err := ParsePostprocessor("none")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldBeNil)

	p, err = ParsePostprocessor("nms")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldNotBeNil)

	_, err = ParsePostprocessor("soft-nms")
	test.That(t, err, test.ShouldNotBeNil)
}
