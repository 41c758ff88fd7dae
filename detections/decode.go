package detections

import (
	"iter"

	"github.com/Tutortoise/frame-pipeline/models"
)

// Validate checks that the output arrays are parallel.
func Validate(det *models.DetectionSet) error {
	if det == nil {
		return &InferenceError{Message: "nil detection set"}
	}
	n := len(det.Scores)
	if len(det.Locations) != 4*n {
		return &InferenceError{Message: "locations length mismatch"}
	}
	if det.Classes != nil && len(det.Classes) != n {
		return &InferenceError{Message: "classes length mismatch"}
	}
	return nil
}

// Decode yields one box per detection whose score is above threshold, in
// model order. Locations are read as [top, left, bottom, right] and scaled to
// the target raster without clamping. Overlapping boxes are all kept.
// Unvalidated input stops at the shortest of the parallel arrays.
func Decode(det *models.DetectionSet, targetWidth, targetHeight int, threshold float32) iter.Seq[models.BoundingBox] {
	w, h := float64(targetWidth), float64(targetHeight)
	return func(yield func(models.BoundingBox) bool) {
		if det == nil {
			return
		}
		hasClass := det.Classes != nil
		n := min(len(det.Scores), len(det.Locations)/4)
		if hasClass {
			n = min(n, len(det.Classes))
		}
		for i, score := range det.Scores[:n] {
			if score <= threshold {
				continue
			}
			loc := det.Locations[i*4 : i*4+4]
			box := models.BoundingBox{
				Left:     float64(loc[1]) * w,
				Top:      float64(loc[0]) * h,
				Right:    float64(loc[3]) * w,
				Bottom:   float64(loc[2]) * h,
				Score:    score,
				HasClass: hasClass,
			}
			if hasClass {
				box.ClassID = det.Classes[i]
			}
			if !yield(box) {
				return
			}
		}
	}
}

// Collect drains a box sequence.
func Collect(seq iter.Seq[models.BoundingBox]) []models.BoundingBox {
	var boxes []models.BoundingBox
	for b := range seq {
		boxes = append(boxes, b)
	}
	return boxes
}
