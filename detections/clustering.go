package detections

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/Tutortoise/frame-pipeline/models"
)

const (
	DefaultClusterSize = 50.0
	IouThreshold       = 0.45
)

// Postprocessor filters or merges decoded boxes. None is applied unless
// configured; the decoder itself never suppresses overlaps.
type Postprocessor func([]models.BoundingBox) []models.BoundingBox

func ParsePostprocessor(mode string) (Postprocessor, error) {
	switch mode {
	case "", "none":
		return nil, nil
	case "nms":
		return NewNMS(IouThreshold), nil
	case "cluster":
		return ClusterBoxes, nil
	}
	return nil, errors.Errorf("unknown postprocess mode %q", mode)
}

// NewNMS keeps the highest-scoring box of every group overlapping above iou.
// Survivors stay in their original order.
func NewNMS(iou float64) Postprocessor {
	return func(in []models.BoundingBox) []models.BoundingBox {
		order := make([]int, len(in))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return in[order[a]].Score > in[order[b]].Score
		})

		suppressed := make([]bool, len(in))
		for a, i := range order {
			if suppressed[i] {
				continue
			}
			for _, j := range order[a+1:] {
				if !suppressed[j] && calculateIOU(in[i], in[j]) > iou {
					suppressed[j] = true
				}
			}
		}

		out := make([]models.BoundingBox, 0, len(in))
		for i, b := range in {
			if !suppressed[i] {
				out = append(out, b)
			}
		}
		return out
	}
}

// ClusterBoxes merges boxes whose corners lie close together, using DBSCAN
// with a radius derived from the median box size.
func ClusterBoxes(detections []models.BoundingBox) []models.BoundingBox {
	if len(detections) == 0 {
		return nil
	}

	medianSize := calculateMedianSize(detections)
	eps := math.Max(medianSize, DefaultClusterSize) * 0.5
	minPoints := 1
	if len(detections) > 3 {
		minPoints = 2
	}

	points := make([][]float64, len(detections))
	for i, det := range detections {
		points[i] = []float64{det.Left, det.Top, det.Right, det.Bottom}
	}

	clusters := dbscan(points, eps, minPoints)
	return processClusters(detections, clusters)
}

func calculateMedianSize(detections []models.BoundingBox) float64 {
	sizes := make([]float64, len(detections))
	for i, det := range detections {
		sizes[i] = math.Sqrt(math.Abs(det.Width() * det.Height()))
	}

	sort.Float64s(sizes)
	if len(sizes) == 0 {
		return DefaultClusterSize
	}
	return sizes[len(sizes)/2]
}

func processClusters(detections []models.BoundingBox, clusters []int) []models.BoundingBox {
	groups := make(map[int][]models.BoundingBox)
	var order []int
	noise := -1

	for i, cluster := range clusters {
		key := cluster
		if cluster == -1 {
			// Noise points keep their own slot.
			key = noise
			noise--
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], detections[i])
	}

	finalBoxes := make([]models.BoundingBox, 0, len(order))
	for _, key := range order {
		finalBoxes = append(finalBoxes, mergeBoxes(groups[key]))
	}
	return finalBoxes
}

func calculateIOU(box1, box2 models.BoundingBox) float64 {
	x1 := math.Max(box1.Left, box2.Left)
	y1 := math.Max(box1.Top, box2.Top)
	x2 := math.Min(box1.Right, box2.Right)
	y2 := math.Min(box1.Bottom, box2.Bottom)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := box1.Width() * box1.Height()
	area2 := box2.Width() * box2.Height()
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func mergeBoxes(boxes []models.BoundingBox) models.BoundingBox {
	result := boxes[0]
	for _, box := range boxes[1:] {
		result.Left = math.Min(result.Left, box.Left)
		result.Top = math.Min(result.Top, box.Top)
		result.Right = math.Max(result.Right, box.Right)
		result.Bottom = math.Max(result.Bottom, box.Bottom)
		if box.Score > result.Score {
			result.Score = box.Score
			result.ClassID = box.ClassID
		}
	}

	return result
}

func dbscan(points [][]float64, eps float64, minPoints int) []int {
	n := len(points)
	clusters := make([]int, n)
	for i := range clusters {
		clusters[i] = -1 // Initialize all points as noise
	}

	currentCluster := 0
	for i := 0; i < n; i++ {
		if clusters[i] != -1 {
			continue
		}

		neighbors := getNeighbors(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}

		clusters[i] = currentCluster
		expandCluster(points, clusters, neighbors, currentCluster, eps, minPoints)
		currentCluster++
	}

	return clusters
}

func getNeighbors(points [][]float64, pointIdx int, eps float64) []int {
	var neighbors []int
	for i := range points {
		if distance(points[pointIdx], points[i]) <= eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

func expandCluster(points [][]float64, clusters []int, neighbors []int, cluster int, eps float64, minPoints int) {
	for i := 0; i < len(neighbors); i++ {
		pointIdx := neighbors[i]
		if clusters[pointIdx] == -1 {
			clusters[pointIdx] = cluster
			newNeighbors := getNeighbors(points, pointIdx, eps)
			if len(newNeighbors) >= minPoints {
				neighbors = append(neighbors, newNeighbors...)
			}
		}
	}
}

func distance(p1, p2 []float64) float64 {
	sum := 0.0
	for i := range p1 {
		diff := p1[i] - p2[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
