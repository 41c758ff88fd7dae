package detections

const (
	InputWidth     = 300
	InputHeight    = 300
	InputChannels  = 3
	ScoreThreshold = 0.5
	MaxDetections  = 10

	JPEGQuality = 90

	StrokeWidth  = 5.0
	LabelSize    = 40.0
	LabelOffsetY = 10.0
)
