package main

import "fmt"

const (
	MsgNoDetections = "No objects were detected above the score threshold."

	MsgSingleDetection = "One object detected."

	MsgNoLiveFrame = "The live pipeline has not produced an annotated frame yet."
)

func getDetectionMessage(count int) string {
	switch {
	case count == 0:
		return MsgNoDetections
	case count == 1:
		return MsgSingleDetection
	default:
		return fmt.Sprintf("%d objects detected.", count)
	}
}
