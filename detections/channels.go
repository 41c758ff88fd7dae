package detections

import (
	"image"
	"sync"
)

// channelProcessor fills a normalized float32 HWC buffer for float models.
type channelProcessor struct {
	width, height int
}

func newChannelProcessor(width, height int) *channelProcessor {
	return &channelProcessor{
		width:  width,
		height: height,
	}
}

func (cp *channelProcessor) processChannels(img *image.NRGBA) []float32 {
	buffer := make([]float32, cp.width*cp.height*InputChannels)

	var wg sync.WaitGroup
	wg.Add(InputChannels)

	// Process each channel concurrently
	for c := 0; c < InputChannels; c++ {
		go func(channel int) {
			defer wg.Done()
			for y := 0; y < cp.height; y++ {
				row := img.Pix[y*img.Stride:]
				for x := 0; x < cp.width; x++ {
					buffer[(y*cp.width+x)*InputChannels+channel] = float32(row[x*4+channel]) / 255.0
				}
			}
		}(c)
	}

	wg.Wait()
	return buffer
}
