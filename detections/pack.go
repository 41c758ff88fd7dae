package detections

import (
	"image"
	"runtime"
	"sync"
)

// rowPacker copies NRGBA rows into a packed HWC uint8 buffer.
type rowPacker struct {
	width, height int
	numWorkers    int
	bufferPool    *sync.Pool
}

func newRowPacker(width, height int) *rowPacker {
	p := &rowPacker{
		width:      width,
		height:     height,
		numWorkers: runtime.GOMAXPROCS(0),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]uint8, width*height*InputChannels)
			},
		},
	}
	return p
}

// Pack returns a pooled buffer holding img in HWC order. Callers hand it back
// with put once the bytes are copied out.
func (p *rowPacker) Pack(img *image.NRGBA) []uint8 {
	buffer := p.bufferPool.Get().([]uint8)

	workers := p.numWorkers
	if workers > p.height {
		workers = p.height
	}
	rowsPerWorker := p.height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+p.width*4]
				dst := buffer[y*p.width*InputChannels : (y+1)*p.width*InputChannels]
				packRow(dst, src, p.width)
			}
		}(startRow, endRow)
	}

	wg.Wait()
	return buffer
}

func (p *rowPacker) put(buffer []uint8) {
	p.bufferPool.Put(buffer)
}

// packRow drops the alpha byte, four pixels per step.
func packRow(dst, src []byte, width int) {
	x := 0
	for ; x+4 <= width; x += 4 {
		d := dst[x*3 : x*3+12 : x*3+12]
		s := src[x*4 : x*4+16 : x*4+16]
		d[0], d[1], d[2] = s[0], s[1], s[2]
		d[3], d[4], d[5] = s[4], s[5], s[6]
		d[6], d[7], d[8] = s[8], s[9], s[10]
		d[9], d[10], d[11] = s[12], s[13], s[14]
	}
	for ; x < width; x++ {
		dst[x*3] = src[x*4]
		dst[x*3+1] = src[x*4+1]
		dst[x*3+2] = src[x*4+2]
	}
}
