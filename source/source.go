// Package source delivers planar YUV 4:2:0 frames to the scheduler.
package source

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/Tutortoise/frame-pipeline/models"
)

// Source produces frames on its own goroutine and hands each to submit. Each
// frame's buffers come back through RawFrame.Release.
type Source interface {
	Run(ctx context.Context, submit func(*models.RawFrame)) error
}

// FrameSize is the byte length of one I420 frame.
func FrameSize(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

func splitPlanes(buf []byte, width, height int) []models.Plane {
	cw, ch := (width+1)/2, (height+1)/2
	ySize, cSize := width*height, cw*ch
	return []models.Plane{
		{Data: buf[:ySize], RowStride: width, PixelStride: 1},
		{Data: buf[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
		{Data: buf[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
	}
}

// framePool recycles frame buffers once the pipeline releases them.
type framePool struct {
	pool sync.Pool
}

func newFramePool(size int) *framePool {
	return &framePool{pool: sync.Pool{
		New: func() interface{} {
			b := make([]byte, size)
			return &b
		},
	}}
}

func (p *framePool) get() *[]byte   { return p.pool.Get().(*[]byte) }
func (p *framePool) put(b *[]byte) { p.pool.Put(b) }

// I420Reader reads raw yuv420p frames back to back from r, as produced by
// `ffmpeg -f rawvideo -pix_fmt yuv420p`.
type I420Reader struct {
	r      io.Reader
	width  int
	height int
	fps    float64
	pool   *framePool
}

func NewI420Reader(r io.Reader, width, height int, fps float64) (*I420Reader, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", width, height)
	}
	return &I420Reader{
		r:      r,
		width:  width,
		height: height,
		fps:    fps,
		pool:   newFramePool(FrameSize(width, height)),
	}, nil
}

// Run returns nil at a clean end of stream.
func (s *I420Reader) Run(ctx context.Context, submit func(*models.RawFrame)) error {
	tick := newPacer(s.fps)

	var seq uint64
	for {
		if err := tick.wait(ctx); err != nil {
			return nil
		}

		buf := s.pool.get()
		if _, err := io.ReadFull(s.r, *buf); err != nil {
			s.pool.put(buf)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrapf(err, "read frame %d", seq)
		}

		frame := models.NewRawFrame(splitPlanes(*buf, s.width, s.height), s.width, s.height, time.Now(), func() {
			s.pool.put(buf)
		})
		frame.Seq = seq
		seq++
		submit(frame)
	}
}

// pacer spaces frames at the configured rate. A rate of zero or less reads
// as fast as the consumer allows.
type pacer struct {
	lim *rate.Limiter
}

func newPacer(fps float64) *pacer {
	if fps <= 0 {
		return &pacer{}
	}
	return &pacer{lim: rate.NewLimiter(rate.Limit(fps), 1)}
}

func (p *pacer) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil || p.lim == nil {
		return err
	}
	return p.lim.Wait(ctx)
}
