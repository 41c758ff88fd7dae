package source

import (
	"context"
	"time"

	"github.com/Tutortoise/frame-pipeline/models"
)

// Synthetic renders a bright square sliding over a gray background. Count
// zero means run until ctx ends.
type Synthetic struct {
	Width  int
	Height int
	FPS    float64
	Count  int

	pool *framePool
}

func NewSynthetic(width, height int, fps float64, count int) *Synthetic {
	return &Synthetic{
		Width:  width,
		Height: height,
		FPS:    fps,
		Count:  count,
		pool:   newFramePool(FrameSize(width, height)),
	}
}

func (s *Synthetic) Run(ctx context.Context, submit func(*models.RawFrame)) error {
	tick := newPacer(s.FPS)

	for seq := 0; s.Count == 0 || seq < s.Count; seq++ {
		if err := tick.wait(ctx); err != nil {
			return nil
		}
		buf := s.pool.get()
		s.paint(*buf, seq)

		frame := models.NewRawFrame(splitPlanes(*buf, s.Width, s.Height), s.Width, s.Height, time.Now(), func() {
			s.pool.put(buf)
		})
		frame.Seq = uint64(seq)
		submit(frame)
	}
	return nil
}

func (s *Synthetic) paint(buf []byte, seq int) {
	planes := splitPlanes(buf, s.Width, s.Height)
	y, u, v := planes[0].Data, planes[1].Data, planes[2].Data
	for i := range y {
		y[i] = 0x80
	}
	for i := range u {
		u[i] = 0x80
		v[i] = 0x80
	}

	side := s.Height / 4
	if side < 2 {
		side = 2
	}
	x0 := (seq * 8) % max(1, s.Width-side)
	y0 := s.Height / 3
	for row := y0; row < y0+side && row < s.Height; row++ {
		for col := x0; col < x0+side && col < s.Width; col++ {
			y[row*s.Width+col] = 0xeb
		}
	}
}
