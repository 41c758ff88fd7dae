package main

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Tutortoise/frame-pipeline/models"
	"github.com/Tutortoise/frame-pipeline/scheduler"
)

// Viewer owns the display surface: it drains the scheduler slot and keeps the
// last good overlay on screen until a newer one arrives.
type Viewer struct {
	latest  atomic.Pointer[models.AnnotatedFrame]
	shown   atomic.Uint64
	onFrame func(*models.AnnotatedFrame) error
	logger  *zap.SugaredLogger
}

func NewViewer(onFrame func(*models.AnnotatedFrame) error, logger *zap.SugaredLogger) *Viewer {
	return &Viewer{onFrame: onFrame, logger: logger}
}

func (v *Viewer) Run(ctx context.Context, slot *scheduler.Slot) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-slot.Frames():
			v.show(frame)
		}
	}
}

// Drain shows a frame left in the slot, if any.
func (v *Viewer) Drain(slot *scheduler.Slot) {
	select {
	case frame := <-slot.Frames():
		v.show(frame)
	default:
	}
}

func (v *Viewer) show(frame *models.AnnotatedFrame) {
	v.latest.Store(frame)
	v.shown.Add(1)
	if v.onFrame == nil {
		return
	}
	if err := v.onFrame(frame); err != nil {
		v.logger.Warnw("display sink failed", "seq", frame.Seq, "error", err)
	}
}

func (v *Viewer) Latest() *models.AnnotatedFrame {
	return v.latest.Load()
}

func (v *Viewer) Shown() uint64 {
	return v.shown.Load()
}
