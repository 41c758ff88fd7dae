package scheduler

import (
	"github.com/Tutortoise/frame-pipeline/models"
)

// Slot is a single-slot handoff to the display context. A frame presented
// before the previous one was drained replaces it.
type Slot struct {
	ch chan *models.AnnotatedFrame
}

func NewSlot() *Slot {
	return &Slot{ch: make(chan *models.AnnotatedFrame, 1)}
}

// Present never blocks.
func (s *Slot) Present(frame *models.AnnotatedFrame) {
	for {
		select {
		case s.ch <- frame:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Frames is drained by whichever goroutine owns the display surface.
func (s *Slot) Frames() <-chan *models.AnnotatedFrame {
	return s.ch
}
