// Package scheduler connects a frame source to the detection pipeline with a
// keep-only-latest mailbox and a single in-flight frame.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/Tutortoise/frame-pipeline/detections"
	"github.com/Tutortoise/frame-pipeline/models"
)

type State int32

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// Processor runs every stage for one frame. Close releases its engine.
type Processor interface {
	Process(ctx context.Context, frame *models.RawFrame) (*models.AnnotatedFrame, error)
	Close() error
}

// Sink receives successfully annotated frames.
type Sink interface {
	Present(frame *models.AnnotatedFrame)
}

type Stats struct {
	Submitted      uint64 `json:"submitted"`
	Processed      uint64 `json:"processed"`
	Dropped        uint64 `json:"dropped"`
	FormatErrors   uint64 `json:"format_errors"`
	InferenceFails uint64 `json:"inference_errors"`
	OtherErrors    uint64 `json:"other_errors"`
	State          string `json:"state"`
}

// Scheduler owns one worker goroutine. Submit never blocks: a frame arriving
// while another is pending replaces it, and the replaced frame is released.
type Scheduler struct {
	proc   Processor
	sink   Sink
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *models.RawFrame
	closed  bool
	state   atomic.Int32

	// Written by the source goroutine.
	submitted atomic.Uint64
	dropped   atomic.Uint64
	_         cpu.CacheLinePad
	// Written by the worker.
	processed      atomic.Uint64
	formatErrors   atomic.Uint64
	inferenceFails atomic.Uint64
	otherErrors    atomic.Uint64
	_              cpu.CacheLinePad

	startedMu sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error
}

func New(proc Processor, sink Sink, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		proc:   proc,
		sink:   sink,
		logger: logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("scheduler stopped")
	}

	var workerCtx context.Context
	workerCtx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.run(workerCtx)

	// Wake the worker when the caller's context ends.
	go func() {
		<-workerCtx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	return nil
}

// Submit hands a frame to the worker and returns immediately.
func (s *Scheduler) Submit(frame *models.RawFrame) {
	if frame == nil {
		return
	}
	s.submitted.Add(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped.Add(1)
		frame.Release()
		return
	}
	replaced := s.pending
	s.pending = frame
	s.cond.Broadcast()
	s.mu.Unlock()

	if replaced != nil {
		s.dropped.Add(1)
		replaced.Release()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.pending == nil && !s.closed && ctx.Err() == nil {
			s.cond.Wait()
		}
		if s.closed || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		frame := s.pending
		s.pending = nil
		s.state.Store(int32(Processing))
		s.mu.Unlock()

		// A started frame runs to completion even if ctx ends meanwhile.
		s.processOne(context.WithoutCancel(ctx), frame)

		s.mu.Lock()
		s.state.Store(int32(Idle))
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// WaitIdle blocks until nothing is pending or in flight. A finite source
// calls it before Stop so its last frame is not discarded.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for (s.pending != nil || s.State() == Processing) && !s.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

func (s *Scheduler) processOne(ctx context.Context, frame *models.RawFrame) {
	out, err := s.safeProcess(ctx, frame)
	if err != nil {
		s.recordError(frame, err)
		return
	}
	s.processed.Add(1)
	if s.sink != nil {
		s.sink.Present(out)
	}
}

// safeProcess keeps a panicking stage from taking the worker down.
func (s *Scheduler) safeProcess(ctx context.Context, frame *models.RawFrame) (out *models.AnnotatedFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			frame.Release()
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return s.proc.Process(ctx, frame)
}

func (s *Scheduler) recordError(frame *models.RawFrame, err error) {
	var fe *detections.FormatError
	var ie *detections.InferenceError
	switch {
	case errors.As(err, &fe):
		s.formatErrors.Add(1)
		s.logger.Warnw("frame dropped: bad plane data", "seq", frame.Seq, "error", err)
	case errors.As(err, &ie):
		s.inferenceFails.Add(1)
		s.logger.Warnw("frame dropped: inference failed", "seq", frame.Seq, "error", err)
	default:
		s.otherErrors.Add(1)
		s.logger.Errorw("frame dropped", "seq", frame.Seq, "error", err)
	}
}

// Stop waits for the in-flight frame, releases any pending frame and closes
// the processor. It is safe to call more than once.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pending := s.pending
		s.pending = nil
		s.cond.Broadcast()
		s.mu.Unlock()

		if pending != nil {
			s.dropped.Add(1)
			pending.Release()
		}

		s.startedMu.Lock()
		if s.cancel != nil {
			// Cancel only after the worker returns; the in-flight frame runs to completion.
			defer s.cancel()
		}
		s.startedMu.Unlock()

		s.wg.Wait()
		s.stopErr = s.proc.Close()
	})
	return s.stopErr
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted:      s.submitted.Load(),
		Processed:      s.processed.Load(),
		Dropped:        s.dropped.Load(),
		FormatErrors:   s.formatErrors.Load(),
		InferenceFails: s.inferenceFails.Load(),
		OtherErrors:    s.otherErrors.Load(),
		State:          s.State().String(),
	}
}
