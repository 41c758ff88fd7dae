package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/Tutortoise/frame-pipeline/detections"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// EngineFactory loads one independent engine instance.
type EngineFactory func() (detections.Engine, error)

// EnginePool lends engines to HTTP requests so no engine ever serves two
// requests at once.
type EnginePool struct {
	engines    chan detections.Engine
	size       int
	factory    EngineFactory
	mu         sync.Mutex
	closed     bool
	metricsMu  sync.RWMutex
	metrics    PoolMetrics
	lastErrors []error
	stop       chan struct{}
}

type PoolMetrics struct {
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

func NewEnginePool(factory EngineFactory, size int) (*EnginePool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &EnginePool{
		engines: make(chan detections.Engine, size),
		size:    size,
		factory: factory,
		stop:    make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		engine, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, errors.Wrapf(err, "failed to initialize session %d", i)
		}
		pool.engines <- engine
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *EnginePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *EnginePool) Acquire(ctx context.Context) (detections.Engine, error) {
	if p.isClosed() {
		return nil, errors.New("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metricsMu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metricsMu.Unlock()
	}()

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case engine, ok := <-p.engines:
		if !ok {
			return nil, errors.New("pool is closed")
		}
		p.metricsMu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metricsMu.Unlock()
		return engine, nil
	case <-timer.C:
		p.metricsMu.Lock()
		p.metrics.AcquireFailures++
		p.metricsMu.Unlock()
		return nil, errors.New("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *EnginePool) Release(engine detections.Engine) {
	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metricsMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		engine.Close()
		return
	}
	select {
	case p.engines <- engine:
	default:
		engine.Close()
	}
}

// Discard drops an engine that failed mid-request; the health check replaces it.
func (p *EnginePool) Discard(engine detections.Engine, cause error) {
	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metricsMu.Unlock()

	p.recordError(cause)
	engine.Close()
}

func (p *EnginePool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.stop)
	close(p.engines)

	var err error
	for engine := range p.engines {
		err = multierr.Append(err, engine.Close())
	}
	return err
}

func (p *EnginePool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

func (p *EnginePool) replenish() {
	p.metricsMu.RLock()
	inUse := p.metrics.InUse
	p.metricsMu.RUnlock()

	p.mu.Lock()
	missing := p.size - len(p.engines) - inUse
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		engine, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			engine.Close()
			return
		}
		select {
		case p.engines <- engine:
		default:
			engine.Close()
		}
		p.mu.Unlock()
	}
}

func (p *EnginePool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *EnginePool) LastErrors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.lastErrors))
	for i, err := range p.lastErrors {
		out[i] = err.Error()
	}
	return out
}

func (p *EnginePool) GetMetrics() PoolMetrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}
