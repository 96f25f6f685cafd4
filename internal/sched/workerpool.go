// Package sched implements the spec's TimerPool + WorkerPool scheduling
// fabric (component K), generalizing the teacher's ad-hoc per-component
// tickers (internal/protocol/ocpp16/processor.go's placeholder
// workerRoutine, internal/transport/websocket/manager.go's separate
// ping/cleanup tickers) into one reusable pair of primitives shared by
// the gateway and the charge-point runtime.
package sched

import (
	"context"
	"sync"
)

// WorkerPool is a fixed-size goroutine pool for short jobs: persisting
// counters, invoking user handlers, running reconnect attempts. It never
// grows past its configured size.
type WorkerPool struct {
	jobs   chan func()
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// NewWorkerPool starts size worker goroutines reading off an internal
// job queue of the given buffer depth.
func NewWorkerPool(size, queueDepth int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		jobs:   make(chan func(), queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job()
		}
	}
}

// Submit enqueues job for fire-and-forget execution. It blocks while the
// queue is full, until a worker takes a job or the pool is stopped (the
// job is then dropped). SubmitWait goes through Submit and blocks the
// same way.
func (p *WorkerPool) Submit(job func()) {
	select {
	case p.jobs <- job:
	case <-p.ctx.Done():
	}
}

// SubmitWait enqueues job and returns a channel that receives its error
// result exactly once, giving callers future-style semantics.
func (p *WorkerPool) SubmitWait(job func() error) <-chan error {
	result := make(chan error, 1)
	p.Submit(func() {
		result <- job()
	})
	return result
}

// Stop cancels pending work acceptance and waits for in-flight jobs to
// drain; queued-but-not-started jobs are abandoned.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}
