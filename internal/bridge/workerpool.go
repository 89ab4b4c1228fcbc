package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// task is a unit of bridge work: publish one event onto NATS.
type task func()

// workerPool bounds the concurrency of outbound NATS publishes so a stalled
// or slow NATS connection drops bridge work instead of blocking the AMI
// worker loop that feeds it. Adapted from a WebSocket broadcast pool; here
// the queue drains into nats.Conn.Publish calls instead of client writes.
type workerPool struct {
	queue   chan task
	wg      sync.WaitGroup
	dropped int64
}

func newWorkerPool(queueSize int) *workerPool {
	return &workerPool{queue: make(chan task, queueSize)}
}

func (p *workerPool) start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *workerPool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			t()
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues t, dropping it if the queue is full.
func (p *workerPool) submit(t task) bool {
	select {
	case p.queue <- t:
		return true
	default:
		atomic.AddInt64(&p.dropped, 1)
		return false
	}
}

func (p *workerPool) droppedCount() int64 { return atomic.LoadInt64(&p.dropped) }

func (p *workerPool) stop() {
	close(p.queue)
	p.wg.Wait()
}
