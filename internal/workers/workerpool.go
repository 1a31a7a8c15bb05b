// Package workers bounds the concurrency of directory health probes so
// a large community list cannot exhaust sockets.
package workers

import "sync"

// Pool runs submitted jobs on a fixed number of goroutines.
type Pool struct {
	jobCh chan func()
	wg    sync.WaitGroup

	stopOnce sync.Once
}

// NewPool starts a pool with the given worker count and queue depth.
func NewPool(workerCount, queueDepth int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		jobCh: make(chan func(), queueDepth),
	}
	for i := 0; i < workerCount; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for job := range p.jobCh {
		job()
	}
}

// Submit enqueues a job without blocking. It returns false when the
// queue is full and the job was dropped.
func (p *Pool) Submit(job func()) bool {
	p.wg.Add(1)
	select {
	case p.jobCh <- func() {
		defer p.wg.Done()
		job()
	}:
		return true
	default:
		p.wg.Done()
		return false
	}
}

// Wait blocks until every accepted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stop closes the queue and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobCh)
		p.wg.Wait()
	})
}
