package dedup

import (
	"runtime"
	"sync"
)

// HashJob is one pending hash computation: a target path plus a
// result-delivery callback. A job is consumed exactly once by exactly one
// worker; Done is invoked from that worker's goroutine with the computed
// fingerprint or the per-file error, and the job is discarded afterwards.
type HashJob struct {
	Path    string
	MTimeNs int64
	Done    func(fingerprint []byte, err error)
}

// WorkerPool is a fixed-size set of concurrent hashing workers consuming
// jobs from a bounded queue. The queue capacity equals the worker count, so
// a producer that outruns hashing throughput blocks in Submit (natural
// backpressure). Completions arrive in arbitrary order relative to
// submission order; callers must not assume path order is preserved.
type WorkerPool struct {
	jobs         chan *HashJob
	wg           sync.WaitGroup
	algorithm    *HashAlgorithm
	bufferSize   int
	shutdownChan <-chan struct{}
	closed       bool
	closeMutex   sync.Mutex
}

// NewWorkerPool starts workers goroutines hashing with the given algorithm.
// A non-positive worker count falls back to 1. shutdownChan may be nil; when
// closed it aborts workers mid-queue for external interruption.
func NewWorkerPool(workers int, algorithm *HashAlgorithm, bufferSize int, shutdownChan <-chan struct{}) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	pool := &WorkerPool{
		jobs:         make(chan *HashJob, workers),
		algorithm:    algorithm,
		bufferSize:   bufferSize,
		shutdownChan: shutdownChan,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

// Submit queues a job, blocking the caller while the queue is full. It
// reports whether the job was accepted: false means the shutdown channel
// fired, the workers are exiting, and the producer must stop submitting.
// Without the shutdown case a producer parked on a full queue would block
// forever once the workers are gone. Submit must not be called after
// Shutdown.
func (p *WorkerPool) Submit(job *HashJob) bool {
	select {
	case p.jobs <- job:
		return true
	case <-p.shutdownChan:
		return false
	}
}

// worker loops dequeuing jobs until the queue is closed and drained, or the
// shutdown channel fires. A hashing error is delivered through the job's
// callback and never terminates the worker: a single unreadable file must
// not stop an entire scan.
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			fingerprint, err := HashFileInterruptible(job.Path, p.algorithm, p.bufferSize, p.shutdownChan)
			job.Done(fingerprint, err)

		case <-p.shutdownChan:
			return
		}
	}
}

// Shutdown closes the job queue and waits for every worker to exit. Queued
// jobs are still processed unless the shutdown channel fires first.
// Shutdown is idempotent.
func (p *WorkerPool) Shutdown() {
	p.closeMutex.Lock()
	if !p.closed {
		close(p.jobs)
		p.closed = true
	}
	p.closeMutex.Unlock()

	p.wg.Wait()
}

// DetectWorkers returns the worker count to use: the configured value when
// positive, otherwise the detected parallelism (minimum 1).
func DetectWorkers(configured int) int {
	if configured > 0 {
		return configured
	}
	if n := runtime.NumCPU(); n > 1 {
		return n
	}
	return 1
}
