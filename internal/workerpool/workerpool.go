// Package workerpool runs submitted jobs on a bounded number of goroutines.
package workerpool

import "sync"

// Pool bounds concurrent job execution with a semaphore. A Pool is meant for one
// batch: Submit jobs, then Wait.
type Pool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// New returns a Pool that runs at most maxWorkers jobs at once. Values below 1 mean 1.
func New(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{semaphore: make(chan struct{}, maxWorkers)}
}

// Submit blocks until a worker slot is free, then runs job on its own goroutine.
func (p *Pool) Submit(job func()) {
	p.wg.Add(1)
	p.semaphore <- struct{}{}

	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}
