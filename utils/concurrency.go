package utils

import (
	"sync"
)

// WorkerPool runs submitted jobs in the background, at most maxWorkers at a
// time. With no limit every job starts as soon as it is submitted.
type WorkerPool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool. A maxWorkers of zero or less means
// unbounded.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	wp := &WorkerPool{}
	if maxWorkers > 0 {
		wp.semaphore = make(chan struct{}, maxWorkers)
	}
	return wp
}

// Submit schedules job and returns immediately. Jobs over the limit wait for
// a free slot on their own goroutine, never on the caller's.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)

	go func() {
		defer wp.wg.Done()
		if wp.semaphore != nil {
			wp.semaphore <- struct{}{}
			defer func() { <-wp.semaphore }()
		}
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// KeySet is a thread-safe set of comparable keys.
type KeySet[K comparable] struct {
	mu   sync.Mutex
	seen map[K]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet[K comparable]() *KeySet[K] {
	return &KeySet[K]{seen: make(map[K]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet[K]) Add(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}
