// Package mutqueue serializes all entity cache mutations onto a single
// owner goroutine. Background workers (page fetches, remote mutations,
// realtime pushes) report their results back through the queue instead
// of touching the cache directly, so per-entity mutation order follows
// enqueue order and no fine-grained entry locks are needed.
package mutqueue

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("mutation queue closed")

type Queue struct {
	jobs chan func()

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

func New(buffer int) *Queue {
	q := &Queue{
		jobs:    make(chan func(), buffer),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.drained)
	for {
		select {
		case job := <-q.jobs:
			job()
		case <-q.closed:
			// Drain remaining jobs before stopping
			for {
				select {
				case job := <-q.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// Enqueue submits a mutation without waiting for it to run.
func (q *Queue) Enqueue(job func()) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.closed:
		return ErrClosed
	}
}

// Do submits a mutation and blocks until it has run.
func (q *Queue) Do(job func()) error {
	done := make(chan struct{})
	err := q.Enqueue(func() {
		job()
		close(done)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-q.drained:
	}
	// The owner goroutine has stopped; the job either ran during the
	// drain or was never picked up.
	select {
	case <-done:
		return nil
	default:
		return ErrClosed
	}
}

// Close stops the owner goroutine after draining accepted jobs.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	<-q.drained
}
