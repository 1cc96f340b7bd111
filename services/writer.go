package services

import (
	"context"
	"sync"
	"time"
)

type writeJob func(ctx context.Context)

// detachedWriter runs store writes off the event path. Jobs sharing a key run
// one at a time in submission order, so the last update to arrive is also the
// last one written.
type detachedWriter struct {
	mu      sync.Mutex
	queues  map[string][]writeJob
	wg      sync.WaitGroup
	timeout time.Duration
}

func newDetachedWriter(timeout time.Duration) *detachedWriter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &detachedWriter{queues: make(map[string][]writeJob), timeout: timeout}
}

// Go queues job under key and returns immediately
func (w *detachedWriter) Go(key string, job writeJob) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wg.Add(1)
	q, running := w.queues[key]
	w.queues[key] = append(q, job)
	if !running {
		go w.drain(key)
	}
}

func (w *detachedWriter) drain(key string) {
	for {
		w.mu.Lock()
		q := w.queues[key]
		if len(q) == 0 {
			delete(w.queues, key)
			w.mu.Unlock()
			return
		}
		job := q[0]
		w.queues[key] = q[1:]
		w.mu.Unlock()

		w.run(job)
	}
}

func (w *detachedWriter) run(job writeJob) {
	defer w.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	job(ctx)
}

// Do queues fn under key and waits for its result, so fn observes every job
// queued before it under that key as finished. If ctx ends before fn's turn,
// fn is skipped.
func (w *detachedWriter) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	w.Go(key, func(context.Context) {
		if err := ctx.Err(); err != nil {
			result <- err
			return
		}
		result <- fn(ctx)
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every queued job has finished
func (w *detachedWriter) Wait() {
	w.wg.Wait()
}
