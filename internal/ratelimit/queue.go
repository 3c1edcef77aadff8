// Package ratelimit serializes outbound vendor calls through a single worker
// that spaces call starts by a fixed interval and enforces a per-run ceiling.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultInterval = 1100 * time.Millisecond
	DefaultCeiling  = 180
	DefaultBacklog  = 64
)

var (
	ErrQuotaExceeded = errors.New("ratelimit: call quota exceeded")
	ErrQueueClosed   = errors.New("ratelimit: queue closed")
)

type Config struct {
	Interval time.Duration
	Ceiling  int
	Backlog  int
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Queue runs submitted calls one at a time in FIFO order.
type Queue struct {
	limiter *rate.Limiter
	tasks   chan *task
	quit    chan struct{}
	wg      sync.WaitGroup

	// sendMu is held shared by enqueuers and exclusively by Close, so no
	// task can land in the backlog after Close has drained it.
	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	used    int
	ceiling int
}

func New(cfg Config) *Queue {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	q := &Queue{
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		tasks:   make(chan *task, cfg.Backlog),
		quit:    make(chan struct{}),
		ceiling: cfg.Ceiling,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Do enqueues fn and blocks until it has run. It fails immediately with
// ErrQuotaExceeded once the ceiling has been reserved.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	q.sendMu.RLock()
	if q.closed {
		q.sendMu.RUnlock()
		return ErrQueueClosed
	}
	if err := q.reserve(); err != nil {
		q.sendMu.RUnlock()
		return err
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case q.tasks <- t:
		q.sendMu.RUnlock()
	case <-ctx.Done():
		q.sendMu.RUnlock()
		q.refund()
		return ctx.Err()
	}

	// Once enqueued, the worker or Close always answers.
	return <-t.done
}

// Call is Do for calls that produce a value.
func Call[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (q *Queue) Used() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

func (q *Queue) Ceiling() int {
	return q.ceiling
}

func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ceiling - q.used
}

// Close stops the worker. Calls still waiting in the backlog fail with
// ErrQueueClosed; a call already running is allowed to finish.
func (q *Queue) Close() {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	q.sendMu.Unlock()

	close(q.quit)
	q.wg.Wait()

	for {
		select {
		case t := <-q.tasks:
			q.refund()
			t.done <- ErrQueueClosed
		default:
			return
		}
	}
}

func (q *Queue) reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used >= q.ceiling {
		return ErrQuotaExceeded
	}
	q.used++
	return nil
}

func (q *Queue) refund() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used > 0 {
		q.used--
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.quit:
			return
		case t := <-q.tasks:
			q.exec(t)
		}
	}
}

func (q *Queue) exec(t *task) {
	if err := t.ctx.Err(); err != nil {
		q.refund()
		t.done <- err
		return
	}

	// The limiter is waited on with the caller's context so a cancelled
	// caller does not hold the worker for a full interval.
	if err := q.limiter.Wait(t.ctx); err != nil {
		q.refund()
		t.done <- err
		return
	}
	t.done <- t.fn(t.ctx)
}
