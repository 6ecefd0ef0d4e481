package kvbrowse

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TaskResult is the outcome of one pool operation: a value or an error,
// never both.
type TaskResult struct {
	Value any
	Err   error
}

type poolTask struct {
	op       func(context.Context) (any, error)
	deadline time.Duration
	out      chan TaskResult
}

// ErrPoolClosed is the cause carried by Cancelled outcomes delivered for
// operations submitted to (or still queued in) a shut-down pool.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool runs opaque store operations on a bounded set of background
// workers. Submissions are queued FIFO and started at most once; results are
// delivered on a per-task channel so the coordinator can marshal them back to
// its own goroutine. The pool never lets an operation error or panic escape
// to other tasks.
type WorkerPool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	eg      *errgroup.Group
	limiter chan struct{}
	wake    chan struct{}
	closing chan struct{}

	mu      sync.Mutex
	pending []poolTask
	closed  bool

	feederDone chan struct{}
}

// NewWorkerPool creates a pool with the given number of workers and an
// initial queue capacity of queueDepth. It starts accepting work immediately.
func NewWorkerPool(ctx context.Context, workers, queueDepth int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	ctx2, cancel := context.WithCancel(ctx)
	eg, ctx2 := errgroup.WithContext(ctx2)
	p := &WorkerPool{
		ctx:        ctx2,
		cancel:     cancel,
		eg:         eg,
		limiter:    make(chan struct{}, workers),
		wake:       make(chan struct{}, 1),
		closing:    make(chan struct{}),
		pending:    make([]poolTask, 0, queueDepth),
		feederDone: make(chan struct{}),
	}
	go p.feed()
	return p
}

// Submit queues op for execution and returns a channel that receives exactly
// one TaskResult. It never blocks; excess operations wait in the FIFO queue.
// A non-positive deadline means the operation is bounded only by the pool's
// lifetime.
func (p *WorkerPool) Submit(op func(context.Context) (any, error), deadline time.Duration) <-chan TaskResult {
	out := make(chan TaskResult, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		out <- TaskResult{Err: NewError(Cancelled, ErrPoolClosed)}
		return out
	}
	p.pending = append(p.pending, poolTask{op: op, deadline: deadline, out: out})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return out
}

// Shutdown stops intake, cancels queued-but-not-started work, and waits up to
// grace for in-flight operations to finish. Operations still running after
// grace are abandoned: their worker slot is reclaimed and their eventual
// result discarded.
func (p *WorkerPool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	rest := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, t := range rest {
		t.out <- TaskResult{Err: NewError(Cancelled, ErrPoolClosed)}
	}
	close(p.closing)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	<-p.feederDone

	drained := make(chan struct{})
	go func() {
		_ = p.eg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
		log.Warn("worker pool shutdown grace expired, abandoning in-flight work")
	}
	p.cancel()
	<-drained
}

// feed pops tasks in FIFO order and hands each to a free worker slot.
func (p *WorkerPool) feed() {
	defer close(p.feederDone)
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			if p.closed {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			select {
			case <-p.wake:
			case <-p.ctx.Done():
				p.failPending()
				return
			}
			continue
		}
		t := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()

		select {
		case p.limiter <- struct{}{}:
		case <-p.closing:
			// Popped but never started; counts as queued for cancellation.
			t.out <- TaskResult{Err: NewError(Cancelled, ErrPoolClosed)}
			return
		case <-p.ctx.Done():
			t.out <- TaskResult{Err: NewError(Cancelled, p.ctx.Err())}
			p.failPending()
			return
		}
		p.eg.Go(func() error {
			defer func() { <-p.limiter }()
			p.run(t)
			return nil
		})
	}
}

// failPending cancels everything still queued. Called once the pool context
// is gone; intake may still be open, so mark closed first.
func (p *WorkerPool) failPending() {
	p.mu.Lock()
	p.closed = true
	rest := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, t := range rest {
		t.out <- TaskResult{Err: NewError(Cancelled, p.ctx.Err())}
	}
}

// run executes one task under its deadline, freeing the worker slot on expiry
// even if the operation is still blocked on the wire.
func (p *WorkerPool) run(t poolTask) {
	ctx := p.ctx
	if t.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, t.deadline)
		defer cancel()
	}

	done := make(chan TaskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- TaskResult{Err: NewError(Unknown, fmt.Errorf("operation panic: %v", r))}
			}
		}()
		v, err := t.op(ctx)
		done <- TaskResult{Value: v, Err: err}
	}()

	select {
	case res := <-done:
		if res.Err != nil {
			res.Err = normalizeOpError(res.Err)
		}
		t.out <- res
	case <-ctx.Done():
		// The abandoned op finishes on its own goroutine; its late result is
		// swallowed by the buffered done channel.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t.out <- TaskResult{Err: NewError(Timeout, ctx.Err())}
		} else {
			t.out <- TaskResult{Err: NewError(Cancelled, ctx.Err())}
		}
	}
}

// normalizeOpError folds raw context errors surfaced by the operation itself
// into the engine taxonomy, leaving already-coded errors untouched.
func normalizeOpError(err error) error {
	var e Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(Timeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(Cancelled, err)
	}
	return err
}
