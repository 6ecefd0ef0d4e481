package kvbrowse

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPoolBoundedConcurrency(t *testing.T) {
	p := NewWorkerPool(context.Background(), 2, 16)
	defer p.Shutdown(time.Second)

	op := func(ctx context.Context) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}

	start := time.Now()
	outs := make([]<-chan TaskResult, 0, 10)
	for i := 0; i < 10; i++ {
		outs = append(outs, p.Submit(op, time.Second))
	}
	for _, out := range outs {
		if res := <-out; res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	}
	elapsed := time.Since(start)

	// 10 ops of 100ms on 2 workers is 5 batches: about 500ms, clearly more
	// than one batch and far less than serial execution.
	if elapsed < 450*time.Millisecond {
		t.Errorf("elapsed %v, want >= ~500ms (pool ran more than 2 at once)", elapsed)
	}
	if elapsed > 900*time.Millisecond {
		t.Errorf("elapsed %v, want well under 1s (pool serialized)", elapsed)
	}
}

func TestPoolFIFOStartOrder(t *testing.T) {
	p := NewWorkerPool(context.Background(), 1, 16)
	defer p.Shutdown(time.Second)

	var mu sync.Mutex
	var order []int
	outs := make([]<-chan TaskResult, 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		outs = append(outs, p.Submit(func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}, time.Second))
	}
	for _, out := range outs {
		<-out
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v, want FIFO", order)
		}
	}
}

func TestPoolTimeoutFreesSlot(t *testing.T) {
	p := NewWorkerPool(context.Background(), 1, 16)
	defer p.Shutdown(time.Second)

	start := time.Now()
	slow := p.Submit(func(ctx context.Context) (any, error) {
		// Ignores ctx on purpose: the pool must still reclaim the slot.
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	}, 50*time.Millisecond)
	quick := p.Submit(func(ctx context.Context) (any, error) {
		return "ok", nil
	}, time.Second)

	res := <-slow
	if !IsTimeout(res.Err) {
		t.Fatalf("slow op outcome = %v, want Timeout", res.Err)
	}
	res = <-quick
	if res.Err != nil || res.Value != "ok" {
		t.Fatalf("quick op = (%v, %v), want ok", res.Value, res.Err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("quick op waited %v behind an expired slot", elapsed)
	}
}

func TestPoolCapturesPanics(t *testing.T) {
	p := NewWorkerPool(context.Background(), 2, 16)
	defer p.Shutdown(time.Second)

	out := p.Submit(func(ctx context.Context) (any, error) {
		panic("operation blew up")
	}, time.Second)
	res := <-out
	if res.Err == nil {
		t.Fatal("panicking op yielded no error")
	}

	// The pool must stay usable afterwards.
	out = p.Submit(func(ctx context.Context) (any, error) {
		return 42, nil
	}, time.Second)
	if res := <-out; res.Err != nil || res.Value != 42 {
		t.Fatalf("op after panic = (%v, %v), want 42", res.Value, res.Err)
	}
}

func TestPoolOperationErrorsAreContained(t *testing.T) {
	p := NewWorkerPool(context.Background(), 1, 16)
	defer p.Shutdown(time.Second)

	out := p.Submit(func(ctx context.Context) (any, error) {
		return nil, NewError(ConnectionFailure, context.DeadlineExceeded)
	}, time.Second)
	res := <-out
	// Already-coded errors pass through unchanged.
	if CodeOf(res.Err) != ConnectionFailure {
		t.Errorf("CodeOf = %v, want ConnectionFailure", CodeOf(res.Err))
	}
}

func TestPoolShutdownCancelsQueued(t *testing.T) {
	p := NewWorkerPool(context.Background(), 1, 16)

	block := make(chan struct{})
	inflight := p.Submit(func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	}, 0)
	queued := p.Submit(func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(block)
	}()
	p.Shutdown(time.Second)

	if res := <-queued; !IsCancelled(res.Err) {
		t.Errorf("queued op outcome = %v, want Cancelled", res.Err)
	}
	if res := <-inflight; res.Err != nil {
		t.Errorf("in-flight op outcome = %v, want drained success", res.Err)
	}
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	p := NewWorkerPool(context.Background(), 1, 16)
	p.Shutdown(time.Second)

	out := p.Submit(func(ctx context.Context) (any, error) {
		t.Error("op ran on a closed pool")
		return nil, nil
	}, time.Second)
	if res := <-out; !IsCancelled(res.Err) {
		t.Errorf("outcome = %v, want Cancelled", res.Err)
	}
}

func TestPoolShutdownGraceAbandonsStuckWork(t *testing.T) {
	p := NewWorkerPool(context.Background(), 1, 16)

	release := make(chan struct{})
	defer close(release)
	p.Submit(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, 0)

	start := time.Now()
	p.Shutdown(100 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Shutdown blocked %v on stuck work, want bounded by grace", elapsed)
	}
}
