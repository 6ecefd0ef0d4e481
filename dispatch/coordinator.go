// Package dispatch is the single-threaded coordination layer between a
// GUI-like foreground and the remote store's blocking client calls. A
// Coordinator owns the key-tree cache as its sole mutator, hands operations
// to the worker pool, drains their outcomes on its own goroutine, and fans
// results out to registered callbacks. Pagination sessions (session.go) ride
// on top of it to load the keyspace incrementally or exhaustively.
package dispatch

import (
	"context"
	"errors"
	log "log/slog"

	"github.com/SharedCode/kvbrowse"
	"github.com/SharedCode/kvbrowse/keytree"
)

// Handler consumes a successful outcome on the coordinator goroutine; it
// must be cheap and non-blocking (schedule redraws asynchronously).
type Handler func(value any)

// FailHandler consumes a failure outcome on the coordinator goroutine.
type FailHandler func(err error)

type request struct {
	onSuccess Handler
	onFailure FailHandler
}

type delivery struct {
	id  kvbrowse.UUID
	res kvbrowse.TaskResult
}

// Coordinator is the engine's request coordinator. All cache mutation and
// callback dispatch happen on its loop goroutine; every public method is
// safe to call from any goroutine and never blocks on remote work.
type Coordinator struct {
	cfg    kvbrowse.Config
	client kvbrowse.StoreClient
	pool   *kvbrowse.WorkerPool
	tree   *keytree.Tree

	ctx    context.Context
	cancel context.CancelFunc

	inbox    chan delivery
	acts     chan func()
	loopDone chan struct{}

	// Loop-goroutine-only state.
	pending  map[kvbrowse.UUID]request
	sessions map[*Session]struct{}
}

// New builds a Coordinator over the given store client. Call Start before
// submitting and Close when done.
func New(cfg kvbrowse.Config, client kvbrowse.StoreClient) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		client:   client,
		pool:     kvbrowse.NewWorkerPool(ctx, cfg.Workers, cfg.QueueDepth),
		tree:     keytree.New(cfg.Delimiter),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan delivery, cfg.Workers+cfg.QueueDepth),
		acts:     make(chan func(), 64),
		loopDone: make(chan struct{}),
		pending:  make(map[kvbrowse.UUID]request),
		sessions: make(map[*Session]struct{}),
	}
}

// Start launches the coordination loop.
func (c *Coordinator) Start() {
	go c.loop()
}

// Close drains in-flight work within the configured grace period, cancels
// the rest, and stops the loop. Results arriving after teardown are
// discarded.
func (c *Coordinator) Close() {
	c.pool.Shutdown(c.cfg.ShutdownGrace)
	c.cancel()
	<-c.loopDone
}

// Tree exposes the key-tree cache. Mutations go through the coordinator;
// consumers read via Snapshot or the read accessors.
func (c *Coordinator) Tree() *keytree.Tree {
	return c.tree
}

// errConnectionLost ends sessions when the connection manager reports the
// live connection gone.
var errConnectionLost = errors.New("connection to remote store lost")

// WatchConnection fails active pagination sessions when the connection
// manager signals loss of the live connection.
func (c *Coordinator) WatchConnection(m kvbrowse.ConnMonitor) {
	m.OnDown(func() {
		c.do(func() {
			c.failSessions(kvbrowse.NewError(kvbrowse.ConnectionFailure, errConnectionLost))
		})
	})
}

// Submit queues an arbitrary remote operation and returns its request id
// immediately. Exactly one of onSuccess/onFailure runs later on the
// coordinator goroutine, unless the request is cancelled first; cancelled
// outcomes are silent by design.
func (c *Coordinator) Submit(op func(context.Context) (any, error), onSuccess Handler, onFailure FailHandler) kvbrowse.UUID {
	id := kvbrowse.NewUUID()
	c.do(func() {
		c.launch(id, op, onSuccess, onFailure)
	})
	return id
}

// Cancel invalidates a request. Its in-flight result is dropped on arrival,
// never partially applied.
func (c *Coordinator) Cancel(id kvbrowse.UUID) {
	c.do(func() {
		delete(c.pending, id)
	})
}

// launch registers the request and hands its work to the pool. Loop
// goroutine only.
func (c *Coordinator) launch(id kvbrowse.UUID, op func(context.Context) (any, error), onSuccess Handler, onFailure FailHandler) {
	c.pending[id] = request{onSuccess: onSuccess, onFailure: onFailure}
	out := c.pool.Submit(op, c.cfg.OpTimeout)
	go func() {
		res := <-out
		select {
		case c.inbox <- delivery{id: id, res: res}:
		case <-c.ctx.Done():
		}
	}()
}

// do runs fn on the coordinator goroutine. After teardown, actions are
// silently dropped.
func (c *Coordinator) do(fn func()) {
	select {
	case c.acts <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.acts:
			fn()
		case d := <-c.inbox:
			c.deliver(d)
		}
	}
}

// deliver routes one outcome to its originating request, discarding stale
// and cancelled deliveries by id.
func (c *Coordinator) deliver(d delivery) {
	req, ok := c.pending[d.id]
	if !ok {
		log.Debug("discarding stale result", "request", d.id.String())
		return
	}
	delete(c.pending, d.id)

	if d.res.Err != nil {
		if kvbrowse.IsCancelled(d.res.Err) {
			// Intentional supersede, not a problem.
			return
		}
		if kvbrowse.CodeOf(d.res.Err) == kvbrowse.CacheConsistency {
			log.Error("key-tree invariant violated, resetting cache", "err", d.res.Err)
			c.tree.Reset()
		}
		if req.onFailure != nil {
			req.onFailure(d.res.Err)
		}
		return
	}
	if req.onSuccess != nil {
		req.onSuccess(d.res.Value)
	}
}

// failSessions moves every active session to Failed. Loop goroutine only.
func (c *Coordinator) failSessions(err error) {
	for s := range c.sessions {
		s.fail(err)
	}
}

// dropSession forgets a finished session. Loop goroutine only.
func (c *Coordinator) dropSession(s *Session) {
	delete(c.sessions, s)
}
