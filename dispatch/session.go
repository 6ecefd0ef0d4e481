package dispatch

import (
	"context"
	log "log/slog"
	"sync/atomic"

	"github.com/SharedCode/kvbrowse"
)

// SessionState is the pagination state machine position.
type SessionState int32

const (
	SessionIdle SessionState = iota
	SessionPaging
	SessionExhausted
	SessionCancelled
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionPaging:
		return "paging"
	case SessionExhausted:
		return "exhausted"
	case SessionCancelled:
		return "cancelled"
	case SessionFailed:
		return "failed"
	}
	return "unknown"
}

// Mode selects how a scan session drives itself.
type Mode int

const (
	// Incremental stops after each page; the caller requests the next one
	// explicitly with More.
	Incremental Mode = iota
	// Exhaustive keeps paging until the cursor signals completion, emitting
	// progress along the way.
	Exhaustive
)

// Progress is the pagination signal: keys loaded into the tree so far, the
// last known server-side total, and whether iteration completed.
type Progress struct {
	Loaded int
	Total  int64
	Done   bool
}

// pageResult is one scan page plus the keyspace size sampled alongside it.
type pageResult struct {
	keys  []string
	next  uint64
	total int64
}

// Session is one logical, cancellable pagination run over a keyspace scan.
// Its cursor is private to the session and never shared. Page N+1 is only
// submitted after page N's merge completes, which is what guarantees strict
// page ordering.
type Session struct {
	c          *Coordinator
	pattern    string
	pageSize   int64
	mode       Mode
	onProgress func(Progress)
	onFailure  FailHandler

	state atomic.Int32

	// Coordinator-goroutine-only state.
	cursor      uint64
	current     kvbrowse.UUID
	sinceSignal int
	reported    bool
}

// StartScan begins a pagination session over keys matching pattern. A
// pageSize of 0 uses the configured default. Callbacks run on the
// coordinator goroutine.
func (c *Coordinator) StartScan(pattern string, pageSize int64, mode Mode, onProgress func(Progress), onFailure FailHandler) *Session {
	if pattern == "" {
		pattern = "*"
	}
	if pageSize <= 0 {
		pageSize = c.cfg.ScanPageSize
	}
	s := &Session{
		c:          c,
		pattern:    pattern,
		pageSize:   pageSize,
		mode:       mode,
		onProgress: onProgress,
		onFailure:  onFailure,
	}
	c.do(func() {
		c.sessions[s] = struct{}{}
		s.state.Store(int32(SessionPaging))
		s.requestPage()
	})
	return s
}

// State returns the session's current state machine position.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// More requests the next page. Valid while Paging with no page in flight;
// anything else is a no-op, which keeps page ordering strict by
// construction.
func (s *Session) More() {
	s.c.do(func() {
		if s.State() != SessionPaging || !s.current.IsNil() {
			return
		}
		s.requestPage()
	})
}

// Cancel ends the session. A page already in flight is discarded on arrival
// without merging.
func (s *Session) Cancel() {
	s.c.do(func() {
		if s.State() != SessionPaging {
			return
		}
		if !s.current.IsNil() {
			delete(s.c.pending, s.current)
			s.current = kvbrowse.NilUUID
		}
		s.state.Store(int32(SessionCancelled))
		s.c.dropSession(s)
		log.Debug("scan session cancelled", "pattern", s.pattern)
	})
}

// requestPage submits the next scan against the session's cursor.
// Coordinator goroutine only.
func (s *Session) requestPage() {
	cursor := s.cursor
	pattern := s.pattern
	count := s.pageSize
	client := s.c.client

	id := kvbrowse.NewUUID()
	s.current = id
	s.c.launch(id, func(ctx context.Context) (any, error) {
		keys, next, err := client.Scan(ctx, cursor, pattern, count)
		if err != nil {
			return nil, err
		}
		total, err := client.DBSize(ctx)
		if err != nil {
			return nil, err
		}
		return pageResult{keys: keys, next: next, total: total}, nil
	}, s.onPage, s.onError)
}

// onPage merges one page into the tree and decides what happens next.
// Runs on the coordinator goroutine; a cancelled session never reaches here
// because its request id was already invalidated.
func (s *Session) onPage(v any) {
	s.current = kvbrowse.NilUUID
	if s.State() != SessionPaging {
		return
	}
	pr, ok := v.(pageResult)
	if !ok {
		s.fail(kvbrowse.NewError(kvbrowse.ProtocolFailure, errBadPage))
		return
	}

	tree := s.c.tree
	every := s.c.cfg.ProgressEvery
	for _, key := range pr.keys {
		if tree.Observe(key) {
			s.sinceSignal++
			if s.sinceSignal >= every {
				s.sinceSignal = 0
				s.emit(pr.total, false)
			}
		}
	}
	tree.SetKnownTotal(pr.total)
	s.cursor = pr.next

	if pr.next == 0 {
		s.state.Store(int32(SessionExhausted))
		s.c.dropSession(s)
		s.emit(pr.total, true)
		return
	}
	s.emit(pr.total, false)
	// A page with zero new keys but a live cursor means heavy concurrent
	// deletion, not completion: keep paging.
	if s.mode == Exhaustive {
		s.requestPage()
	}
}

func (s *Session) onError(err error) {
	s.current = kvbrowse.NilUUID
	s.fail(err)
}

// fail ends the session in Failed, reporting exactly once. Coordinator
// goroutine only.
func (s *Session) fail(err error) {
	if s.State() != SessionPaging {
		return
	}
	s.state.Store(int32(SessionFailed))
	s.c.dropSession(s)
	if !s.reported {
		s.reported = true
		log.Warn("scan session failed", "pattern", s.pattern, "err", err)
		if s.onFailure != nil {
			s.onFailure(err)
		}
	}
}

func (s *Session) emit(total int64, done bool) {
	if s.onProgress == nil {
		return
	}
	s.onProgress(Progress{Loaded: s.c.tree.Len(), Total: total, Done: done})
}
