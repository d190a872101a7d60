package loader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/auth"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing"
	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// Config configures a Session.
type Config struct {
	// ID names the session in logs and metrics. Generated when empty.
	ID string

	Dispatcher Dispatcher
	Executor   Executor
	Resolver   Resolver

	// Revision is the revision every listing is taken at. Head by default.
	Revision remote.Revision

	// Auth is entered around each listing call.
	Auth auth.Scope

	// CheckGoroutine makes Load, Close, Pending and Busy panic with
	// ErrWrongGoroutine when called off the presentation goroutine. The
	// Dispatcher must implement OnLoop() bool for the check to run.
	CheckGoroutine bool

	// OnIdle, when set, runs on the presentation goroutine every time the
	// queue drains.
	OnIdle func()
}

// request is one queued load. The key, connection and address are copied
// from the node on the presentation goroutine so the worker never reads the
// node itself.
type request struct {
	node       Node
	expander   Expander
	key        remote.NodeKey
	connection string
	address    string
}

// Session is one browser instance: a cache, a FIFO of pending loads and the
// flag saying whether a listing is running. All state is confined to the
// presentation goroutine.
type Session struct {
	cfg   Config
	ctx   context.Context
	stop  context.CancelFunc
	log   *zap.Logger
	cache *Cache

	queue    []request
	current  request
	inFlight bool
	closed   bool
}

var sessionSeq atomic.Uint64

// NewSession creates a session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("loader: Dispatcher is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("loader: Executor is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("loader: Resolver is required")
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("session-%d", sessionSeq.Add(1))
	}

	ctx, stop := context.WithCancel(logging.WithSession(context.Background(), cfg.ID))
	return &Session{
		cfg:   cfg,
		ctx:   ctx,
		stop:  stop,
		log:   logging.WithContext(ctx),
		cache: NewCache(),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Cache returns the session cache. Read it on the presentation goroutine.
func (s *Session) Cache() *Cache { return s.cache }

// Load requests the children of node. If nothing is running the listing
// starts right away, otherwise the request waits behind the ones already
// queued. A node requested twice is listed twice. Must be called on the
// presentation goroutine.
func (s *Session) Load(node Node, expander Expander) {
	s.checkGoroutine("Load")

	if s.closed {
		metrics.RecordDrop(metrics.DropClosed)
		s.log.Debug("load on closed session ignored", zap.String("node", string(node.Key())))
		return
	}
	if expander == nil {
		expander = NoopExpander
	}
	if m, ok := node.(loadingMarker); ok {
		m.SetLoading()
	}

	req := request{
		node:       node,
		expander:   expander,
		key:        node.Key(),
		connection: node.Connection(),
		address:    node.Address(),
	}

	if !s.inFlight {
		s.inFlight = true
		s.dispatch(req)
		return
	}
	s.queue = append(s.queue, req)
	metrics.SetQueueDepth(s.cfg.ID, len(s.queue))
}

// startNext dispatches the first queued request whose node is still alive,
// or marks the session idle when none is left.
func (s *Session) startNext() {
	for len(s.queue) > 0 {
		req := s.queue[0]
		s.queue[0] = request{}
		s.queue = s.queue[1:]
		metrics.SetQueueDepth(s.cfg.ID, len(s.queue))

		if req.node.IsDisposed() {
			metrics.RecordDrop(metrics.DropQueued)
			s.log.Debug("skipping disposed node", zap.String("node", string(req.key)))
			continue
		}
		s.dispatch(req)
		return
	}

	s.queue = nil
	s.current = request{}
	s.inFlight = false
	if s.cfg.OnIdle != nil {
		s.cfg.OnIdle()
	}
}

// dispatch hands req to the executor. A rejected task still completes the
// request, with a failure, so the queue keeps moving.
func (s *Session) dispatch(req request) {
	s.current = req
	s.log.Debug("fetch dispatched",
		zap.String("node", string(req.key)),
		zap.Int("queued", len(s.queue)))
	if err := s.cfg.Executor.Go(func() { s.fetch(req) }); err != nil {
		err = listing.Wrap("dispatch", req.address, err)
		s.log.Warn("executor rejected listing", zap.String("node", string(req.key)), zap.Error(err))
		result := Failure(err.Error())
		s.cfg.Dispatcher.Post(func() { s.apply(req, result) })
	}
}

// Pending returns the number of queued requests, not counting the one in
// flight.
func (s *Session) Pending() int {
	s.checkGoroutine("Pending")
	return len(s.queue)
}

// Busy reports whether a listing is in flight.
func (s *Session) Busy() bool {
	s.checkGoroutine("Busy")
	return s.inFlight
}

// Close ends the session. Queued requests are dropped and the result of a
// listing still in flight is ignored when it arrives; nodes waiting on
// either get their loading marker cleared. The cache stays readable.
func (s *Session) Close() {
	s.checkGoroutine("Close")
	if s.closed {
		return
	}
	s.closed = true

	for _, req := range s.queue {
		metrics.RecordDrop(metrics.DropClosed)
		clearLoading(req.node)
	}
	if s.inFlight {
		clearLoading(s.current.node)
	}
	s.log.Info("session closed",
		zap.Int("dropped", len(s.queue)),
		zap.Bool("in_flight", s.inFlight),
		zap.Int("cached", s.cache.Len()))

	s.queue = nil
	s.current = request{}
	s.inFlight = false
	s.stop()
	metrics.ForgetSession(s.cfg.ID)
}

func (s *Session) checkGoroutine(op string) {
	if !s.cfg.CheckGoroutine {
		return
	}
	if l, ok := s.cfg.Dispatcher.(onLooper); ok && !l.OnLoop() {
		panic(fmt.Errorf("%w: %s", ErrWrongGoroutine, op))
	}
}
