package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fruitsalade/fruitsalade/browser/internal/listing"
	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/presenter"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

const waitTimeout = 2 * time.Second

// testNode is only touched on the loop goroutine.
type testNode struct {
	path     string
	disposed bool
	loading  bool
	children []remote.Entry
	errMsg   string
	conn     string
}

func newTestNode(path string) *testNode { return &testNode{path: path, conn: "test"} }

func (n *testNode) Key() remote.NodeKey { return remote.KeyFor(n.conn, n.path) }
func (n *testNode) Connection() string { return n.conn }
func (n *testNode) Address() string { return n.path }
func (n *testNode) IsDisposed() bool { return n.disposed }
func (n *testNode) SetLoading() { n.loading = true }
func (n *testNode) ClearLoading() { n.loading = false }
func (n *testNode) SetChildren(entries []remote.Entry) { n.children, n.errMsg, n.loading = entries, "", false }
func (n *testNode) SetError(message string) { n.children, n.errMsg, n.loading = nil, message, false }

type outcome struct {
	entries []remote.Entry
	err     error
}

type call struct {
	address string
	reply   chan outcome
}

// gateService hands every List call to the test and blocks until the test
// replies.
type gateService struct {
	calls        chan call
	active, peak atomic.Int32

	mu     sync.Mutex
	events *[]string
}

func (g *gateService) List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		old := g.peak.Load()
		if n <= old || g.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if g.events != nil {
		g.mu.Lock()
		*g.events = append(*g.events, "list "+address)
		g.mu.Unlock()
	}

	c := call{address: address, reply: make(chan outcome, 1)}
	g.calls <- c
	select {
	case o := <-c.reply:
		for _, e := range o.entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateService) Type() string { return "gate" }
func (g *gateService) Close() error { return nil }

type harness struct {
	t       *testing.T
	loop    *presenter.Loop
	pool    *presenter.Pool
	svc     *gateService
	session *Session
	idle    chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loop := presenter.NewLoop()
	loop.Start()
	pool := presenter.NewPool(4)
	svc := &gateService{calls: make(chan call, 16)}
	reg := listing.NewRegistry()
	reg.Register("test", svc)

	h := &harness{t: t, loop: loop, pool: pool, svc: svc, idle: make(chan struct{}, 16)}
	s, err := NewSession(Config{
		Dispatcher:     loop,
		Executor:       pool,
		Resolver:       reg,
		CheckGoroutine: true,
		OnIdle:         func() { h.idle <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.session = s

	t.Cleanup(func() {
		loop.Call(context.Background(), s.Close)
		pool.Close()
		loop.Stop()
		reg.Close()
	})
	return h
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.loop.Call(ctx, fn); err != nil {
		h.t.Fatalf("loop call: %v", err)
	}
}

func (h *harness) load(nodes ...*testNode) {
	h.t.Helper()
	h.do(func() {
		for _, n := range nodes {
			h.session.Load(n, nil)
		}
	})
}

func (h *harness) next() call {
	h.t.Helper()
	select {
	case c := <-h.svc.calls:
		return c
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a listing call")
		return call{}
	}
}

func (h *harness) expectNoCall() {
	h.t.Helper()
	select {
	case c := <-h.svc.calls:
		h.t.Fatalf("unexpected listing of %s", c.address)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) waitIdle() {
	h.t.Helper()
	select {
	case <-h.idle:
	case <-time.After(waitTimeout):
		h.t.Fatal("session never went idle")
	}
}

func (h *harness) cached(n *testNode) (Result, bool) {
	var (
		r  Result
		ok bool
	)
	h.do(func() { r, ok = h.session.Cache().Get(n.Key()) })
	return r, ok
}

func file(name string) remote.Entry { return remote.Entry{Name: name, Kind: remote.KindFile} }
func dir(name string) remote.Entry { return remote.Entry{Name: name, Kind: remote.KindDir} }

func TestLoadSortsEntries(t *testing.T) {
	h := newHarness(t)
	a := newTestNode("/a")

	h.load(a)
	var loading bool
	h.do(func() { loading = a.loading })
	if !loading {
		t.Error("node should be loading while its listing runs")
	}

	c := h.next()
	if c.address != "/a" {
		t.Fatalf("listed %s, want /a", c.address)
	}
	c.reply <- outcome{entries: []remote.Entry{file("b"), file("a"), dir("a")}}
	h.waitIdle()

	r, ok := h.cached(a)
	if !ok || r.Kind() != KindChildren {
		t.Fatalf("cache record = %v, %v; want children", r.Kind(), ok)
	}
	want := []remote.Entry{dir("a"), file("a"), file("b")}
	got := r.Entries()
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].Kind != want[i].Kind {
			t.Errorf("entry %d = %s(%s), want %s(%s)", i, got[i].Name, got[i].Kind, want[i].Name, want[i].Kind)
		}
	}

	h.do(func() {
		if len(a.children) != 3 || a.loading {
			t.Errorf("node children = %v, loading = %v", a.children, a.loading)
		}
	})
}

func TestOneFetchAtATimeInOrder(t *testing.T) {
	h := newHarness(t)
	nodes := []*testNode{newTestNode("/a"), newTestNode("/b"), newTestNode("/c"), newTestNode("/a")}

	var applied []string
	h.do(func() {
		for _, n := range nodes {
			h.session.Load(n, ExpanderFunc(func(n Node) { applied = append(applied, n.Address()) }))
		}
		if h.session.Pending() != 3 || !h.session.Busy() {
			t.Errorf("pending = %d, busy = %v; want 3, true", h.session.Pending(), h.session.Busy())
		}
	})

	for _, want := range []string{"/a", "/b", "/c", "/a"} {
		c := h.next()
		if c.address != want {
			t.Fatalf("listed %s, want %s", c.address, want)
		}
		h.expectNoCall()
		c.reply <- outcome{entries: []remote.Entry{file("x")}}
	}
	h.waitIdle()

	if p := h.svc.peak.Load(); p != 1 {
		t.Errorf("peak concurrent listings = %d, want 1", p)
	}
	h.do(func() {
		if len(applied) != 4 || applied[0] != "/a" || applied[1] != "/b" || applied[2] != "/c" || applied[3] != "/a" {
			t.Errorf("applied order = %v", applied)
		}
		if h.session.Busy() || h.session.Pending() != 0 {
			t.Error("session should be idle")
		}
	})
}

func TestFailureCachedThenOverwritten(t *testing.T) {
	h := newHarness(t)
	a := newTestNode("/a")

	h.load(a)
	h.next().reply <- outcome{err: errors.New("timeout")}
	h.waitIdle()

	r, ok := h.cached(a)
	if !ok || r.Kind() != KindError {
		t.Fatalf("cache record = %v, %v; want error", r.Kind(), ok)
	}
	if r.Message() != "timeout" {
		t.Errorf("message = %q, want timeout", r.Message())
	}
	if r.Entries() != nil {
		t.Error("error record should carry no children")
	}
	h.do(func() {
		if a.errMsg != "timeout" {
			t.Errorf("node error = %q", a.errMsg)
		}
	})

	h.load(a)
	h.next().reply <- outcome{entries: []remote.Entry{file("ok")}}
	h.waitIdle()

	r, _ = h.cached(a)
	if r.Kind() != KindChildren || len(r.Entries()) != 1 {
		t.Errorf("record after reload = %v %v, want one child", r.Kind(), r.Entries())
	}
	h.do(func() {
		if a.errMsg != "" || len(a.children) != 1 {
			t.Errorf("node after reload: err %q children %v", a.errMsg, a.children)
		}
	})
}

func TestDisposedBeforeTurnIsSkipped(t *testing.T) {
	h := newHarness(t)
	a, b, c := newTestNode("/a"), newTestNode("/b"), newTestNode("/c")
	before := testutil.ToFloat64(metrics.DroppedRequests(metrics.DropQueued))

	h.load(a, b, c)
	first := h.next()
	h.do(func() { b.disposed = true })
	first.reply <- outcome{}

	second := h.next()
	if second.address != "/c" {
		t.Fatalf("listed %s, want /c", second.address)
	}
	second.reply <- outcome{}
	h.waitIdle()

	if _, ok := h.cached(b); ok {
		t.Error("disposed node should not be cached")
	}
	if _, ok := h.cached(c); !ok {
		t.Error("queue should continue past the disposed node")
	}
	if got := testutil.ToFloat64(metrics.DroppedRequests(metrics.DropQueued)) - before; got != 1 {
		t.Errorf("queued drops = %v, want 1", got)
	}
}

func TestDisposedAfterDispatchDropsResult(t *testing.T) {
	h := newHarness(t)
	a, b := newTestNode("/a"), newTestNode("/b")
	before := testutil.ToFloat64(metrics.DroppedRequests(metrics.DropResult))

	var expanded []string
	exp := ExpanderFunc(func(n Node) { expanded = append(expanded, n.Address()) })
	h.do(func() {
		h.session.Load(a, exp)
		h.session.Load(b, exp)
	})

	c := h.next()
	h.do(func() { a.disposed = true })
	c.reply <- outcome{entries: []remote.Entry{file("x")}}

	h.next().reply <- outcome{}
	h.waitIdle()

	if _, ok := h.cached(a); ok {
		t.Error("result for a disposed node must not be cached")
	}
	h.do(func() {
		if a.children != nil {
			t.Error("disposed node must not be updated")
		}
		if len(expanded) != 1 || expanded[0] != "/b" {
			t.Errorf("expander ran for %v, want only /b", expanded)
		}
	})
	if got := testutil.ToFloat64(metrics.DroppedRequests(metrics.DropResult)) - before; got != 1 {
		t.Errorf("result drops = %v, want 1", got)
	}
}

func TestSecondLoadWaitsForFirstResult(t *testing.T) {
	h := newHarness(t)
	var events []string
	h.svc.events = &events

	a, b := newTestNode("/a"), newTestNode("/b")
	record := func(s string) {
		h.svc.mu.Lock()
		events = append(events, s)
		h.svc.mu.Unlock()
	}
	h.do(func() {
		h.session.Load(a, ExpanderFunc(func(Node) { record("applied /a") }))
		h.session.Load(b, ExpanderFunc(func(Node) { record("applied /b") }))
	})

	ca := h.next()
	h.expectNoCall()
	ca.reply <- outcome{entries: []remote.Entry{file("1")}}
	h.next().reply <- outcome{entries: []remote.Entry{file("2")}}
	h.waitIdle()

	h.svc.mu.Lock()
	got := append([]string(nil), events...)
	h.svc.mu.Unlock()
	want := []string{"list /a", "applied /a", "list /b", "applied /b"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	h.do(func() {
		if h.session.Cache().Len() != 2 {
			t.Errorf("cache has %v, want both nodes", h.session.Cache().Keys())
		}
	})
}

func TestExpanderMayLoad(t *testing.T) {
	h := newHarness(t)
	root, child := newTestNode("/"), newTestNode("/docs")

	h.do(func() {
		h.session.Load(root, ExpanderFunc(func(Node) { h.session.Load(child, nil) }))
	})
	h.next().reply <- outcome{entries: []remote.Entry{dir("docs")}}
	c := h.next()
	if c.address != "/docs" {
		t.Fatalf("listed %s, want /docs", c.address)
	}
	c.reply <- outcome{}
	h.waitIdle()

	if _, ok := h.cached(child); !ok {
		t.Error("child loaded from the expander should be cached")
	}
}

func TestCloseDropsQueueAndResult(t *testing.T) {
	h := newHarness(t)
	a, b, c := newTestNode("/a"), newTestNode("/b"), newTestNode("/c")
	before := testutil.ToFloat64(metrics.DroppedRequests(metrics.DropClosed))

	h.load(a, b)
	first := h.next()
	h.do(h.session.Close)
	first.reply <- outcome{entries: []remote.Entry{file("x")}}

	// The worker posts its result before the pool lets go of it.
	h.pool.Close()
	h.load(c)
	h.expectNoCall()

	h.do(func() {
		if h.session.Cache().Len() != 0 {
			t.Error("closed session must not cache late results")
		}
		if a.children != nil {
			t.Error("closed session must not update nodes")
		}
		if h.session.Busy() || h.session.Pending() != 0 {
			t.Error("closed session should be idle and empty")
		}
		if a.loading || b.loading {
			t.Errorf("abandoned nodes still loading: a=%v b=%v", a.loading, b.loading)
		}
	})
	// b at close, a's late result, c loaded after close.
	if got := testutil.ToFloat64(metrics.DroppedRequests(metrics.DropClosed)) - before; got != 3 {
		t.Errorf("closed drops = %v, want 3", got)
	}
}

func TestLoadAfterExecutorClosed(t *testing.T) {
	h := newHarness(t)
	a, b := newTestNode("/a"), newTestNode("/b")

	var expanded []string
	exp := ExpanderFunc(func(n Node) { expanded = append(expanded, n.Address()) })

	h.pool.Close()
	h.do(func() {
		h.session.Load(a, exp)
		h.session.Load(b, exp)
	})
	h.waitIdle()
	h.expectNoCall()

	for _, n := range []*testNode{a, b} {
		r, ok := h.cached(n)
		if !ok || r.Kind() != KindError || r.Message() != "worker pool closed" {
			t.Errorf("%s: record = %v %q, %v; want executor error", n.path, r.Kind(), r.Message(), ok)
		}
	}
	h.do(func() {
		if h.session.Busy() || h.session.Pending() != 0 {
			t.Errorf("busy = %v, pending = %d; want idle", h.session.Busy(), h.session.Pending())
		}
		if len(expanded) != 2 || a.errMsg == "" || a.loading {
			t.Errorf("expanded %v, a.err %q, a.loading %v", expanded, a.errMsg, a.loading)
		}
	})
}

func TestUnknownConnectionIsAnError(t *testing.T) {
	h := newHarness(t)
	n := &testNode{path: "/x", conn: "nope"}

	h.load(n)
	h.waitIdle()

	r, ok := h.cached(n)
	if !ok || r.Kind() != KindError {
		t.Fatalf("record = %v, %v; want error", r.Kind(), ok)
	}
	if r.Message() != `no listing service for connection "nope"` {
		t.Errorf("message = %q", r.Message())
	}
}

type panicService struct{}

func (panicService) List(context.Context, string, remote.Revision, func(remote.Entry) error) error {
	panic("boom")
}
func (panicService) Type() string { return "panic" }
func (panicService) Close() error { return nil }

func TestPanickingBackendBecomesError(t *testing.T) {
	h := newHarness(t)
	reg := listing.NewRegistry()
	reg.Register("test", panicService{})
	h.session.cfg.Resolver = reg

	n := newTestNode("/x")
	h.load(n)
	h.waitIdle()

	r, _ := h.cached(n)
	if r.Kind() != KindError || r.Message() != "listing failed: boom" {
		t.Errorf("record = %v %q", r.Kind(), r.Message())
	}
}

func TestLoadOffLoopPanics(t *testing.T) {
	h := newHarness(t)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrWrongGoroutine) {
			t.Errorf("recovered %v, want ErrWrongGoroutine", r)
		}
	}()
	h.session.Load(newTestNode("/a"), nil)
}

func TestNewSessionValidates(t *testing.T) {
	loop := presenter.NewLoop()
	pool := presenter.NewPool(1)
	defer pool.Close()
	reg := listing.NewRegistry()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no dispatcher", Config{Executor: pool, Resolver: reg}},
		{"no executor", Config{Dispatcher: loop, Resolver: reg}},
		{"no resolver", Config{Dispatcher: loop, Executor: pool}},
	}
	for _, tt := range tests {
		if _, err := NewSession(tt.cfg); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	s, err := NewSession(Config{Dispatcher: loop, Executor: pool, Resolver: reg})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.ID() == "" {
		t.Error("session id should be generated")
	}
}
