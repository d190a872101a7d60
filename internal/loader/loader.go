// Package loader fetches the children of remote directory nodes for a tree
// browser. Each Session runs at most one listing at a time, in request
// order, and applies results on a single presentation goroutine so the
// cache and the nodes never need locks.
package loader

import (
	"errors"

	"github.com/fruitsalade/fruitsalade/browser/internal/listing"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// ErrWrongGoroutine is the panic value raised when a Session method that
// belongs to the presentation goroutine is called from elsewhere.
var ErrWrongGoroutine = errors.New("loader: called off the presentation goroutine")

// Node is a presentation-tree element for one remote directory. Nodes are
// owned by the presentation goroutine; the loader only calls these methods
// there.
type Node interface {
	Key() remote.NodeKey
	Connection() string
	Address() string
	IsDisposed() bool
	SetChildren(entries []remote.Entry)
	SetError(message string)
}

// loadingMarker is implemented by nodes that show a loading state while
// their request waits or runs. ClearLoading is called when the request is
// abandoned without a result.
type loadingMarker interface {
	SetLoading()
	ClearLoading()
}

func clearLoading(n Node) {
	if m, ok := n.(loadingMarker); ok {
		m.ClearLoading()
	}
}

// Expander decides what to open next once a node's children are in.
// It runs on the presentation goroutine and may call Session.Load. It is
// called after failed loads too, once SetError has run on the node.
type Expander interface {
	OnChildrenLoaded(node Node)
}

// ExpanderFunc adapts a function to Expander.
type ExpanderFunc func(node Node)

func (f ExpanderFunc) OnChildrenLoaded(node Node) { f(node) }

// NoopExpander does nothing after a load.
var NoopExpander Expander = ExpanderFunc(func(Node) {})

// Dispatcher schedules callbacks on the presentation goroutine in the order
// they are posted.
type Dispatcher interface {
	Post(fn func())
}

// Executor runs tasks on background goroutines, in no particular order.
// A nil error means task will run; an executor that cannot take the task
// must say so.
type Executor interface {
	Go(task func()) error
}

// Resolver finds the listing service serving a connection.
type Resolver interface {
	Resolve(connection string) (listing.Service, error)
}

// onLooper is implemented by dispatchers that can tell whether the caller
// is on their goroutine.
type onLooper interface {
	OnLoop() bool
}
