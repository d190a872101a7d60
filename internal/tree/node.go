// Package tree is the in-memory browser tree the loader fills in: nodes
// with loading, loaded and error states, disposal, lookup helpers, plain
// text rendering and the expansion policies used after a load.
package tree

import (
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// State is a node's load state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Node is one element of the browser tree. Nodes are not safe for
// concurrent use; the presentation goroutine owns them.
type Node struct {
	connection string
	path       string
	entry      remote.Entry
	parent     *Node

	children []*Node
	state    State
	before   State // state to restore if a load is abandoned
	errMsg   string
	disposed bool
}

// NewRoot creates the top node of a tree for path on connection.
func NewRoot(connection, path string) *Node {
	path = remote.CleanPath(path)
	name := "/"
	if c := remote.Components(path); len(c) > 0 {
		name = c[len(c)-1]
	}
	return &Node{
		connection: connection,
		path:       path,
		entry:      remote.Entry{Name: name, Kind: remote.KindDir},
	}
}

func (n *Node) Key() remote.NodeKey { return remote.KeyFor(n.connection, n.path) }
func (n *Node) Connection() string { return n.connection }
func (n *Node) Address() string { return n.path }
func (n *Node) IsDisposed() bool { return n.disposed }

// Name returns the last path segment, or "/" for the root.
func (n *Node) Name() string { return n.entry.Name }

// Entry returns the listing entry the node was created from.
func (n *Node) Entry() remote.Entry { return n.entry }

// IsDir reports whether the node can be listed.
func (n *Node) IsDir() bool { return n.entry.IsDir() }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the current children in listing order.
func (n *Node) Children() []*Node { return n.children }

// State returns the load state.
func (n *Node) State() State { return n.state }

// Err returns the message of the last failed load.
func (n *Node) Err() string { return n.errMsg }

// SetLoading marks the node as waiting for its children.
func (n *Node) SetLoading() {
	if n.state != StateLoading {
		n.before = n.state
	}
	n.state = StateLoading
}

// ClearLoading puts back the state the node had before SetLoading, unless a
// result has arrived since.
func (n *Node) ClearLoading() {
	if n.state == StateLoading {
		n.state = n.before
	}
}

// SetChildren replaces the children with entries. Existing children with
// the same name and kind are kept, with their own subtrees, so a reload
// does not collapse what was open. Children that disappeared are disposed.
func (n *Node) SetChildren(entries []remote.Entry) {
	old := make(map[remote.Entry]*Node, len(n.children))
	for _, c := range n.children {
		old[identity(c.entry)] = c
	}

	next := make([]*Node, 0, len(entries))
	for _, e := range entries {
		id := identity(e)
		if c, ok := old[id]; ok {
			c.entry = e
			delete(old, id)
			next = append(next, c)
			continue
		}
		next = append(next, &Node{
			connection: n.connection,
			path:       remote.ChildPath(n.path, e.Name),
			entry:      e,
			parent:     n,
		})
	}
	for _, c := range old {
		c.Dispose()
	}

	n.children = next
	n.state = StateLoaded
	n.errMsg = ""
}

// SetError replaces the children with an error marker.
func (n *Node) SetError(message string) {
	for _, c := range n.children {
		c.Dispose()
	}
	n.children = nil
	n.state = StateError
	n.errMsg = message
}

// Collapse disposes the children and returns the node to unloaded. A load
// still running for any of them is dropped when it finishes.
func (n *Node) Collapse() {
	for _, c := range n.children {
		c.Dispose()
	}
	n.children = nil
	n.state = StateUnloaded
	n.errMsg = ""
}

// Dispose marks the node and its whole subtree as gone.
func (n *Node) Dispose() {
	n.disposed = true
	for _, c := range n.children {
		c.Dispose()
	}
}

// identity is the part of an entry that makes two listings refer to the
// same child.
func identity(e remote.Entry) remote.Entry {
	return remote.Entry{Name: e.Name, Kind: e.Kind}
}
