package tree

import (
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/loader"
	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// Loader queues child listings. *loader.Session implements it.
type Loader interface {
	Load(node loader.Node, expander loader.Expander)
}

// Noop leaves the tree as loaded.
var Noop = loader.NoopExpander

// ExpandPath opens the tree down to target one level at a time: each time
// a node on the way is loaded, the next path segment is requested with the
// same policy. It stops at target, at a file, or at a segment that is not
// in the listing.
func ExpandPath(l Loader, target string) loader.Expander {
	return &pathExpander{loader: l, target: remote.CleanPath(target)}
}

type pathExpander struct {
	loader Loader
	target string
}

func (e *pathExpander) OnChildrenLoaded(ln loader.Node) {
	n, ok := ln.(*Node)
	if !ok || n.state != StateLoaded || n.path == e.target {
		return
	}

	want := remote.Components(e.target)
	have := remote.Components(n.path)
	if len(have) >= len(want) {
		return
	}
	for i := range have {
		if have[i] != want[i] {
			return
		}
	}

	next := n.Child(want[len(have)])
	if next == nil || !next.IsDir() {
		logging.Debug("expand path stopped",
			zap.String("at", n.path),
			zap.String("target", e.target))
		return
	}
	e.loader.Load(next, e)
}

// ExpandAll loads every directory below the node it is first applied to,
// down to depth levels. Depth 1 lists the node's children only.
func ExpandAll(l Loader, depth int) loader.Expander {
	return &allExpander{loader: l, depth: depth, base: -1}
}

type allExpander struct {
	loader Loader
	depth  int
	base   int
}

func (e *allExpander) OnChildrenLoaded(ln loader.Node) {
	n, ok := ln.(*Node)
	if !ok || n.state != StateLoaded {
		return
	}

	level := len(remote.Components(n.path))
	if e.base < 0 {
		e.base = level
	}
	if level-e.base+1 >= e.depth {
		return
	}
	for _, c := range n.children {
		if c.IsDir() {
			e.loader.Load(c, e)
		}
	}
}
