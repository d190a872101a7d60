package tree

import (
	"fmt"
	"io"
	"strings"

	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// FindByPath resolves a path below root, following loaded children only.
func FindByPath(root *Node, path string) *Node {
	if root == nil {
		return nil
	}
	path = remote.CleanPath(path)
	if root.path == path {
		return root
	}
	if !strings.HasPrefix(path, strings.TrimSuffix(root.path, "/")+"/") {
		return nil
	}
	rest := remote.Components(path)[len(remote.Components(root.path)):]

	node := root
	for _, name := range rest {
		node = node.Child(name)
		if node == nil {
			return nil
		}
	}
	return node
}

// Child returns the child called name, preferring a directory when a file
// of the same name exists too.
func (n *Node) Child(name string) *Node {
	var match *Node
	for _, c := range n.children {
		if c.entry.Name != name {
			continue
		}
		if c.IsDir() {
			return c
		}
		if match == nil {
			match = c
		}
	}
	return match
}

// Walk visits root and its loaded descendants depth first, in listing
// order. Returning false from fn skips the node's children.
func Walk(root *Node, fn func(n *Node, depth int) bool) {
	if root == nil {
		return
	}
	walk(root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.children {
		walk(c, depth+1, fn)
	}
}

// CountNodes counts root and all its loaded descendants.
func CountNodes(root *Node) int {
	count := 0
	Walk(root, func(*Node, int) bool {
		count++
		return true
	})
	return count
}

// Render writes an indented text view of the tree.
func Render(w io.Writer, root *Node) error {
	var err error
	Walk(root, func(n *Node, depth int) bool {
		if err != nil {
			return false
		}
		_, err = fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), label(n))
		return true
	})
	return err
}

func label(n *Node) string {
	name := n.Name()
	if n.IsDir() && name != "/" {
		name += "/"
	}
	switch n.state {
	case StateLoading:
		return name + " (loading)"
	case StateError:
		return name + " [error: " + n.errMsg + "]"
	case StateLoaded:
		if len(n.children) == 0 {
			return name + " (empty)"
		}
	}
	if !n.IsDir() {
		return fmt.Sprintf("%s  %d", name, n.entry.Size)
	}
	return name
}
