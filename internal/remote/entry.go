// Package remote contains the data types shared by the listing backends and
// the loader: directory entries, their total order, node keys and paths.
package remote

import (
	"cmp"
	"errors"
	"path"
	"slices"
	"strings"
	"time"
)

// Kind distinguishes directories from files. Directories sort first.
type Kind int

const (
	KindDir Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Entry is one child item returned by a directory listing.
type Entry struct {
	Name     string    `json:"name"`
	Kind     Kind      `json:"kind"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
	Hash     string    `json:"hash,omitempty"`
	Revision string    `json:"revision,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Kind == KindDir }

// Compare orders entries by name, then kind.
func Compare(a, b Entry) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// EntrySet collects entries in the order defined by Compare, regardless of
// the order they are added in. An entry equal to an existing one under
// Compare replaces it.
type EntrySet struct {
	entries []Entry
}

// Add inserts e at its sorted position.
func (s *EntrySet) Add(e Entry) {
	i, found := slices.BinarySearchFunc(s.entries, e, Compare)
	if found {
		s.entries[i] = e
		return
	}
	s.entries = slices.Insert(s.entries, i, e)
}

// Len returns the number of entries collected.
func (s *EntrySet) Len() int { return len(s.entries) }

// Entries returns a copy of the ordered entries.
func (s *EntrySet) Entries() []Entry {
	return slices.Clone(s.entries)
}

// Revision names the point in history a listing is taken at.
type Revision string

// Head is the latest known revision.
const Head Revision = ""

// ErrRevisionUnsupported is returned by backends without history when asked
// for anything but the head revision.
var ErrRevisionUnsupported = errors.New("backend only lists the latest revision")

// IsHead reports whether r addresses the latest revision.
func (r Revision) IsHead() bool {
	return r == Head || strings.EqualFold(string(r), "HEAD")
}

// NodeKey is the stable identity of a browsable node: its connection and
// canonical path. Equal keys address the same cache slot.
type NodeKey string

// KeyFor builds the NodeKey for a path on a connection.
func KeyFor(connection, p string) NodeKey {
	return NodeKey(connection + ":" + CleanPath(p))
}

// CleanPath canonicalizes a remote path to a rooted, slash-separated form.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// ChildPath constructs a child path from parent + name.
func ChildPath(parentPath, name string) string {
	parentPath = CleanPath(parentPath)
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// Components splits a canonical path into its segments. The root has none.
func Components(p string) []string {
	p = strings.TrimPrefix(CleanPath(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
