package loader

import (
	"fmt"
	"slices"

	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// ResultKind tags a Result.
type ResultKind int

const (
	KindChildren ResultKind = iota + 1
	KindError
)

func (k ResultKind) String() string {
	switch k {
	case KindChildren:
		return "children"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of one listing: either the ordered children of a
// node or the message of the failure. The zero Result is invalid.
type Result struct {
	kind    ResultKind
	entries []remote.Entry
	message string
}

// Children returns a successful Result holding entries, which must already
// be in remote.Compare order.
func Children(entries []remote.Entry) Result {
	if entries == nil {
		entries = []remote.Entry{}
	}
	return Result{kind: KindChildren, entries: entries}
}

// Failure returns an error Result carrying message.
func Failure(message string) Result {
	return Result{kind: KindError, message: message}
}

// Kind reports which variant r holds.
func (r Result) Kind() ResultKind { return r.kind }

// Entries returns a copy of the children, or nil for an error Result.
func (r Result) Entries() []remote.Entry {
	if r.kind != KindChildren {
		return nil
	}
	return slices.Clone(r.entries)
}

// Message returns the failure message, or "" for a children Result.
func (r Result) Message() string {
	if r.kind != KindError {
		return ""
	}
	return r.message
}

// Match calls exactly one of the two funcs depending on the variant.
func (r Result) Match(children func([]remote.Entry), failure func(string)) {
	switch r.kind {
	case KindChildren:
		children(r.Entries())
	case KindError:
		failure(r.message)
	default:
		panic(fmt.Sprintf("loader: invalid result kind %v", r.kind))
	}
}
