// Package listing defines the Service interface for remote directory
// listings and routes connections to their configured backends.
package listing

import (
	"context"
	"errors"

	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// Service lists the immediate children of a remote directory.
// Implementations handle one backend type (local, smb, s3, postgres, http).
type Service interface {
	// List calls fn for every immediate child of address at rev, in no
	// particular order. A non-nil error from fn aborts the listing.
	List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error

	// Type returns the backend type identifier.
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Error is a network, protocol or auth failure during a listing. Its message
// is what the browser shows in place of the children.
type Error struct {
	Op      string
	Address string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap converts any listing failure into an *Error. Errors that already are
// one pass through unchanged; nil stays nil.
func Wrap(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return &Error{Op: op, Address: address, Message: err.Error(), Err: err}
}
