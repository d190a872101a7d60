// Package local provides a directory listing backend over the local
// filesystem.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string `json:"root_path"`

	// typeName overrides Type for backends built on this one.
	typeName string
}

// WithType returns a copy of cfg whose backend reports typ from Type.
func (c Config) WithType(typ string) Config {
	c.typeName = typ
	return c
}

// LocalBackend lists directories below a root on the local filesystem.
type LocalBackend struct {
	rootPath string
	typeName string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	typ := cfg.typeName
	if typ == "" {
		typ = "local"
	}
	return &LocalBackend{rootPath: cfg.RootPath, typeName: typ}, nil
}

// NewFromJSON creates a LocalBackend from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*LocalBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg)
}

// fullPath maps a remote address below the root. CleanPath roots the
// address first, so ".." cannot climb out.
func (b *LocalBackend) fullPath(address string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(remote.CleanPath(address)))
}

// List reads the immediate children of address.
func (b *LocalBackend) List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error {
	if !rev.IsHead() {
		return remote.ErrRevisionUnsupported
	}

	start := time.Now()
	dirents, err := os.ReadDir(b.fullPath(address))
	metrics.RecordBackendOperation(b.Type(), "read_dir", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", address, err)
	}

	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", remote.ChildPath(address, d.Name()), err)
		}
		if err := fn(entryFromInfo(info)); err != nil {
			return err
		}
	}
	return nil
}

func entryFromInfo(info os.FileInfo) remote.Entry {
	e := remote.Entry{
		Name:    info.Name(),
		Kind:    remote.KindFile,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		e.Kind = remote.KindDir
		e.Size = 0
	}
	return e
}

// Type returns "local", or the type set with Config.WithType.
func (b *LocalBackend) Type() string { return b.typeName }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }
