// Package smb provides a listing backend for an SMB/CIFS network share.
// The share must be pre-mounted on the OS (via mount.cifs or fstab); listing
// delegates to the local backend at the mount path.
package smb

import (
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/fruitsalade/browser/internal/listing/local"
)

// Config holds SMB backend settings.
// Server/Username/Domain are kept for display; I/O uses MountPath.
type Config struct {
	Server    string `json:"server"`     // SMB server path (e.g., //server/share)
	Username  string `json:"username"`   // SMB credentials
	Domain    string `json:"domain"`     // SMB domain
	MountPath string `json:"mount_path"` // Local mount point where share is mounted
}

// SMBBackend wraps a LocalBackend at the SMB mount point.
type SMBBackend struct {
	*local.LocalBackend
	config Config
}

// New creates a new SMB backend from the given config.
func New(cfg Config) (*SMBBackend, error) {
	if cfg.MountPath == "" {
		return nil, fmt.Errorf("mount_path is required")
	}

	lb, err := local.New(local.Config{RootPath: cfg.MountPath}.WithType("smb"))
	if err != nil {
		return nil, fmt.Errorf("smb share %s at %s: %w", cfg.Server, cfg.MountPath, err)
	}

	return &SMBBackend{
		LocalBackend: lb,
		config:       cfg,
	}, nil
}

// NewFromJSON creates an SMBBackend from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*SMBBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse smb config: %w", err)
	}
	return New(cfg)
}

// Server returns the configured share name.
func (b *SMBBackend) Server() string { return b.config.Server }

