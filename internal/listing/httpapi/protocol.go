package httpapi

import "time"

// fileNode mirrors the server's metadata tree node.
type fileNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Size     int64       `json:"size"`
	ModTime  time.Time   `json:"mtime"`
	IsDir    bool        `json:"is_dir"`
	Hash     string      `json:"hash,omitempty"`
	Version  int         `json:"version,omitempty"`
	Children []*fileNode `json:"children,omitempty"`
}

// treeResponse is returned by GET /api/v1/tree/{path}.
type treeResponse struct {
	Root *fileNode `json:"root"`
}

// errorResponse is returned on API errors.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// loginResponse is the response from POST /api/v1/auth/token.
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
