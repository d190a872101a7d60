// Package httpapi provides a directory listing backend that talks to a
// FruitSalade server over its metadata tree API.
package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/auth"
	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
	"github.com/fruitsalade/fruitsalade/browser/internal/retry"
)

// errUnauthorized marks a 401 so List can offer a login and try again.
var errUnauthorized = errors.New("unauthorized")

// Config holds HTTP backend configuration.
type Config struct {
	BaseURL     string       `json:"base_url"`
	Token       string       `json:"token"`
	DeviceName  string       `json:"device_name"`
	Timeout     Duration     `json:"timeout"`
	RetryConfig retry.Config `json:"-"`
}

// Duration decodes "30s"-style JSON strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Backend lists directories through the server's tree endpoint.
type Backend struct {
	baseURL     string
	deviceName  string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
	prompter  auth.Prompter
	loginMu   sync.Mutex
}

// New creates a new HTTP listing backend.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	timeout := time.Duration(cfg.Timeout)
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "tree-browser"
	}

	return &Backend{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		deviceName: cfg.DeviceName,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.Token,
	}, nil
}

// NewFromJSON creates a Backend from raw JSON config. A non-zero timeout
// overrides the configured one.
func NewFromJSON(raw json.RawMessage, timeout time.Duration) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse http config: %w", err)
	}
	if timeout > 0 {
		cfg.Timeout = Duration(timeout)
	}
	return New(cfg)
}

// SetPrompter installs the credential prompter used for interactive logins.
func (b *Backend) SetPrompter(p auth.Prompter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompter = p
}

// SetAuthToken sets the JWT auth token for requests.
func (b *Backend) SetAuthToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authToken = token
}

func (b *Backend) token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.authToken
}

// List fetches the subtree at address and reports its immediate children.
// When the token is missing, expired or rejected and ctx is interactive,
// the user is asked to log in once before the request is repeated.
func (b *Backend) List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error {
	if !rev.IsHead() {
		return remote.ErrRevisionUnsupported
	}

	if auth.TokenExpired(b.token(), time.Minute) && auth.Interactive(ctx) {
		if err := b.login(ctx); err != nil {
			return err
		}
	}

	root, err := b.fetchTree(ctx, address)
	if errors.Is(err, errUnauthorized) && auth.Interactive(ctx) {
		if err := b.login(ctx); err != nil {
			return err
		}
		root, err = b.fetchTree(ctx, address)
	}
	if err != nil {
		return err
	}

	if root == nil {
		return fmt.Errorf("server returned an empty tree for %s", address)
	}
	if !root.IsDir {
		return fmt.Errorf("%s is not a directory", address)
	}
	for _, child := range root.Children {
		if child == nil {
			continue
		}
		e := remote.Entry{
			Name:    child.Name,
			Kind:    remote.KindFile,
			Size:    child.Size,
			ModTime: child.ModTime,
			Hash:    child.Hash,
		}
		if child.IsDir {
			e.Kind = remote.KindDir
		}
		if child.Version > 0 {
			e.Revision = strconv.Itoa(child.Version)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) treeURL(address string) string {
	rel := strings.TrimPrefix(remote.CleanPath(address), "/")
	if rel == "" {
		return b.baseURL + "/api/v1/tree"
	}
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.baseURL + "/api/v1/tree/" + strings.Join(segments, "/")
}

func (b *Backend) fetchTree(ctx context.Context, address string) (*fileNode, error) {
	var result *fileNode
	start := time.Now()

	err := retry.Do(ctx, b.retryConfig, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.treeURL(address), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		if token := b.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return errUnauthorized
		case resp.StatusCode >= 500:
			return retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return decodeError(resp)
		}

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return err
			}
			defer gr.Close()
			reader = gr
		}

		var tree treeResponse
		if err := json.NewDecoder(reader).Decode(&tree); err != nil {
			return fmt.Errorf("decode tree: %w", err)
		}
		result = tree.Root
		return nil
	})

	metrics.RecordBackendOperation(b.Type(), "get_tree", time.Since(start), err == nil)
	return result, err
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return fmt.Errorf("%s (%d)", er.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// login is the automatic re-login done by List. Concurrent logins from
// different sessions are serialized and the second one reuses the token the
// first obtained.
func (b *Backend) login(ctx context.Context) error {
	before := b.token()

	b.loginMu.Lock()
	defer b.loginMu.Unlock()

	if current := b.token(); current != before && !auth.TokenExpired(current, time.Minute) {
		return nil
	}
	_, err := b.doLogin(ctx)
	return err
}

// Login asks the prompter for credentials and exchanges them for a token,
// which the backend uses from then on. ctx must be interactive.
func (b *Backend) Login(ctx context.Context) (*auth.TokenFile, error) {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	return b.doLogin(ctx)
}

func (b *Backend) doLogin(ctx context.Context) (*auth.TokenFile, error) {
	b.mu.RLock()
	prompter := b.prompter
	b.mu.RUnlock()
	if prompter == nil {
		return nil, errUnauthorized
	}

	username, password, err := prompter.Credentials(ctx, b.baseURL)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"username":    username,
		"password":    password,
		"device_name": b.deviceName,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed: %w", decodeError(resp))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("parse login response: %w", err)
	}

	b.SetAuthToken(lr.Token)
	logging.WithContext(ctx).Info("logged in",
		zap.String("server", b.baseURL),
		zap.String("username", username),
		zap.Time("expires_at", lr.ExpiresAt))

	return &auth.TokenFile{
		Token:     lr.Token,
		ExpiresAt: lr.ExpiresAt,
		Server:    b.baseURL,
		Username:  username,
	}, nil
}

// Type returns "http".
func (b *Backend) Type() string { return "http" }

// Close releases idle connections.
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}
