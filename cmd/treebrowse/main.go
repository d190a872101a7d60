// Tree browser CLI
//
// Opens a browser session against a listing backend, loads a directory and
// expands it, then prints the tree and what the session cached.
//
// Sub-commands:
//
//	treebrowse [flags] <path>    Browse a path (default)
//	treebrowse login [flags]     Log in to a FruitSalade server and save the token
//	treebrowse logout            Remove the saved token
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fruitsalade/fruitsalade/browser/internal/auth"
	"github.com/fruitsalade/fruitsalade/browser/internal/config"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing/httpapi"
	"github.com/fruitsalade/fruitsalade/browser/internal/loader"
	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/presenter"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
	"github.com/fruitsalade/fruitsalade/browser/internal/tree"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			cmdLogin(os.Args[2:])
			return
		case "logout":
			cmdLogout()
			return
		case "browse":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	cmdBrowse()
}

func cmdBrowse() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	backend := flag.String("backend", cfg.ListingBackend, "Listing backend: local, smb, s3, postgres, http")
	backendConfig := flag.String("config", string(cfg.ListingConfig), "Backend config as JSON")
	connectionsFile := flag.String("connections", "", "JSON file with a list of connections (overrides -backend/-config)")
	connection := flag.String("connection", "", "Connection id to browse (default: first in -connections)")
	serverURL := flag.String("server", cfg.ServerURL, "FruitSalade server URL (http backend)")
	token := flag.String("token", cfg.Token, "JWT authentication token (http backend)")
	revision := flag.String("revision", "", "Revision to list at (default: latest)")
	depth := flag.Int("depth", 1, "Directory levels to expand")
	expandTo := flag.String("expand", "", "Open the tree down to this path instead of expanding by depth")
	workers := flag.Int("workers", cfg.Workers, "Concurrent listing workers")
	timeout := flag.Duration("timeout", cfg.ListingTimeout, "Per-call timeout for network backends")
	interactive := flag.Bool("interactive", term.IsTerminal(int(os.Stdin.Fd())), "Allow prompting for credentials")
	checkGoroutine := flag.Bool("check-goroutine", cfg.CheckGoroutine, "Panic when the loader is used off the presentation goroutine")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", cfg.LogFormat, "Log format: console, json")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat, OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	path := "/"
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	conns, err := connectionsFromFlags(*connectionsFile, *backend, *backendConfig, *serverURL, *token)
	if err != nil {
		logging.Fatal("invalid connection settings", zap.Error(err))
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := listing.NewRegistry()
	defer registry.Close()
	factory := listing.Factory{Prompter: auth.NewTerminalPrompter(), Timeout: *timeout}
	if err := registry.Load(ctx, factory, conns); err != nil {
		logging.Fatal("failed to load listing backends", zap.Error(err))
	}

	connID := *connection
	if connID == "" {
		connID = registry.Connections()[0]
	}

	loop := presenter.NewLoop()
	loop.Start()
	defer loop.Stop()
	pool := presenter.NewPool(*workers)
	defer pool.Close()

	idle := make(chan struct{}, 1)
	session, err := loader.NewSession(loader.Config{
		ID:             connID,
		Dispatcher:     loop,
		Executor:       pool,
		Resolver:       registry,
		Revision:       remote.Revision(*revision),
		Auth:           auth.Scope{Interactive: *interactive},
		CheckGoroutine: *checkGoroutine,
		OnIdle: func() {
			select {
			case idle <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		logging.Fatal("failed to create session", zap.Error(err))
	}

	root := tree.NewRoot(connID, path)
	var expander loader.Expander
	if *expandTo != "" {
		expander = tree.ExpandPath(session, *expandTo)
	} else {
		expander = tree.ExpandAll(session, *depth)
	}

	logging.Info("browsing",
		zap.String("connection", connID),
		zap.String("path", root.Address()),
		zap.Int("workers", *workers))
	start := time.Now()

	loop.Post(func() { session.Load(root, expander) })

	select {
	case <-idle:
		logging.Info("browse complete", zap.Duration("duration", time.Since(start)))
	case <-ctx.Done():
		logging.Warn("interrupted, closing session")
	}

	err = loop.Call(context.Background(), func() {
		session.Close()
		if err := tree.Render(os.Stdout, root); err != nil {
			logging.Error("render failed", zap.Error(err))
			return
		}
		printCacheStatus(os.Stdout, session.Cache())
	})
	if err != nil {
		logging.Error("presentation loop unavailable", zap.Error(err))
	}
}

// connectionsFromFlags builds the connection list from a connections file or
// from the single-backend flags.
func connectionsFromFlags(file, backend, rawConfig, serverURL, token string) ([]listing.Connection, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var conns []listing.Connection
		if err := json.Unmarshal(data, &conns); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		if len(conns) == 0 {
			return nil, fmt.Errorf("%s lists no connections", file)
		}
		return conns, nil
	}

	raw := json.RawMessage(rawConfig)
	if backend == "http" && rawConfig == "" {
		if token == "" {
			token = savedToken(serverURL)
		}
		raw, _ = json.Marshal(httpConfig{BaseURL: serverURL, Token: token})
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("backend %q needs -config", backend)
	}
	if !json.Valid(raw) {
		return nil, errors.New("-config is not valid JSON")
	}
	return []listing.Connection{{ID: "default", BackendType: backend, Config: raw}}, nil
}

type httpConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
}

// savedToken returns the token saved by "treebrowse login" for server, if it
// has not expired.
func savedToken(server string) string {
	tf, err := auth.LoadToken(auth.TokenFilePath())
	if err != nil {
		return ""
	}
	if tf.Server != server {
		logging.Debug("saved token is for another server", zap.String("server", tf.Server))
		return ""
	}
	if !tf.ExpiresAt.IsZero() && tf.IsExpired(time.Minute) {
		logging.Info("saved token has expired", zap.String("username", tf.Username))
		return ""
	}
	logging.Info("using saved token", zap.String("username", tf.Username), zap.String("server", tf.Server))
	return tf.Token
}

func printCacheStatus(w io.Writer, cache *loader.Cache) {
	fmt.Fprintf(w, "\n%d cached listing(s)\n", cache.Len())
	for _, key := range cache.Keys() {
		r, _ := cache.Get(key)
		r.Match(
			func(entries []remote.Entry) { fmt.Fprintf(w, "  %-40s %d entries\n", key, len(entries)) },
			func(message string) { fmt.Fprintf(w, "  %-40s error: %s\n", key, message) },
		)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Info("metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("metrics server failed", zap.Error(err))
	}
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", envOr("FRUITSALADE_SERVER", "http://localhost:8080"), "Server URL")
	deviceName := fs.String("device", "", "Device name (default: hostname)")
	fs.Parse(args)

	if *deviceName == "" {
		name, _ := os.Hostname()
		*deviceName = name
	}

	b, err := httpapi.New(httpapi.Config{BaseURL: *serverURL, DeviceName: *deviceName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()
	b.SetPrompter(auth.NewTerminalPrompter())

	ctx, release := auth.Scope{Interactive: true}.Enter(context.Background())
	defer release()

	tf, err := b.Login(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tf.Server = *serverURL

	path := auth.TokenFilePath()
	if err := auth.SaveToken(path, tf); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save token: %v\n", err)
		return
	}
	fmt.Printf("Login successful! Logged in as %s. Token saved to %s\n", tf.Username, path)
}

func cmdLogout() {
	path := auth.TokenFilePath()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Logged out.")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
