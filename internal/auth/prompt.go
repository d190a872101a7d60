package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when a backend needs credentials but the
// current fetch did not enter an interactive scope.
var ErrNotInteractive = errors.New("credentials required but prompting is not allowed")

// Prompter asks the user for credentials for a server.
type Prompter interface {
	Credentials(ctx context.Context, server string) (username, password string, err error)
}

// TerminalPrompter reads credentials from the controlling terminal.
// Prompts are serialized: two sessions needing credentials at once ask one
// after the other.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	mu sync.Mutex
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Credentials implements Prompter.
func (p *TerminalPrompter) Credentials(ctx context.Context, server string) (string, string, error) {
	if !Interactive(ctx) {
		return "", "", ErrNotInteractive
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.Out, "Login to %s\nUsername: ", server)
	reader := bufio.NewReader(p.In)
	username, err := reader.ReadString('\n')
	if err != nil && username == "" {
		return "", "", fmt.Errorf("read username: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(p.Out, "Password: ")
	var password string
	if fd := int(p.In.Fd()); term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	return username, password, nil
}
