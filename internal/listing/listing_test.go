package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

type fakeService struct {
	typ    string
	closed int
}

func (f *fakeService) List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error {
	return nil
}
func (f *fakeService) Type() string { return f.typ }
func (f *fakeService) Close() error { f.closed++; return nil }

func TestWrap(t *testing.T) {
	if Wrap("list", "/a", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}

	base := errors.New("timeout")
	err := Wrap("list", "/a", base)
	if err.Error() != "timeout" {
		t.Errorf("Error() = %q, want timeout", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to its cause")
	}

	var le *Error
	if !errors.As(err, &le) || le.Address != "/a" || le.Op != "list" {
		t.Fatalf("Wrap did not produce *Error: %#v", err)
	}

	again := Wrap("other", "/b", fmt.Errorf("outer: %w", err))
	if again != err {
		t.Error("an existing *Error should pass through")
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	svc := &fakeService{typ: "fake"}
	r.Register("main", svc)

	got, err := r.Resolve("main")
	if err != nil || got != svc {
		t.Fatalf("Resolve(main) = %v, %v", got, err)
	}
	if _, err := r.Resolve("missing"); err == nil {
		t.Error("expected error for unknown connection")
	}

	replacement := &fakeService{typ: "fake"}
	r.Register("main", replacement)
	if svc.closed != 1 {
		t.Errorf("replaced service closed %d times, want 1", svc.closed)
	}
}

func localConn(t *testing.T, id, root string) Connection {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"root_path": root})
	if err != nil {
		t.Fatal(err)
	}
	return Connection{ID: id, BackendType: "local", Config: raw}
}

func TestRegistryLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	defer r.Close()

	conns := []Connection{localConn(t, "b", dir), localConn(t, "a", dir)}
	if err := r.Load(context.Background(), Factory{}, conns); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ids := r.Connections(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Connections() = %v, want [a b]", ids)
	}

	first, _ := r.Resolve("a")

	// Same config: backend is reused. Dropped connection goes away.
	if err := r.Load(context.Background(), Factory{}, conns[1:]); err != nil {
		t.Fatalf("Load: %v", err)
	}
	again, err := r.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve(a): %v", err)
	}
	if again != first {
		t.Error("unchanged connection should keep its backend")
	}
	if _, err := r.Resolve("b"); err == nil {
		t.Error("removed connection should not resolve")
	}

	var names []string
	err = again.List(context.Background(), "/", remote.Head, func(e remote.Entry) error {
		names = append(names, e.Name)
		return nil
	})
	if err != nil || len(names) != 1 || names[0] != "sub" {
		t.Errorf("List = %v, %v", names, err)
	}
}

func TestRegistryLoadSkipsBroken(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	conns := []Connection{
		{ID: "bad", BackendType: "nope", Config: json.RawMessage(`{}`)},
		localConn(t, "good", t.TempDir()),
	}
	if err := r.Load(context.Background(), Factory{}, conns); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := r.Resolve("bad"); err == nil {
		t.Error("broken connection should be skipped")
	}

	if err := r.Load(context.Background(), Factory{}, conns[:1]); err == nil {
		t.Error("expected error when no backend initializes")
	}
}

func TestFactoryUnknownType(t *testing.T) {
	if _, err := (Factory{}).New(context.Background(), "ftp", nil); err == nil {
		t.Error("expected error for unknown backend type")
	}
}
