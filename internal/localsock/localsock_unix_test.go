//go:build unix

package localsock

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "fbsock")
	if err != nil {
		t.Fatalf("MkdirTemp() error: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", "/tmp/schedule-ai.sock"},
		{"schedule-ai", "/tmp/schedule-ai.sock"},
		{"other.sock", "/tmp/other.sock"},
		{"/run/user/1000/focus.sock", "/run/user/1000/focus.sock"},
	}
	for _, tt := range tests {
		if got := Address(tt.name); got != tt.want {
			t.Errorf("Address(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("/tmp/schedule-ai.sock"); err != nil {
		t.Errorf("short path rejected: %v", err)
	}
	long := "/tmp/" + strings.Repeat("a", socketPathLimit)
	if err := ValidatePath(long); err == nil {
		t.Error("expected error for over-long path")
	}
	if _, err := Listen(long); err == nil {
		t.Error("Listen accepted an over-long path")
	}
}

func TestListenDial(t *testing.T) {
	path := tempSocketPath(t)
	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("socket permissions = %o, want 0600", info.Mode().Perm())
	}

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := Dial(ctx, path)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(time.Second):
		t.Fatal("connection was not accepted")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := tempSocketPath(t)

	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected stale socket file, got %v", err)
	}

	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() over stale socket: %v", err)
	}
	l.Close()
}

func TestListenRefusesLiveSocket(t *testing.T) {
	path := tempSocketPath(t)
	first, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer first.Close()

	go func() {
		for {
			c, err := first.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	if _, err := Listen(path); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := tempSocketPath(t)
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := Listen(path); err == nil {
		t.Fatal("expected error for non-socket path")
	}
}

func TestDialWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, tempSocketPath(t)); err == nil {
		t.Fatal("expected dial error with no server")
	}
}
