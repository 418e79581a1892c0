//go:build unix

package localsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var socketPathLimit = len(unix.RawSockaddrUnix{}.Path) - 1

// Address maps a socket name to its filesystem path. Absolute paths are used
// unchanged; bare names live in /tmp.
func Address(name string) string {
	if name == "" {
		name = DefaultName
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join("/tmp", strings.TrimSuffix(name, ".sock")+".sock")
}

// ValidatePath rejects paths that do not fit in a sockaddr_un.
func ValidatePath(path string) error {
	if len(path) > socketPathLimit {
		return fmt.Errorf("socket path exceeds %d bytes: %s", socketPathLimit, path)
	}
	return nil
}

// Listen binds the socket for name. A stale socket file left by a crashed
// server is removed first; a socket with a live server behind it is not.
func Listen(name string) (net.Listener, error) {
	path := Address(name)
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if err := ensureAvailable(path); err != nil {
		return nil, err
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}
	return l, nil
}

// Dial connects to the socket for name.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", Address(name))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func ensureAvailable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket: %w", err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path is not a socket: %s", path)
	}

	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrInUse, path)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied accessing socket: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
