//go:build windows

package localsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

const pipePrefix = `\\.\pipe\`

// Address maps a socket name to its named pipe path.
func Address(name string) string {
	if name == "" {
		name = DefaultName
	}
	if strings.HasPrefix(name, pipePrefix) {
		return name
	}
	return pipePrefix + name
}

// ValidatePath accepts every pipe name; Windows enforces its own limits.
func ValidatePath(string) error {
	return nil
}

// Listen creates the named pipe for name. Pipes vanish with their owner, so
// there is never a stale artifact to remove.
func Listen(name string) (net.Listener, error) {
	path := Address(name)
	l, err := winio.ListenPipe(path, nil)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, fmt.Errorf("%w: %s", ErrInUse, path)
		}
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return l, nil
}

// Dial connects to the named pipe for name.
func Dial(ctx context.Context, name string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, Address(name))
}
