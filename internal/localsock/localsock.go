// Package localsock resolves and opens the machine-local socket shared by the
// State Server and its clients: a filesystem Unix socket on POSIX systems and
// a named pipe on Windows.
package localsock

import "errors"

// DefaultName is the well-known socket name.
const DefaultName = "schedule-ai"

// ErrInUse is returned by Listen when a live server already owns the address.
var ErrInUse = errors.New("socket already in use")
