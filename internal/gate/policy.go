package gate

import (
	"fmt"
	"runtime"
	"strings"
)

// Policy says which operation is gated.
type Policy int

const (
	// AuthorizeOnRead gates every read; opening is free.
	AuthorizeOnRead Policy = iota
	// AuthorizeOnOpen gates opening for reading; reads through a granted
	// handle are free.
	AuthorizeOnOpen
)

func (p Policy) String() string {
	if p == AuthorizeOnOpen {
		return "open"
	}
	return "read"
}

// ParsePolicy accepts "open", "read", or "auto". Auto picks open on macOS,
// where reads cannot be tied back to a caller, and read elsewhere.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "read":
		return AuthorizeOnRead, nil
	case "open":
		return AuthorizeOnOpen, nil
	case "", "auto":
		if runtime.GOOS == "darwin" {
			return AuthorizeOnOpen, nil
		}
		return AuthorizeOnRead, nil
	default:
		return AuthorizeOnRead, fmt.Errorf("invalid access policy: %s", s)
	}
}

// Keying says what identifies a session in access records.
type Keying int

const (
	// KeyByHandle makes every open file handle its own session.
	KeyByHandle Keying = iota
	// KeyByProcess shares decisions across all handles of one process.
	KeyByProcess
)

func (k Keying) String() string {
	if k == KeyByProcess {
		return "process"
	}
	return "handle"
}

// ParseKeying accepts "handle" or "process".
func ParseKeying(s string) (Keying, error) {
	switch strings.ToLower(s) {
	case "", "handle":
		return KeyByHandle, nil
	case "process":
		return KeyByProcess, nil
	default:
		return KeyByHandle, fmt.Errorf("invalid session key: %s", s)
	}
}

// SessionKey formats the session part of a record key.
func (k Keying) SessionKey(handle uint64, pid uint32) string {
	if k == KeyByProcess {
		return fmt.Sprintf("pid%d", pid)
	}
	return fmt.Sprintf("%d", handle)
}
