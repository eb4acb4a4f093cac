// Package fanotify reports file accesses under a directory using the
// kernel's fanotify interface.
package fanotify

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Kind is the type of file access.
type Kind int

const (
	KindOpen Kind = iota
	KindWrite
	KindClose
)

// AllKinds lists every Kind in emission order.
var AllKinds = []Kind{KindOpen, KindWrite, KindClose}

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindWrite:
		return "write"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// mask is the kernel event bit for k.
func (k Kind) mask() uint64 {
	switch k {
	case KindOpen:
		return unix.FAN_OPEN
	case KindWrite:
		return unix.FAN_MODIFY
	case KindClose:
		return unix.FAN_CLOSE_WRITE
	default:
		return 0
	}
}

// ParseKinds parses a comma-separated list such as "open,write". Empty
// input selects all kinds.
func ParseKinds(s string) ([]Kind, error) {
	if strings.TrimSpace(s) == "" {
		return AllKinds, nil
	}
	var kinds []Kind
	seen := make(map[Kind]bool)
	for _, part := range strings.Split(s, ",") {
		var k Kind
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "open":
			k = KindOpen
		case "write", "modify":
			k = KindWrite
		case "close", "close_write":
			k = KindClose
		default:
			return nil, fmt.Errorf("unknown event kind %q (want open, write, or close)", part)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// Event is one file access. Path is resolved before the event leaves the
// session and the kernel's descriptor is already closed.
type Event struct {
	Kind Kind
	PID  int
	Path string
	Time time.Time
}
