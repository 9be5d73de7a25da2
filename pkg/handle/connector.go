// Package handle implements the pluggable transport abstraction every
// in-process consumer uses to talk to its peer broker: send/recv/pollfd,
// per-connector credential defaults, an attribute cache, and aux storage.
package handle

import (
	"os"

	"github.com/flux-framework/flux-core-sub021/pkg/message"
)

// SendFlags modify Send behavior.
type SendFlags uint8

const (
	SendNonblock SendFlags = 1 << iota
)

// RecvFlags modify Recv behavior.
type RecvFlags uint8

const (
	RecvNonblock RecvFlags = 1 << iota
)

// Connector is the vtable every transport plugin implements: loop, fd,
// local, and tcp. A Handle delegates every operation except attribute and
// aux bookkeeping to its Connector.
type Connector interface {
	// Name identifies the connector for logging and metrics labels.
	Name() string
	Send(msg *message.Message, flags SendFlags) error
	Recv(match Match, flags RecvFlags) (*message.Message, error)
	Pollfd() (*os.File, error)
	Pollevents() uint8
	// Drain re-arms level-triggered pollfd readiness after a watcher wakes
	// on it; a no-op for connectors without a self-pipe.
	Drain()
	Getopt(name string) (string, bool)
	Setopt(name, value string) error
	Close() error
}
