package handle

import (
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
)

// OpenOptions carries the parsed pieces of a connector URI plus flags, so
// a connector factory doesn't need to re-parse the URI itself.
type OpenOptions struct {
	URI   string
	Flags OpenFlags
}

// Factory builds a Connector for a given URI. Connector packages register
// one per scheme in their init() via Register, the same pattern
// database/sql uses for drivers — this keeps pkg/handle from importing
// pkg/handle/{loopconn,fdconn,localconn,tcpconn} and creating an import
// cycle, since those packages import pkg/handle for the Connector/Match
// types.
type Factory func(opts OpenOptions) (Connector, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a connector factory for scheme (e.g. "loop", "tcp").
// Called from connector package init() functions.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = f
}

// Open selects a connector by the URI scheme (loop://, local://PATH,
// fd://N, tcp://host:port) and returns a bound Handle. An empty uri falls
// back to FLUX_URI.
func Open(uri string, flags OpenFlags) (*Handle, error) {
	if uri == "" {
		uri = os.Getenv("FLUX_URI")
	}
	if uri == "" {
		return nil, fmt.Errorf("handle: no URI given and FLUX_URI unset: %w", fluxerr.ErrInval)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("handle: parse URI %q: %w", uri, fluxerr.ErrInval)
	}

	registryMu.RLock()
	factory, ok := registry[u.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("handle: no connector registered for scheme %q: %w", u.Scheme, fluxerr.ErrNoSys)
	}

	conn, err := factory(OpenOptions{URI: uri, Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("handle: open %q: %w", uri, err)
	}
	h := newHandle(conn)
	h.trace = flags&OpenTrace != 0 || os.Getenv("FLUX_HANDLE_TRACE") != ""
	return h, nil
}
