// Package localconn implements the local:// connector: a UNIX-domain
// stream socket at PATH/local-N (N the rank, defaulting to 0), reusing
// fdconn's handshake and length-prefixed framing over the socket.
package localconn

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/handle/fdconn"
)

func init() {
	handle.Register("local", func(opts handle.OpenOptions) (handle.Connector, error) {
		path, err := socketPath(opts.URI)
		if err != nil {
			return nil, err
		}
		c, err := net.Dial("unix", path)
		if err != nil {
			return nil, fmt.Errorf("localconn: dial %s: %w", path, err)
		}
		return fdconn.NewWithHandshake("local:"+path, c)
	})
}

// socketPath derives PATH/local-N from a local:// URI. The rank defaults to
// 0 when the URI carries none, matching a single-rank broker's socket.
func socketPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("localconn: parse %q: %w", uri, fluxerr.ErrInval)
	}
	dir := u.Path
	if dir == "" {
		dir = u.Opaque
	}
	if dir == "" {
		return "", fmt.Errorf("localconn: local:// requires a socket directory: %w", fluxerr.ErrInval)
	}
	rank := 0
	if q := u.Query().Get("rank"); q != "" {
		r, err := strconv.Atoi(q)
		if err != nil {
			return "", fmt.Errorf("localconn: bad rank %q: %w", q, fluxerr.ErrInval)
		}
		rank = r
	}
	return filepath.Join(dir, fmt.Sprintf("local-%d", rank)), nil
}

// Listen creates the listening socket a broker rank accepts local://
// connections on; it fails if a file already exists at the socket path.
// Used by cmd/fluxd, not by clients.
func Listen(dir string, rank int) (net.Listener, error) {
	path := filepath.Join(dir, fmt.Sprintf("local-%d", rank))
	return net.Listen("unix", path)
}
