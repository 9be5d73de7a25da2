// Package tcpconn implements the tcp:// connector: a native framed TCP
// stream (per the Open Question decision in favor of a plain framed
// transport over introducing a zeromq dependency), reusing fdconn's
// handshake and length-prefixed framing.
package tcpconn

import (
	"fmt"
	"net"

	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/handle/fdconn"
)

func init() {
	handle.Register("tcp", func(opts handle.OpenOptions) (handle.Connector, error) {
		addr, err := hostport(opts.URI)
		if err != nil {
			return nil, err
		}
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcpconn: dial %s: %w", addr, err)
		}
		return fdconn.NewWithHandshake("tcp:"+addr, c)
	})
}

func hostport(uri string) (string, error) {
	const prefix = "tcp://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("tcpconn: bad URI %q: %w", uri, fluxerr.ErrInval)
	}
	return uri[len(prefix):], nil
}

// Listen opens the listening socket a broker rank accepts tcp://
// connections on. Used by cmd/fluxd, not by clients.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
