package protocol

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
)

// DialUnix connects to a navcd control socket the way
// test/client.go's main() does, wrapping the connection in a
// jsonrpc codec rather than gob's default wire format (jsonrpc is
// more convenient for ad-hoc debugging with nc/curl-style tools).
func DialUnix(socketPath string) (*rpc.Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("protocol: dialing %s: %w", socketPath, err)
	}
	return rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)), nil
}

// DialTCP connects to a peer daemon's cluster port for job-pull and
// multicast-forward traffic (spec §4.F, §4.G).
func DialTCP(addr string) (*rpc.Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("protocol: dialing %s: %w", addr, err)
	}
	return rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)), nil
}

// ServeConn registers handler (a *RequestHandler-shaped receiver) and
// serves one connection with the jsonrpc codec, mirroring the
// teacher's RequestHandler wired through net/rpc.
func ServeConn(conn net.Conn, handler any) error {
	server := rpc.NewServer()
	if err := server.Register(handler); err != nil {
		return fmt.Errorf("protocol: registering handler: %w", err)
	}
	server.ServeCodec(jsonrpc.NewServerCodec(conn))
	return nil
}

// Listener wraps a net.Listener, accepting connections and serving
// each via ServeConn on its own rpc.Server; every connection shares the
// one handler instance.
type Listener struct {
	ln      net.Listener
	handler any
}

// NewListener accepts connections on ln, serving handler for each.
func NewListener(ln net.Listener, handler any) *Listener {
	return &Listener{ln: ln, handler: handler}
}

// Serve loops accepting connections until the listener is closed.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go ServeConn(conn, l.handler)
	}
}

func (l *Listener) Close() error { return l.ln.Close() }
