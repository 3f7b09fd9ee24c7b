package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// Dialer produces one connection per call. The session owns retry and
// backoff; a Dialer only knows how to establish a single channel.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// NetDialer dials a network address, optionally wrapping it in TLS.
// Network is typically "unix" for the private local channel or "tcp"
// for loopback/LAN deployments.
type NetDialer struct {
	Network string
	Address string
	Config  Config
}

func (d NetDialer) Dial(ctx context.Context) (net.Conn, error) {
	if err := d.Config.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: d.Config.ConnectTimeout}
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	rawConn, err := dialer.DialContext(ctx, network, d.Address)
	if err != nil {
		return nil, err
	}
	if !d.Config.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := d.Config.ClientTLSConfig(d.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, d.Config.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// ListenerDialer adapts a net.Listener so the responder side shares the
// same session lifecycle: each Dial blocks until the next shim connects.
type ListenerDialer struct {
	Listener net.Listener
}

func (d ListenerDialer) Dial(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.Listener.Accept()
		ch <- result{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		// The pending Accept may still land a connection; close it so
		// the shim sees a clean refusal instead of a dead session.
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// Listen opens the responder-side listener with the configured
// transport security applied.
func Listen(network, address string, cfg Config) (net.Listener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return ln, nil
	}
	tlsCfg, err := cfg.ServerTLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tlsCfg), nil
}
