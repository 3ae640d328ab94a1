// Package keepalive wraps TCP listeners and dialers with keep-alive
// probing, so dead peers (e.g. a client losing connectivity mid-session)
// are eventually detected by the kernel independently of the protocol's
// own heartbeat.
package keepalive

import (
	"context"
	"net"
	"time"
)

// Period between TCP keep-alive probes of accepted and dialed connections.
const Period = 3 * time.Minute

// Dialer dials with keep-alive probing enabled.
var Dialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: Period,
}

// DialerFunc dials |addr| with |ctx|, for use anywhere a context dialer
// callback is expected.
func DialerFunc(ctx context.Context, addr string) (net.Conn, error) {
	return Dialer.DialContext(ctx, "tcp", addr)
}

// TCPListener sets TCP keep-alive probing on accepted connections.
type TCPListener struct {
	*net.TCPListener
}

func (ln TCPListener) Accept() (net.Conn, error) {
	var tc, err = ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(Period)
	return tc, nil
}
