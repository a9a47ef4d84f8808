package network

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"ftplite/internal/config"
	"ftplite/internal/errors"
)

// SendAll writes all of p to w, retrying short writes until the whole buffer is
// out or the writer reports an error.
func SendAll(w io.Writer, p []byte) error {
	for sent := 0; sent < len(p); {
		n, err := w.Write(p[sent:])
		sent += n
		if err != nil {
			return errors.NewTransferIOError("send", "", err)
		}
		if n == 0 {
			return errors.NewTransferIOError("send", "", io.ErrShortWrite)
		}
	}
	return nil
}

// RecvAll fills p completely from r or fails.
func RecvAll(r io.Reader, p []byte) error {
	if _, err := io.ReadFull(r, p); err != nil {
		return errors.NewTransferIOError("receive", "", err)
	}
	return nil
}

// Listen binds a TCP listener with SO_REUSEADDR set where the platform supports it.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, errors.NewConnectionError("listen", address, err)
	}
	return listener, nil
}

// Dial opens a TCP connection to address.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.NewConnectionError("dial", address, err)
	}
	return conn, nil
}

// OptimizeTCPConnection applies TCP options suited to bulk transfer
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewConnectionError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(config.KeepAlivePeriod); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	if err := tcpConn.SetReadBuffer(config.TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP read buffer", "error", err)
	}

	if err := tcpConn.SetWriteBuffer(config.TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP write buffer", "error", err)
	}

	return nil
}

// Abort makes the following Close reset the connection instead of finishing
// it with a FIN, so a peer that is still sending sees the failure.
func Abort(conn net.Conn) {
	if tcpConn, isTCP := conn.(*net.TCPConn); isTCP {
		if err := tcpConn.SetLinger(0); err != nil {
			slog.Warn("Failed to set TCP linger", "error", err)
		}
	}
}

// IdleConn refreshes the connection deadline before every read and write, so a
// peer that stalls for longer than Timeout fails the blocked call. A zero
// Timeout leaves the connection without deadlines.
type IdleConn struct {
	net.Conn
	Timeout time.Duration
}

// WithIdleTimeout wraps conn when timeout is positive.
func WithIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &IdleConn{Conn: conn, Timeout: timeout}
}

func (c *IdleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *IdleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
