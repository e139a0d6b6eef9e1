package link

import (
	"net"
	"time"
)

// Conn is the narrow view of a network connection the client needs: a send
// primitive and a deadline-bounded read. net.Conn satisfies it.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer establishes connections to the CAT server. Dial may block; the
// client always invokes it from its own goroutine.
type Dialer interface {
	Dial() (Conn, error)
}

// TCPDialer dials the CAT server over TCP
type TCPDialer struct {
	Addr string
}

// Dial connects to the configured address, bounded by the connect timeout
func (d *TCPDialer) Dial() (Conn, error) {
	conn, err := net.DialTimeout("tcp", d.Addr, ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
