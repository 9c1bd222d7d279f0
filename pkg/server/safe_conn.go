package server

import (
	"net"
	"sync"

	"github.com/aeolun/lairchat/pkg/protocol"
)

// SafeConn wraps a net.Conn with a write mutex so broadcast workers and the
// session's own replies never interleave bytes on the socket. Reads are not
// locked: the session worker is the only reader.
type SafeConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// NewSafeConn wraps a connection for concurrent writes.
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteFrame writes one encoded frame while holding the write lock.
func (sc *SafeConn) WriteFrame(frame []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return protocol.WriteFrame(sc.conn, frame)
}

// ReadFrame reads one frame from the connection (no lock needed, only the
// session worker reads).
func (sc *SafeConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(sc.conn)
}

// Close closes the underlying connection.
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote address of the connection.
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
