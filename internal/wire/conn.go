package wire

import (
	"net"
	"time"
)

// Conn wraps a net.Conn with frame-level read/write and the per-call
// timeout plumbing the conversation engine and listener both need.
type Conn struct {
	net.Conn

	// MaxPayload bounds frames read from this connection. The listener
	// uses a stricter limit (1024 bytes) for the single frame it reads;
	// the outbound conversation engine uses MaxPayloadLength.
	MaxPayload uint32
}

// NewConn wraps conn with the default (outbound) payload limit.
func NewConn(conn net.Conn) *Conn {
	return &Conn{Conn: conn, MaxPayload: MaxPayloadLength}
}

// ReadFrame reads one frame honoring the supplied deadline.
func (c *Conn) ReadFrame(deadline time.Time) (command string, payload []byte, err error) {
	if err := c.Conn.SetReadDeadline(deadline); err != nil {
		return "", nil, err
	}
	return ReadFrame(c.Conn, c.MaxPayload)
}

// WriteFrame writes one frame honoring the supplied deadline.
func (c *Conn) WriteFrame(deadline time.Time, command string, payload []byte) error {
	if err := c.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return WriteFrame(c.Conn, command, payload)
}
