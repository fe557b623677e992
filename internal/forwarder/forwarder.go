// Package forwarder hands submissions to the storage daemon as single UDP
// datagrams. There is no acknowledgement and no retry.
package forwarder

import (
	"fmt"
	"net"
)

// Sender delivers one payload. A nil error only means the datagram left the
// socket, not that anyone processed it.
type Sender interface {
	Send(payload []byte) error
}

// UDPSender opens a fresh socket per payload, writes one datagram and closes
// it again.
type UDPSender struct {
	addr string
}

func NewUDPSender(addr string) *UDPSender {
	return &UDPSender{addr: addr}
}

func (s *UDPSender) Addr() string {
	return s.addr
}

func (s *UDPSender) Send(payload []byte) error {
	conn, err := net.Dial("udp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	n, err := conn.Write(payload)
	if err != nil {
		return fmt.Errorf("send to %s: %w", s.addr, err)
	}
	if n != len(payload) {
		return fmt.Errorf("send to %s: short write %d of %d bytes", s.addr, n, len(payload))
	}

	return nil
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(payload []byte) error

func (f SenderFunc) Send(payload []byte) error {
	return f(payload)
}
