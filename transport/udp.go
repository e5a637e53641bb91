// Package transport supplies concrete dialog.Peer implementations over
// UDP and WebSocket sockets. The dialog core only ever talks through the
// narrow Peer interface; everything socket-shaped lives here.
package transport

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"

	"sipdialog/sip"
)

// UDPPeer implements dialog.Peer over a single UDP socket, bound to one
// fixed remote address: one dialog gets one Peer, so there is no need for
// a reference-counted, shared connection pool.
type UDPPeer struct {
	conn  net.PacketConn
	raddr net.Addr
	log   *slog.Logger
}

// NewUDPPeer wraps conn for sending to raddr. conn is typically shared
// across many UDPPeer values pointed at different remote addresses; it is
// not closed by UDPPeer itself.
func NewUDPPeer(conn net.PacketConn, raddr net.Addr) *UDPPeer {
	return &UDPPeer{conn: conn, raddr: raddr, log: slog.Default()}
}

func (p *UDPPeer) SendMessage(msg sip.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	data = bytes.Replace(data, []byte("%(protocol)s"), []byte("UDP"), 1)

	n, err := p.conn.WriteTo(data, p.raddr)
	if err != nil {
		return fmt.Errorf("udp peer: write to %s: %w", p.raddr, err)
	}
	messagesSent.WithLabelValues("udp").Inc()
	bytesSent.WithLabelValues("udp").Add(float64(n))
	if n != len(data) {
		return fmt.Errorf("udp peer: short write to %s", p.raddr)
	}
	return nil
}

// ListenUDP runs conn's read loop until it errors or is closed, calling
// handler once per well-formed datagram. Each UDP packet is assumed to
// carry exactly one SIP message, so no stream reassembly is needed here.
func ListenUDP(conn net.PacketConn, handler func(msg sip.Message, raddr net.Addr)) error {
	buf := make([]byte, 65535)
	log := slog.Default()
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}

		data := buf[:n]
		if len(bytes.Trim(data, "\r\n")) == 0 {
			continue // bare CRLF keep-alive
		}

		msg, err := sip.ParseMessage(append([]byte(nil), data...))
		if err != nil {
			log.Error("udp: failed to parse datagram", "raddr", raddr.String(), "err", err)
			continue
		}
		messagesReceived.WithLabelValues("udp").Inc()
		bytesReceived.WithLabelValues("udp").Add(float64(n))
		handler(msg, raddr)
	}
}
