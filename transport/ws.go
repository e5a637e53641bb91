package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"sipdialog/sip"
)

// sipSubprotocol is the WebSocket subprotocol SIP over WebSocket clients
// negotiate (RFC 7118).
var sipSubprotocol = []string{"sip"}

// WSPeer implements dialog.Peer over an already-established WebSocket
// connection, client or server side of the handshake.
type WSPeer struct {
	conn       net.Conn
	clientSide bool
	log        *slog.Logger
}

// NewWSPeer wraps an upgraded/dialed net.Conn. clientSide controls frame
// masking: clients must mask outbound frames, servers must not.
func NewWSPeer(conn net.Conn, clientSide bool) *WSPeer {
	connections.WithLabelValues("ws").Inc()
	return &WSPeer{conn: conn, clientSide: clientSide, log: slog.Default()}
}

// DialWS performs the client-side WebSocket handshake against addr and
// returns a WSPeer ready to use.
func DialWS(ctx context.Context, addr string) (*WSPeer, error) {
	dialer := ws.Dialer{Protocols: sipSubprotocol}
	conn, _, _, err := dialer.Dial(ctx, "ws://"+addr)
	if err != nil {
		return nil, fmt.Errorf("ws peer: dial %s: %w", addr, err)
	}
	return NewWSPeer(conn, true), nil
}

func (p *WSPeer) Close() error {
	connections.WithLabelValues("ws").Dec()
	return p.conn.Close()
}

func (p *WSPeer) SendMessage(msg sip.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	data = bytes.Replace(data, []byte("%(protocol)s"), []byte("WS"), 1)

	frame := ws.NewFrame(ws.OpText, true, data)
	if p.clientSide {
		frame = ws.MaskFrameInPlace(frame)
	}
	if err := ws.WriteFrame(p.conn, frame); err != nil {
		return fmt.Errorf("ws peer: write: %w", err)
	}
	messagesSent.WithLabelValues("ws").Inc()
	bytesSent.WithLabelValues("ws").Add(float64(len(data)))
	return nil
}

// Serve reads frames off the connection until it closes, calling handler
// for every text frame that parses as a SIP message. A close frame ends
// the loop; other control frames are discarded unanswered (a ping gets no
// pong), as are non-text data frames.
func (p *WSPeer) Serve(handler func(msg sip.Message)) error {
	state := ws.StateServerSide
	if p.clientSide {
		state = ws.StateClientSide
	}
	reader := wsutil.NewReader(p.conn, state)

	for {
		header, err := reader.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return nil
			}
			if err := reader.Discard(); err != nil {
				return err
			}
			continue
		}
		if header.OpCode&ws.OpText == 0 {
			if err := reader.Discard(); err != nil {
				return err
			}
			continue
		}

		data := make([]byte, header.Length)
		if _, err := io.ReadFull(p.conn, data); err != nil {
			return err
		}
		if header.Masked {
			ws.Cipher(data, header.Mask, 0)
		}

		messagesReceived.WithLabelValues("ws").Inc()
		bytesReceived.WithLabelValues("ws").Add(float64(len(data)))

		msg, err := sip.ParseMessage(data)
		if err != nil {
			p.log.Error("ws: failed to parse frame", "err", err)
			continue
		}
		handler(msg)
	}
}
