package stream

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens the stream as a WebSocket. The handshake succeeds on
// 101 Switching Protocols; http(s) URLs are mapped to ws(s).
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer with a bounded handshake.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Dialer: &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}}
}

func (d *WebSocketDialer) Dial(ctx context.Context, hs Handshake) (Conn, error) {
	u, err := url.Parse(strings.TrimRight(hs.URL, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), hs.Header)
	if err != nil {
		if resp != nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, &HandshakeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		return nil, err
	}

	conn.SetPingHandler(func(appData string) error {
		hs.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	// ReadMessage takes no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return &wsConn{conn: conn, stop: stop}, nil
}

type wsConn struct {
	conn *websocket.Conn
	stop func() bool
}

func (c *wsConn) Next() (Frame, error) {
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return Frame{Data: msg}, nil
		}
	}
}

func (c *wsConn) Close() error {
	c.stop()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
