// Package transport provides the charge-point-side WebSocket dialer
// SessionFsm uses to attach an RpcEndpoint to a central system. It
// mirrors the teacher's internal/transport/websocket/manager.go
// gorilla/websocket usage, adapted for the outbound/client side instead
// of the teacher's inbound/server side, and is cross-checked against
// other_examples' wlgo_ocpp_charger_simulator Connect()/receiveMessages
// shape (dial, handshake, then a dedicated read goroutine).
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/charge-point-gateway/internal/security"
)

// Conn is the minimal connection surface SessionFsm/RpcEndpoint need:
// Send satisfies endpoint.Transport, ReadMessage is the charge point's
// single read-loop source, Close detaches it.
type Conn interface {
	Send(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a new WebSocket connection to the central system,
// applying the resolved security credentials (TLS config, Basic Auth).
type Dialer interface {
	Dial(ctx context.Context, url string, creds security.Credentials, chargePointID, subprotocol string) (Conn, error)
}

// WebSocketDialer is the default gorilla/websocket-backed Dialer.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// NewWebSocketDialer builds a Dialer with the given handshake timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: handshakeTimeout}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, creds security.Credentials, chargePointID, subprotocol string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     []string{subprotocol},
		TLSClientConfig:  creds.TLSConfig,
	}

	header := http.Header{}
	if creds.RequiresBasic {
		req := &http.Request{Header: header}
		req.SetBasicAuth(creds.BasicAuthUsername, creds.BasicAuthPassword)
		header = req.Header
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
