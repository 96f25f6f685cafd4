// Package session implements the spec's ServerSession (component I):
// the central-system side of a charge-point connection, from
// rpcAcceptConnection through rpcClientConnected to socket close. It
// is grounded on the teacher's internal/transport/websocket/manager.go
// (Manager/ConnectionWrapper/HandleConnection), translated onto the
// new RpcEndpoint instead of the teacher's fixed gateway.MessageDispatcher
// pipeline, and adds the single-active-connection-per-charge-point-id
// replace semantics spec §4.I requires (the teacher instead rejects a
// second connection outright with HTTP 409).
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/endpoint"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
)

// AcceptDecision is returned by AcceptConnection (rpcAcceptConnection):
// reject the peer before the TLS/WS handshake completes.
type AcceptDecision struct {
	Allow  bool
	Reason string
}

// CredentialChecker implements rpcCheckCredentials: in OCPP 1.x the
// username MUST equal the charge-point-id; the handler sees only
// (chargePointID, password).
type CredentialChecker func(ctx context.Context, chargePointID, password string) bool

// AcceptChecker implements rpcAcceptConnection: invoked with the peer's
// address before any handshake, may reject outright.
type AcceptChecker func(ctx context.Context, remoteAddr string) AcceptDecision

// ClientConnectedFunc implements rpcClientConnected: handed the bound
// RpcEndpoint "proxy" for the charge point, plus its negotiated OCPP
// subprotocol version.
type ClientConnectedFunc func(session *Session)

// Session is one ServerSession: a live charge-point connection bound
// to an RpcEndpoint, from accept to socket close.
type Session struct {
	ChargePointID string
	Version       string
	RemoteAddr    string
	ConnectedAt   time.Time

	Endpoint *endpoint.Endpoint

	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Close closes the underlying socket; the endpoint's pending calls
// complete with ConnectionLost via its own disconnect notification,
// triggered by the read loop observing the close.
func (s *Session) Close() error {
	s.cancel()
	return s.conn.Close()
}

// Config configures the Manager.
type Config struct {
	Upgrader          websocket.Upgrader
	ReadTimeout       time.Duration
	MaxMessageSize    int64
	PingInterval      time.Duration
	TimerPool         *sched.TimerPool
	WorkerPool        *sched.WorkerPool
	Logger            *logger.Logger
	AcceptConnection  AcceptChecker
	CheckCredentials  CredentialChecker
	OnClientConnected ClientConnectedFunc
	// OnDisconnected fires once the read loop exits for any reason
	// (peer close, read error, or replacement by a newer connection).
	OnDisconnected ClientConnectedFunc
	// OnListener builds the inbound-Call handler bound to each new
	// Endpoint, typically the Router's Listener for the negotiated
	// version and the station's charge-point-id.
	OnListener func(version, chargePointID string) endpoint.ListenerFunc
}

// Manager owns the live set of Sessions, keyed by charge-point-id, with
// single-active-connection-per-id replace semantics.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager in the Config's image.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// HandleUpgrade is the http.Handler entry point: rpcAcceptConnection,
// rpcCheckCredentials (if Basic Auth present), WS upgrade, then
// rpcClientConnected.
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request, chargePointID string) {
	ctx := r.Context()

	if m.cfg.AcceptConnection != nil {
		decision := m.cfg.AcceptConnection(ctx, r.RemoteAddr)
		if !decision.Allow {
			http.Error(w, decision.Reason, http.StatusForbidden)
			return
		}
	}

	if m.cfg.CheckCredentials != nil {
		if username, password, ok := r.BasicAuth(); ok {
			if username != chargePointID || !m.cfg.CheckCredentials(ctx, chargePointID, password) {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
		}
	}

	conn, err := m.cfg.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		if m.cfg.Logger != nil {
			m.cfg.Logger.Warnf("session manager: upgrade failed for %s: %v", chargePointID, err)
		}
		return
	}

	m.attach(conn, chargePointID, r)
}

func (m *Manager) attach(conn *websocket.Conn, chargePointID string, r *http.Request) {
	version := conn.Subprotocol()

	readTimeout := m.cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 60 * time.Second
	}
	conn.SetReadLimit(m.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wrapper := &wsTransport{conn: conn}

	session := &Session{
		ChargePointID: chargePointID,
		Version:       version,
		RemoteAddr:    r.RemoteAddr,
		ConnectedAt:   time.Now(),
		conn:          conn,
		cancel:        cancel,
	}
	session.Endpoint = endpoint.New(wrapper, endpoint.Config{
		TimerPool:  m.cfg.TimerPool,
		WorkerPool: m.cfg.WorkerPool,
		Logger:     m.cfg.Logger,
	})
	if m.cfg.OnListener != nil {
		session.Endpoint.SetListener(m.cfg.OnListener(version, chargePointID))
	}

	m.replace(chargePointID, session)

	if m.cfg.OnClientConnected != nil {
		m.cfg.OnClientConnected(session)
	}

	go m.pingLoop(ctx, session)
	m.readLoop(session)
}

// replace installs session as the active connection for chargePointID,
// closing any prior connection with ConnectionLost for its pending
// calls, per spec §4.I's "the new connection replaces the old."
func (m *Manager) replace(chargePointID string, session *Session) {
	m.mu.Lock()
	old, existed := m.sessions[chargePointID]
	m.sessions[chargePointID] = session
	m.mu.Unlock()

	if existed {
		old.Endpoint.NotifyDisconnected()
		_ = old.Close()
	}
}

func (m *Manager) readLoop(session *Session) {
	defer m.remove(session)
	defer session.Endpoint.NotifyDisconnected()
	defer func() {
		if m.cfg.OnDisconnected != nil {
			m.cfg.OnDisconnected(session)
		}
	}()

	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			return
		}
		session.Endpoint.HandleInbound(context.Background(), data)
	}
}

func (m *Manager) remove(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[session.ChargePointID]; ok && current == session {
		delete(m.sessions, session.ChargePointID)
	}
}

func (m *Manager) pingLoop(ctx context.Context, session *Session) {
	interval := m.cfg.PingInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := session.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// Get returns the active session for chargePointID, if any.
func (m *Manager) Get(chargePointID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chargePointID]
	return s, ok
}

// Count returns the number of currently active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// wsTransport adapts *websocket.Conn to endpoint.Transport.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
