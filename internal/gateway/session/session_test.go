package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charge-point-gateway/internal/rpc/endpoint"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/wire"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
)

func newTestManager(t *testing.T) (*Manager, *sched.TimerPool, *sched.WorkerPool) {
	t.Helper()
	timers := sched.NewTimerPool()
	t.Cleanup(timers.Stop)
	workers := sched.NewWorkerPool(2, 8)
	t.Cleanup(workers.Stop)

	m := NewManager(Config{
		Upgrader: websocket.Upgrader{
			Subprotocols: []string{"ocpp1.6"},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		ReadTimeout: time.Second,
		TimerPool:   timers,
		WorkerPool:  workers,
		OnListener: func(version, chargePointID string) endpoint.ListenerFunc {
			return func(ctx context.Context, action string, payload []byte) (interface{}, *wire.CallError) {
				return map[string]string{"echo": action}, nil
			}
		},
	})
	return m, timers, workers
}

func dialChargePoint(t *testing.T, serverURL, chargePointID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ocpp/" + chargePointID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestReplaceClosesOldSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/ocpp/")
		m.HandleUpgrade(w, r, id)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	first := dialChargePoint(t, server.URL, "CP-1")
	defer first.Close()

	require.Eventually(t, func() bool {
		return m.Count() == 1
	}, time.Second, 5*time.Millisecond)

	firstSession, ok := m.Get("CP-1")
	require.True(t, ok)

	second := dialChargePoint(t, server.URL, "CP-1")
	defer second.Close()

	require.Eventually(t, func() bool {
		s, ok := m.Get("CP-1")
		return ok && s != firstSession
	}, time.Second, 5*time.Millisecond)

	assert.False(t, firstSession.Endpoint.IsConnected())
	assert.Equal(t, 1, m.Count())
}

func TestRejectedConnectionNeverAttaches(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.cfg.AcceptConnection = func(ctx context.Context, remoteAddr string) AcceptDecision {
		return AcceptDecision{Allow: false, Reason: "denied"}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/ocpp/")
		m.HandleUpgrade(w, r, id)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ocpp/CP-2", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, m.Count())
}
