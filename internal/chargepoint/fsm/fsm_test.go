package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charge-point-gateway/internal/chargepoint/transport"
	"github.com/charging-platform/charge-point-gateway/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/wire"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
	"github.com/charging-platform/charge-point-gateway/internal/security"
	"github.com/charging-platform/charge-point-gateway/internal/config"
)

// loopbackConn is a transport.Conn whose writes are visible to a
// simulated central system goroutine started by the test.
type loopbackConn struct {
	toServer chan []byte
	toClient chan []byte
	closed   chan struct{}
}

func newLoopbackConn() *loopbackConn {
	return &loopbackConn{
		toServer: make(chan []byte, 8),
		toClient: make(chan []byte, 8),
		closed:   make(chan struct{}),
	}
}

func (c *loopbackConn) Send(data []byte) error {
	select {
	case c.toServer <- data:
		return nil
	case <-c.closed:
		return assert.AnError
	}
}

func (c *loopbackConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.toClient:
		return data, nil
	case <-c.closed:
		return nil, assert.AnError
	}
}

func (c *loopbackConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// acceptingCentralSystem replies Accepted to BootNotification and
// Accepted/empty responses to anything else it recognizes.
func acceptingCentralSystem(t *testing.T, conn *loopbackConn) {
	t.Helper()
	go func() {
		for {
			select {
			case data := <-conn.toServer:
				frame, err := wire.Decode(data)
				if err != nil || frame.Call == nil {
					continue
				}
				switch frame.Call.Action {
				case string(ocpp16.ActionBootNotification):
					resp := ocpp16.BootNotificationResponse{
						Status:      ocpp16.RegistrationStatusAccepted,
						CurrentTime: ocpp16.DateTime{Time: time.Now()},
						Interval:    1,
					}
					out, _ := wire.EncodeCallResult(frame.Call.ID, resp)
					conn.toClient <- out
				default:
					out, _ := wire.EncodeCallResult(frame.Call.ID, map[string]string{})
					conn.toClient <- out
				}
			case <-conn.closed:
				return
			}
		}
	}()
}

type fakeDialer struct {
	conn *loopbackConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, creds security.Credentials, chargePointID, subprotocol string) (transport.Conn, error) {
	return d.conn, nil
}

type emptySource struct{}

func (emptySource) CertKeyPair(ctx context.Context) ([]byte, []byte, error) { return nil, nil, nil }
func (emptySource) CACert(ctx context.Context) ([]byte, error)              { return nil, nil }
func (emptySource) BasicAuthPassword(ctx context.Context) (string, error)   { return "", nil }

func newTestFsm(t *testing.T, conn *loopbackConn) *Fsm {
	t.Helper()
	timers := sched.NewTimerPool()
	t.Cleanup(timers.Stop)
	workers := sched.NewWorkerPool(2, 8)
	t.Cleanup(workers.Stop)

	resolver := security.New(config.SecurityConfig{}, emptySource{})

	f := New(Config{
		ChargePointID:     "CP-1",
		CentralSystemURL:  "ws://example.invalid/ocpp",
		Dialer:            &fakeDialer{conn: conn},
		Security:          resolver,
		Profile:           security.ProfileUnsecured,
		TimerPool:         timers,
		WorkerPool:        workers,
		HeartbeatFallback: time.Hour,
		CallTimeout:       time.Second,
		ReconnectBackoff:  50 * time.Millisecond,
	})
	return f
}

func TestStartReachesAccepted(t *testing.T) {
	conn := newLoopbackConn()
	acceptingCentralSystem(t, conn)
	f := newTestFsm(t, conn)

	require.NoError(t, f.Start(context.Background(), BootInfo{ChargePointVendor: "Acme", ChargePointModel: "X1"}))

	require.Eventually(t, func() bool {
		return f.State() == StateAccepted
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, ocpp16.RegistrationStatusAccepted, f.GetRegistrationStatus())
	assert.True(t, f.MaySend(string(ocpp16.ActionStatusNotification)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Stop(ctx))
	assert.Equal(t, StateStopped, f.State())
}

func TestMaySendFalseBeforeAccepted(t *testing.T) {
	conn := newLoopbackConn()
	f := newTestFsm(t, conn)

	assert.False(t, f.MaySend(string(ocpp16.ActionStatusNotification)))
	assert.Equal(t, ocpp16.RegistrationStatusRejected, f.GetRegistrationStatus())
}

func TestCallReturnsNotConnectedWhenNotAccepted(t *testing.T) {
	conn := newLoopbackConn()
	f := newTestFsm(t, conn)

	_, err := f.Call(context.Background(), string(ocpp16.ActionAuthorize), ocpp16.AuthorizeRequest{})
	assert.ErrorIs(t, err, ErrNotConnected)
}
