// Package fsm implements the spec's SessionFsm (component H): the
// charge-point-side connection lifecycle covering boot, registration,
// heartbeat, reconnection and uptime accounting. The teacher has no
// analog (it is central-system-only); this is grounded directly on
// original_source/src/ocpp16/chargepoint/ChargePoint.h's single
// processing thread owning all state, adapted into Go's
// goroutine-owns-state-via-channel idiom the teacher itself uses for
// internal/transport/websocket/manager.go's ping/cleanup routines.
package fsm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/charging-platform/charge-point-gateway/internal/chargepoint/transport"
	"github.com/charging-platform/charge-point-gateway/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/metrics"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/endpoint"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
	"github.com/charging-platform/charge-point-gateway/internal/security"
	"github.com/charging-platform/charge-point-gateway/internal/store/fifo"
	"github.com/charging-platform/charge-point-gateway/internal/store/kv"
)

// State is one of the SessionFsm's lifecycle states, per spec §4.H.
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	StateAccepted
	StatePendingRegistration
	StateRejected
	StateReconnecting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateAccepted:
		return "Accepted"
	case StatePendingRegistration:
		return "PendingRegistration"
	case StateRejected:
		return "Rejected"
	case StateReconnecting:
		return "Reconnecting"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// ErrNotConnected is returned by realtime sends, and by offline-queued
// sends when the cached registration status does not permit offline
// operation.
var ErrNotConnected = errors.New("session fsm: not connected")

// offlineQueueableActions are enqueued into the RequestFifo when not
// Accepted, subject to the offline-allowed flag (spec §4.H).
var offlineQueueableActions = map[string]bool{
	string(ocpp16.ActionStatusNotification): true,
	string(ocpp16.ActionMeterValues):        true,
	string(ocpp16.ActionStartTransaction):   true,
	string(ocpp16.ActionStopTransaction):    true,
}

// BootInfo carries the fields SessionFsm needs to assemble the
// BootNotification request on every (re)connect attempt.
type BootInfo struct {
	ChargePointVendor       string
	ChargePointModel        string
	ChargePointSerialNumber string
	FirmwareVersion         string
}

// Config wires the SessionFsm to its collaborators.
type Config struct {
	ChargePointID      string
	CentralSystemURL   string
	Subprotocol        string
	ConnectorIDs       []int

	Dialer    transport.Dialer
	Security  *security.Resolver
	Profile   security.Profile

	KV   *kv.Store
	FIFO *fifo.Store

	TimerPool  *sched.TimerPool
	WorkerPool *sched.WorkerPool
	Logger     *logger.Logger

	HeartbeatFallback  time.Duration
	BootRetryFallback  time.Duration
	ReconnectBackoff   time.Duration
	MaxBootRetries     int
	CallTimeout        time.Duration
	UptimePersistTicks int
}

type eventKind int

const (
	evStart eventKind = iota
	evConnected
	evConnectFailed
	evBootResponse
	evBootFailed
	evDisconnected
	evStop
	evTick
)

type fsmEvent struct {
	kind         eventKind
	conn         transport.Conn
	err          error
	bootStatus   ocpp16.RegistrationStatus
	bootInterval int
}

// Fsm is the running SessionFsm instance. One Fsm exists for the life
// of the charge-point process, per spec §3's lifecycle note.
type Fsm struct {
	cfg Config

	events chan fsmEvent
	done   chan struct{}

	mu                 sync.RWMutex
	state              State
	registrationStatus ocpp16.RegistrationStatus
	lastConnectionURL  string

	conn       transport.Conn
	ep         *endpoint.Endpoint
	breaker    *gobreaker.CircuitBreaker
	bootInfo   BootInfo
	bootRetries int

	hbMu           sync.Mutex
	heartbeatTimer *sched.Timer
	bootRetryTimer *sched.Timer
	reconnectTimer *sched.Timer
	uptimeTicker   *sched.Timer

	heartbeatInterval time.Duration

	uptimeSeconds       int64
	disconnectedSeconds int64
	ticksSincePersist   int

	// lastPersisted{Uptime,Disconnected} snapshot the counters as of the
	// last persistCounters call, so the next call persists the actual
	// accumulated delta rather than assuming a full UptimePersistTicks
	// window elapsed.
	lastPersistedUptime       int64
	lastPersistedDisconnected int64

	connected atomic.Bool
}

// New constructs a Fsm in the Stopped state. Call Start to begin.
func New(cfg Config) *Fsm {
	if len(cfg.ConnectorIDs) == 0 {
		cfg.ConnectorIDs = []int{0}
	}
	if cfg.HeartbeatFallback == 0 {
		cfg.HeartbeatFallback = 300 * time.Second
	}
	if cfg.BootRetryFallback == 0 {
		cfg.BootRetryFallback = 10 * time.Second
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 10 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.UptimePersistTicks == 0 {
		cfg.UptimePersistTicks = 15
	}
	if cfg.Subprotocol == "" {
		cfg.Subprotocol = "ocpp1.6"
	}

	f := &Fsm{
		cfg:                cfg,
		events:             make(chan fsmEvent, 16),
		done:               make(chan struct{}),
		state:              StateStopped,
		registrationStatus: ocpp16.RegistrationStatusRejected,
		heartbeatInterval:  cfg.HeartbeatFallback,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "chargepoint-reconnect",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	return f
}

// Start transitions Stopped → Connecting and begins the connect/boot
// cycle. It returns an error if the FSM is not in Stopped.
func (f *Fsm) Start(ctx context.Context, boot BootInfo) error {
	f.mu.Lock()
	if f.state != StateStopped {
		f.mu.Unlock()
		return fmt.Errorf("session fsm: Start called in state %s", f.state)
	}
	f.mu.Unlock()

	f.bootInfo = boot
	go f.run(ctx)
	f.resetBootPolicy(ctx)
	f.uptimeTicker = f.cfg.TimerPool.Every(time.Second, func() { f.events <- fsmEvent{kind: evTick} })
	f.events <- fsmEvent{kind: evStart}
	return nil
}

// resetBootPolicy resets the persisted last-registration-status to
// Rejected when the connection URL has changed since last start, per
// spec §4.H's boot policy ("prevent stale offline operation allowed").
func (f *Fsm) resetBootPolicy(ctx context.Context) {
	if f.cfg.KV == nil {
		return
	}
	lastURL, _, err := f.cfg.KV.Get(ctx, kv.KeyLastConnectionURL)
	if err == nil && lastURL != f.cfg.CentralSystemURL {
		_ = f.cfg.KV.Set(ctx, kv.KeyLastRegistrationStatus, string(ocpp16.RegistrationStatusRejected))
	}
	_ = f.cfg.KV.Set(ctx, kv.KeyLastConnectionURL, f.cfg.CentralSystemURL)

	if status, ok, err := f.cfg.KV.Get(ctx, kv.KeyLastRegistrationStatus); err == nil && ok {
		f.mu.Lock()
		f.registrationStatus = ocpp16.RegistrationStatus(status)
		f.mu.Unlock()
	}
}

// Stop transitions to Stopping: cancels timers, closes the transport,
// and waits (bounded by ctx) for the run loop to fully exit.
func (f *Fsm) Stop(ctx context.Context) error {
	select {
	case f.events <- fsmEvent{kind: evStop}:
	default:
		go func() { f.events <- fsmEvent{kind: evStop} }()
	}

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetRegistrationStatus returns the last known RegistrationStatus,
// persisting even across Reconnecting, per spec §4.H.
func (f *Fsm) GetRegistrationStatus() ocpp16.RegistrationStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registrationStatus
}

// State returns the current lifecycle state.
func (f *Fsm) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// MaySend reports whether action may be transmitted right now: any
// action in Accepted, or, in any other state, an offline-queueable
// action when the last known status was Accepted (offline policy).
func (f *Fsm) MaySend(action string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state == StateAccepted {
		return true
	}
	return offlineQueueableActions[action] && f.registrationStatus == ocpp16.RegistrationStatusAccepted
}

// Call issues a realtime request/response action (Authorize,
// DataTransfer) that cannot be queued; returns ErrNotConnected if the
// charge point is not currently Accepted.
func (f *Fsm) Call(ctx context.Context, action string, payload interface{}) ([]byte, error) {
	f.mu.RLock()
	state := f.state
	ep := f.ep
	f.mu.RUnlock()

	if state != StateAccepted || ep == nil {
		return nil, ErrNotConnected
	}
	return ep.Call(ctx, action, payload, f.cfg.CallTimeout)
}

// SendOrQueue issues an offline-queueable action (StatusNotification,
// MeterValues, transaction start/stop). When Accepted it is sent
// immediately; otherwise, if offline operation is allowed (last known
// status was Accepted), it is durably enqueued for replay.
func (f *Fsm) SendOrQueue(ctx context.Context, connectorID int, action string, payload interface{}) error {
	f.mu.RLock()
	state := f.state
	ep := f.ep
	offlineAllowed := f.registrationStatus == ocpp16.RegistrationStatusAccepted
	f.mu.RUnlock()

	if state == StateAccepted && ep != nil {
		f.armHeartbeat()
		_, err := ep.Call(ctx, action, payload, f.cfg.CallTimeout)
		return err
	}

	if !offlineQueueableActions[action] || !offlineAllowed {
		return ErrNotConnected
	}
	if f.cfg.FIFO == nil {
		return ErrNotConnected
	}
	_, err := f.cfg.FIFO.Enqueue(ctx, connectorID, action, payload)
	return err
}

// run is the single goroutine owning all SessionFsm state, per spec
// §4.H / §5's "PendingCall table is mutated from... a single
// goroutine" shared-resource policy generalized to the whole FSM.
func (f *Fsm) run(ctx context.Context) {
	for ev := range f.events {
		switch ev.kind {
		case evStart:
			f.onStart(ctx)
		case evConnected:
			f.onConnected(ctx, ev.conn)
		case evConnectFailed:
			f.onConnectFailed(ctx, ev.err)
		case evBootResponse:
			f.onBootResponse(ctx, ev.bootStatus, ev.bootInterval)
		case evBootFailed:
			f.onBootFailed(ctx)
		case evDisconnected:
			f.onDisconnected(ctx)
		case evTick:
			f.onTick(ctx)
		case evStop:
			f.onStop(ctx)
			close(f.done)
			return
		}
	}
}

func (f *Fsm) setState(s State) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	if prev != s {
		metrics.FsmStateTransitions.WithLabelValues(prev.String(), s.String()).Inc()
	}
}

func (f *Fsm) onStart(ctx context.Context) {
	f.setState(StateConnecting)
	f.dial(ctx)
}

func (f *Fsm) dial(ctx context.Context) {
	go func() {
		creds, err := f.cfg.Security.CredentialsFor(ctx, f.cfg.Profile)
		if err != nil {
			f.events <- fsmEvent{kind: evConnectFailed, err: err}
			return
		}
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.cfg.Dialer.Dial(ctx, f.cfg.CentralSystemURL, creds, f.cfg.ChargePointID, f.cfg.Subprotocol)
		})
		if err != nil {
			f.events <- fsmEvent{kind: evConnectFailed, err: err}
			return
		}
		f.events <- fsmEvent{kind: evConnected, conn: result.(transport.Conn)}
	}()
}

func (f *Fsm) onConnectFailed(ctx context.Context, err error) {
	if f.cfg.Logger != nil {
		f.cfg.Logger.Warnf("session fsm: connect failed: %v", err)
	}
	f.scheduleReconnect()
}

func (f *Fsm) onConnected(ctx context.Context, conn transport.Conn) {
	f.conn = conn
	f.connected.Store(true)
	f.ep = endpoint.New(conn, endpoint.Config{
		TimerPool:  f.cfg.TimerPool,
		WorkerPool: f.cfg.WorkerPool,
		Logger:     f.cfg.Logger,
	})
	f.ep.SetOnDisconnect(func() { f.events <- fsmEvent{kind: evDisconnected} })

	go f.readLoop(conn)

	f.setState(StateConnected)
	f.sendBootNotification(ctx)
}

func (f *Fsm) readLoop(conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			f.connected.Store(false)
			if f.ep != nil {
				f.ep.NotifyDisconnected()
			}
			return
		}
		f.ep.HandleInbound(context.Background(), data)
	}
}

func (f *Fsm) sendBootNotification(ctx context.Context) {
	req := ocpp16.BootNotificationRequest{
		ChargePointVendor: f.bootInfo.ChargePointVendor,
		ChargePointModel:  f.bootInfo.ChargePointModel,
	}
	if f.bootInfo.ChargePointSerialNumber != "" {
		req.ChargePointSerialNumber = &f.bootInfo.ChargePointSerialNumber
	}
	if f.bootInfo.FirmwareVersion != "" {
		req.FirmwareVersion = &f.bootInfo.FirmwareVersion
	}
	f.cfg.WorkerPool.Submit(func() {
		raw, err := f.ep.Call(ctx, string(ocpp16.ActionBootNotification), req, f.cfg.CallTimeout)
		if err != nil {
			f.events <- fsmEvent{kind: evBootFailed}
			return
		}
		var resp ocpp16.BootNotificationResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			f.events <- fsmEvent{kind: evBootFailed}
			return
		}
		f.events <- fsmEvent{kind: evBootResponse, bootStatus: resp.Status, bootInterval: resp.Interval}
	})
}

func (f *Fsm) onBootFailed(ctx context.Context) {
	f.bootRetries++
	if f.cfg.MaxBootRetries > 0 && f.bootRetries >= f.cfg.MaxBootRetries {
		f.scheduleReconnect()
		return
	}
	f.bootRetryTimer = f.cfg.TimerPool.After(f.cfg.BootRetryFallback, func() {
		f.sendBootNotification(ctx)
	})
}

func (f *Fsm) onBootResponse(ctx context.Context, status ocpp16.RegistrationStatus, interval int) {
	f.mu.Lock()
	f.registrationStatus = status
	f.mu.Unlock()
	if f.cfg.KV != nil {
		_ = f.cfg.KV.Set(ctx, kv.KeyLastRegistrationStatus, string(status))
	}

	switch status {
	case ocpp16.RegistrationStatusAccepted:
		f.bootRetries = 0
		f.setState(StateAccepted)
		if interval > 0 {
			f.heartbeatInterval = time.Duration(interval) * time.Second
		}
		f.armHeartbeat()
		f.cfg.WorkerPool.Submit(func() { f.replayFifo(ctx) })
	case ocpp16.RegistrationStatusPending:
		f.setState(StatePendingRegistration)
		retry := f.cfg.BootRetryFallback
		if interval > 0 {
			retry = time.Duration(interval) * time.Second
		}
		f.bootRetryTimer = f.cfg.TimerPool.After(retry, func() { f.sendBootNotification(ctx) })
	case ocpp16.RegistrationStatusRejected:
		f.setState(StateRejected)
	}
}

// armHeartbeat (re)schedules the heartbeat timer for heartbeatInterval
// from now; called on every outbound send so heartbeat never preempts
// real traffic, per spec §4.H.
func (f *Fsm) armHeartbeat() {
	f.hbMu.Lock()
	defer f.hbMu.Unlock()
	if f.heartbeatTimer == nil {
		f.heartbeatTimer = f.cfg.TimerPool.After(f.heartbeatInterval, f.sendHeartbeat)
		return
	}
	f.heartbeatTimer.Reset(f.heartbeatInterval)
}

func (f *Fsm) sendHeartbeat() {
	f.mu.RLock()
	state := f.state
	ep := f.ep
	f.mu.RUnlock()
	if state != StateAccepted || ep == nil {
		return
	}
	f.cfg.WorkerPool.Submit(func() {
		_, _ = ep.Call(context.Background(), string(ocpp16.ActionHeartbeat), ocpp16.HeartbeatRequest{}, f.cfg.CallTimeout)
		f.armHeartbeat()
	})
}

// replayFifo drains the durable queue strictly FIFO once Accepted,
// stopping at the first failure (spec §4.H / §4.F replay policy).
func (f *Fsm) replayFifo(ctx context.Context) {
	if f.cfg.FIFO == nil {
		return
	}
	for _, connectorID := range f.cfg.ConnectorIDs {
		for {
			req, ok, err := f.cfg.FIFO.Peek(ctx, connectorID)
			if err != nil || !ok {
				break
			}
			if f.State() != StateAccepted {
				return
			}
			_, err = f.ep.Call(ctx, req.Action, req.Payload, f.cfg.CallTimeout)
			if err != nil {
				if f.cfg.Logger != nil {
					f.cfg.Logger.Warnf("session fsm: fifo replay stopped for connector %d: %v", connectorID, err)
				}
				return
			}
			if err := f.cfg.FIFO.PopCommitted(ctx, req.Sequence); err != nil {
				return
			}
		}
	}
}

func (f *Fsm) onDisconnected(ctx context.Context) {
	state := f.State()
	if state == StateStopping || state == StateStopped {
		return
	}
	f.stopTimersLocked()
	f.setState(StateReconnecting)
	f.scheduleReconnect()
}

func (f *Fsm) scheduleReconnect() {
	f.reconnectTimer = f.cfg.TimerPool.After(f.cfg.ReconnectBackoff, func() {
		f.events <- fsmEvent{kind: evStart}
	})
}

// onTick fires once per second. uptime is seconds elapsed since Start
// and always advances; disconnected-time advances additionally whenever
// the session is not currently connected.
func (f *Fsm) onTick(ctx context.Context) {
	atomic.AddInt64(&f.uptimeSeconds, 1)
	if !f.connected.Load() {
		atomic.AddInt64(&f.disconnectedSeconds, 1)
	}

	f.ticksSincePersist++
	if f.ticksSincePersist < f.cfg.UptimePersistTicks {
		return
	}
	f.ticksSincePersist = 0

	uptime := atomic.LoadInt64(&f.uptimeSeconds)
	disconnected := atomic.LoadInt64(&f.disconnectedSeconds)
	f.cfg.WorkerPool.Submit(func() { f.persistCounters(ctx, uptime, disconnected) })
}

// persistCounters writes the current session counters and folds the
// delta since the last call into the running totals. The delta, not a
// fixed per-window constant, is what actually elapsed: a tick window
// that straddles a connect/disconnect transition, or a persist
// triggered early by onStop, both produce a window shorter or longer
// than UptimePersistTicks.
func (f *Fsm) persistCounters(ctx context.Context, uptime, disconnected int64) {
	if f.cfg.KV == nil {
		return
	}
	_ = f.cfg.KV.SetInt(ctx, kv.KeyLastSessionUptime, uptime)
	_ = f.cfg.KV.SetInt(ctx, kv.KeyLastSessionDisconnected, disconnected)

	uptimeDelta := uptime - atomic.SwapInt64(&f.lastPersistedUptime, uptime)
	disconnectedDelta := disconnected - atomic.SwapInt64(&f.lastPersistedDisconnected, disconnected)

	totalUptime, _ := f.cfg.KV.GetInt(ctx, kv.KeyTotalUptime)
	totalDisconnected, _ := f.cfg.KV.GetInt(ctx, kv.KeyTotalDisconnectedTime)
	_ = f.cfg.KV.SetInt(ctx, kv.KeyTotalUptime, totalUptime+uptimeDelta)
	_ = f.cfg.KV.SetInt(ctx, kv.KeyTotalDisconnectedTime, totalDisconnected+disconnectedDelta)
}

func (f *Fsm) stopTimersLocked() {
	f.hbMu.Lock()
	if f.heartbeatTimer != nil {
		f.heartbeatTimer.Stop()
		f.heartbeatTimer = nil
	}
	f.hbMu.Unlock()
	if f.bootRetryTimer != nil {
		f.bootRetryTimer.Stop()
		f.bootRetryTimer = nil
	}
	if f.reconnectTimer != nil {
		f.reconnectTimer.Stop()
		f.reconnectTimer = nil
	}
}

func (f *Fsm) onStop(ctx context.Context) {
	f.setState(StateStopping)
	f.stopTimersLocked()
	if f.uptimeTicker != nil {
		f.uptimeTicker.Stop()
	}
	if f.ep != nil {
		f.ep.NotifyDisconnected()
	}
	if f.conn != nil {
		_ = f.conn.Close()
	}

	uptime := atomic.LoadInt64(&f.uptimeSeconds)
	disconnected := atomic.LoadInt64(&f.disconnectedSeconds)
	f.persistCounters(ctx, uptime, disconnected)

	f.setState(StateStopped)
}
