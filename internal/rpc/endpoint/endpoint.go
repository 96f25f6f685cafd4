// Package endpoint implements the spec's RpcEndpoint (component D): a
// symmetric request/response engine multiplexing outbound Calls with
// inbound Calls over a single WebSocket connection, used identically by
// the central-system-side ServerSession and the charge-point-side
// dialer. It generalizes the teacher's
// internal/protocol/ocpp16/processor.go pendingRequests table into a
// transport-agnostic, version-agnostic component.
package endpoint

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/metrics"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/wire"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
)

// OutcomeKind enumerates the call() failure modes from spec §4.D.
type OutcomeKind int

const (
	OutcomeTimeout OutcomeKind = iota
	OutcomePeerError
	OutcomeConnectionLost
	OutcomeEncodeError
)

// CallOutcome is the error returned by Call for every non-success path.
type CallOutcome struct {
	Kind        OutcomeKind
	Code        wire.ErrorCode
	Description string
	cause       error
}

func (o *CallOutcome) Error() string {
	switch o.Kind {
	case OutcomeTimeout:
		return "rpc call timed out"
	case OutcomePeerError:
		return fmt.Sprintf("rpc call failed: %s: %s", o.Code, o.Description)
	case OutcomeConnectionLost:
		return "rpc connection lost"
	case OutcomeEncodeError:
		return fmt.Sprintf("rpc encode error: %v", o.cause)
	default:
		return "rpc call failed"
	}
}

func (o *CallOutcome) Unwrap() error { return o.cause }

// Transport is the byte-frame send side the endpoint writes to. Reading
// is the transport owner's responsibility; it calls HandleInbound as
// frames arrive (single-producer, per spec §4.D).
type Transport interface {
	Send(data []byte) error
}

// ListenerFunc handles an inbound Call on a worker goroutine and returns
// either a JSON response payload or a CallError pair.
type ListenerFunc func(ctx context.Context, action string, payload []byte) (response interface{}, callErr *wire.CallError)

// SpyFunc observes every frame's raw bytes, tagged by direction.
type SpyFunc func(direction Direction, data []byte)

// Direction distinguishes spy observations.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

type pendingCall struct {
	id     string
	action string
	done   chan *callResult
	timer  *sched.Timer
}

type callResult struct {
	payload []byte
	err     *CallOutcome
}

// Endpoint is one RpcEndpoint instance, bound to a single transport
// connection for its lifetime. Create a new Endpoint per connection.
type Endpoint struct {
	transport  Transport
	timerPool  *sched.TimerPool
	workerPool *sched.WorkerPool
	log        *logger.Logger

	idCounter uint64
	connected atomic.Bool

	mu      sync.Mutex
	pending map[string]*pendingCall

	inboundMu     sync.Mutex
	inboundActive map[string]bool

	listenerMu sync.RWMutex
	listener   ListenerFunc

	spyMu sync.RWMutex
	spies []SpyFunc

	onDisconnect func()
}

// Config bundles the shared scheduling fabric an Endpoint uses; timer
// and worker pools are normally owned by the ServerSession/SessionFsm
// that creates endpoints, not by each Endpoint individually.
type Config struct {
	TimerPool  *sched.TimerPool
	WorkerPool *sched.WorkerPool
	Logger     *logger.Logger
}

// New binds an Endpoint to transport. The endpoint is considered
// connected from construction until NotifyDisconnected is called.
func New(transport Transport, cfg Config) *Endpoint {
	e := &Endpoint{
		transport:  transport,
		timerPool:  cfg.TimerPool,
		workerPool: cfg.WorkerPool,
		log:        cfg.Logger,
		pending:       make(map[string]*pendingCall),
		inboundActive: make(map[string]bool),
	}
	e.connected.Store(true)
	return e
}

// SetListener registers the handler for inbound Calls. Only one
// listener is supported at a time, matching spec §4.D's "the" listener.
func (e *Endpoint) SetListener(fn ListenerFunc) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listener = fn
}

// SetOnDisconnect registers a callback fired exactly once when the
// endpoint transitions to disconnected.
func (e *Endpoint) SetOnDisconnect(fn func()) {
	e.onDisconnect = fn
}

// AddSpy registers an observer of every frame's raw bytes. Any number of
// spies may be registered.
func (e *Endpoint) AddSpy(fn SpyFunc) {
	e.spyMu.Lock()
	defer e.spyMu.Unlock()
	e.spies = append(e.spies, fn)
}

func (e *Endpoint) notifySpies(dir Direction, data []byte) {
	e.spyMu.RLock()
	defer e.spyMu.RUnlock()
	for _, spy := range e.spies {
		spy(dir, data)
	}
}

// IsConnected reports whether the endpoint still considers its
// transport usable.
func (e *Endpoint) IsConnected() bool {
	return e.connected.Load()
}

// nextID returns the decimal representation of the endpoint's call
// counter, per spec §4.D.
func (e *Endpoint) nextID() string {
	return fmt.Sprintf("%d", atomic.AddUint64(&e.idCounter, 1))
}

// Call issues an outbound Call and blocks until a CallResult, CallError,
// timeout, or connection loss resolves it.
func (e *Endpoint) Call(ctx context.Context, action string, payload interface{}, timeout time.Duration) ([]byte, error) {
	if !e.IsConnected() {
		return nil, &CallOutcome{Kind: OutcomeConnectionLost}
	}

	id := e.nextID()
	data, err := wire.EncodeCall(id, action, payload)
	if err != nil {
		return nil, &CallOutcome{Kind: OutcomeEncodeError, cause: err}
	}

	pc := &pendingCall{id: id, action: action, done: make(chan *callResult, 1)}
	start := time.Now()
	defer func() { metrics.RpcCallDuration.WithLabelValues(action).Observe(time.Since(start).Seconds()) }()

	e.mu.Lock()
	e.pending[id] = pc
	e.mu.Unlock()

	if e.timerPool != nil && timeout > 0 {
		pc.timer = e.timerPool.After(timeout, func() { e.completeTimeout(id) })
	}

	if err := e.transport.Send(data); err != nil {
		e.removePending(id)
		return nil, &CallOutcome{Kind: OutcomeConnectionLost, cause: err}
	}
	e.notifySpies(DirectionOutbound, data)

	select {
	case result := <-pc.done:
		if result.err != nil {
			return nil, result.err
		}
		return result.payload, nil
	case <-ctx.Done():
		e.removePending(id)
		return nil, ctx.Err()
	}
}

func (e *Endpoint) removePending(id string) *pendingCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}

func (e *Endpoint) completeTimeout(id string) {
	pc := e.removePending(id)
	if pc == nil {
		return
	}
	pc.done <- &callResult{err: &CallOutcome{Kind: OutcomeTimeout}}
}

// HandleInbound decodes and dispatches one received frame. The transport
// owner calls this from its single read loop.
func (e *Endpoint) HandleInbound(ctx context.Context, data []byte) {
	e.notifySpies(DirectionInbound, data)

	frame, err := wire.Decode(data)
	if err != nil {
		if fe, ok := err.(*wire.FrameError); ok && fe.HasID {
			e.respondError(fe.ID, wire.ErrorFormationViolation, fe.Message)
		} else if e.log != nil {
			e.log.Warnf("dropping malformed RPC frame: %v", err)
		}
		return
	}

	switch {
	case frame.Call != nil:
		e.dispatchCall(ctx, frame.Call)
	case frame.Result != nil:
		e.completeSuccess(frame.Result.ID, frame.Result.Payload)
	case frame.Err != nil:
		e.completeError(frame.Err)
	}
}

// dispatchCall runs the registered listener for an inbound Call. Per
// spec §7, a duplicate id arriving while the previous Call with that id
// is still being handled is a protocol violation: the peer must not
// reuse an id until it has seen a response, so receiving one anyway is
// rejected with CallError{ProtocolError} rather than run concurrently.
func (e *Endpoint) dispatchCall(ctx context.Context, call *wire.Call) {
	e.listenerMu.RLock()
	listener := e.listener
	e.listenerMu.RUnlock()

	if listener == nil {
		e.respondError(call.ID, wire.ErrorNotImplemented, "no listener registered")
		return
	}

	if !e.beginInbound(call.ID) {
		e.respondError(call.ID, wire.ErrorProtocolError, fmt.Sprintf("duplicate call id %s still pending", call.ID))
		return
	}

	run := func() {
		defer e.endInbound(call.ID)

		response, callErr := listener(ctx, call.Action, call.Payload)
		if callErr != nil {
			e.respondError(call.ID, callErr.Code, callErr.Description)
			return
		}
		data, err := wire.EncodeCallResult(call.ID, response)
		if err != nil {
			e.respondError(call.ID, wire.ErrorInternalError, "failed to encode response")
			return
		}
		if err := e.transport.Send(data); err == nil {
			e.notifySpies(DirectionOutbound, data)
		}
	}

	if e.workerPool != nil {
		e.workerPool.Submit(run)
	} else {
		go run()
	}
}

// beginInbound reserves id as in-flight, reporting false if it was
// already reserved (the duplicate-Call case).
func (e *Endpoint) beginInbound(id string) bool {
	e.inboundMu.Lock()
	defer e.inboundMu.Unlock()
	if e.inboundActive[id] {
		return false
	}
	e.inboundActive[id] = true
	return true
}

func (e *Endpoint) endInbound(id string) {
	e.inboundMu.Lock()
	defer e.inboundMu.Unlock()
	delete(e.inboundActive, id)
}

func (e *Endpoint) respondError(id string, code wire.ErrorCode, description string) {
	data, err := wire.EncodeCallError(id, code, description, nil)
	if err != nil {
		return
	}
	if err := e.transport.Send(data); err == nil {
		e.notifySpies(DirectionOutbound, data)
	}
}

func (e *Endpoint) completeSuccess(id string, payload []byte) {
	pc := e.removePending(id)
	if pc == nil {
		if e.log != nil {
			e.log.Debugf("dropping CallResult for unknown id %s", id)
		}
		return
	}
	pc.done <- &callResult{payload: payload}
}

func (e *Endpoint) completeError(callErr *wire.CallError) {
	pc := e.removePending(callErr.ID)
	if pc == nil {
		if e.log != nil {
			e.log.Debugf("dropping CallError for unknown id %s", callErr.ID)
		}
		return
	}
	pc.done <- &callResult{err: &CallOutcome{
		Kind:        OutcomePeerError,
		Code:        callErr.Code,
		Description: callErr.Description,
	}}
}

// NotifyDisconnected completes every pending call with ConnectionLost
// and fires the registered disconnect callback exactly once.
func (e *Endpoint) NotifyDisconnected() {
	if !e.connected.CompareAndSwap(true, false) {
		return
	}

	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*pendingCall)
	e.mu.Unlock()

	for _, pc := range pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.done <- &callResult{err: &CallOutcome{Kind: OutcomeConnectionLost}}
	}

	if e.onDisconnect != nil {
		e.onDisconnect()
	}
}

// PendingCount reports the number of outstanding outbound calls; used
// for health/diagnostic reporting the way the teacher's processor
// exposes GetPendingRequestCount.
func (e *Endpoint) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
