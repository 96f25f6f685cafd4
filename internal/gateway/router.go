package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/charging-platform/charge-point-gateway/internal/domain/events"
	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/metrics"
	"github.com/charging-platform/charge-point-gateway/internal/ocpp/registry"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/endpoint"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/schema"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/wire"
)

// ActionHandler is the business-layer handler for one action: it
// receives the already-validated, already-decoded request and returns
// the typed response the ResponseConverter will encode, or an error.
// A returned ValidationErrors-compatible error is not expected here —
// schema validation happens before the handler runs — business errors
// map to InternalError unless the handler wraps them with WithCallError,
// which the router turns into a *wire.CallError with that code.
type ActionHandler func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error)

// callErrorWrapper lets an ActionHandler return a specific RPC
// ErrorCode instead of the router's InternalError default.
type callErrorWrapper struct {
	code wire.ErrorCode
	desc string
}

func (w *callErrorWrapper) Error() string { return w.desc }

// WithCallError wraps err so the router reports it as code/desc instead
// of InternalError, e.g. return nil, WithCallError(wire.ErrorNotSupported, "unknown connector").
func WithCallError(code wire.ErrorCode, desc string) error {
	return &callErrorWrapper{code: code, desc: desc}
}

// Router replaces the fixed-1.6 DefaultMessageDispatcher with one that
// resolves actions through the MessageRegistry/SchemaValidator pair and
// dispatches to per-action handlers registered per OCPP version. It
// keeps the teacher's event-channel and metrics idioms (events.Event
// fan-out, Prometheus counters) rather than inventing new observability
// surfaces; it keeps no stats struct of its own.
type Router struct {
	registries *registry.Set
	validator  *schema.Validator
	handlers   map[string]map[string]ActionHandler // version -> action -> handler

	eventChan chan events.Event
	logger    *logger.Logger
}

// RouterConfig bundles the Router's dependencies.
type RouterConfig struct {
	Registries      *registry.Set
	Validator       *schema.Validator
	EventBufferSize int
	Logger          *logger.Logger
}

// NewRouter builds a Router. If Validator is nil a default is created.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Validator == nil {
		cfg.Validator = schema.New()
	}
	bufSize := cfg.EventBufferSize
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &Router{
		registries: cfg.Registries,
		validator:  cfg.Validator,
		handlers:   make(map[string]map[string]ActionHandler),
		eventChan:  make(chan events.Event, bufSize),
		logger:     cfg.Logger,
	}
}

// Handle registers the business handler for (version, action). Intended
// to be called only during startup wiring.
func (r *Router) Handle(version, action string, handler ActionHandler) {
	m, ok := r.handlers[version]
	if !ok {
		m = make(map[string]ActionHandler)
		r.handlers[version] = m
	}
	m[action] = handler
}

// Emit publishes an event to the router's unified event channel, non-
// blocking: a full channel drops the event and logs a warning, matching
// the teacher's own "channel full, dropping event" posture.
func (r *Router) Emit(event events.Event) {
	select {
	case r.eventChan <- event:
	default:
		if r.logger != nil {
			r.logger.Warnf("router event channel full, dropping event %s", event.GetType())
		}
	}
}

// Events returns the unified event channel other subsystems (Kafka
// publisher, metrics) consume from.
func (r *Router) Events() <-chan events.Event {
	return r.eventChan
}

// Listener builds an endpoint.ListenerFunc bound to one charge point and
// one negotiated OCPP version, for installation via Endpoint.SetListener.
func (r *Router) Listener(version, chargePointID string) endpoint.ListenerFunc {
	return func(ctx context.Context, action string, payload []byte) (interface{}, *wire.CallError) {
		return r.dispatch(ctx, version, chargePointID, action, payload)
	}
}

func (r *Router) dispatch(ctx context.Context, version, chargePointID, action string, payload []byte) (interface{}, *wire.CallError) {
	start := time.Now()

	reg, ok := r.registries.For(version)
	if !ok {
		metrics.MessagesReceived.WithLabelValues(version, action).Inc()
		return nil, &wire.CallError{Code: wire.ErrorNotSupported, Description: fmt.Sprintf("unsupported protocol version %q", version)}
	}

	binding, err := reg.Lookup(action)
	if err != nil {
		metrics.MessagesReceived.WithLabelValues(version, action).Inc()
		return nil, &wire.CallError{Code: wire.ErrorNotImplemented, Description: fmt.Sprintf("unknown action %q", action)}
	}

	handler, ok := r.handlerFor(version, action)
	if !ok {
		metrics.MessagesReceived.WithLabelValues(version, action).Inc()
		return nil, &wire.CallError{Code: wire.ErrorNotImplemented, Description: fmt.Sprintf("no handler registered for action %q", action)}
	}

	request := binding.RequestConverter.New()
	if err := r.validator.Validate(schema.DirectionRequest, payload, request); err != nil {
		metrics.MessagesReceived.WithLabelValues(version, action).Inc()
		if verrs, ok := err.(schema.ValidationErrors); ok {
			return nil, &wire.CallError{Code: verrs.Code(), Description: verrs.Error()}
		}
		return nil, &wire.CallError{Code: wire.ErrorFormationViolation, Description: err.Error()}
	}

	response, err := handler(ctx, chargePointID, request)
	metrics.MessagesReceived.WithLabelValues(version, action).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())

	if err != nil {
		if wrapped, ok := err.(*callErrorWrapper); ok {
			return nil, &wire.CallError{Code: wrapped.code, Description: wrapped.desc}
		}
		if r.logger != nil {
			r.logger.Errorf("handler for %s/%s failed for charge point %s: %v", version, action, chargePointID, err)
		}
		return nil, &wire.CallError{Code: wire.ErrorInternalError, Description: err.Error()}
	}

	return response, nil
}

func (r *Router) handlerFor(version, action string) (ActionHandler, bool) {
	m, ok := r.handlers[version]
	if !ok {
		return nil, false
	}
	h, ok := m[action]
	return h, ok
}
