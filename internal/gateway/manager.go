package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/metrics"
)

// ListenerPrefix starts every bus listener id the gateway creates.
const ListenerPrefix = "websocket-"

// listenerSeq numbers listeners for the whole process so ids stay unique
// across managers sharing one bus.
var listenerSeq atomic.Uint64

// Manager adds and disposes the bus listeners owned by connections.
type Manager struct {
	bus       Bus
	resolver  Resolver
	registry  *Registry
	forwarder *Forwarder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewManager(bus Bus, resolver Resolver, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		bus:       bus,
		resolver:  resolver,
		registry:  NewRegistry(),
		forwarder: NewForwarder(logger, m),
		logger:    logger,
		metrics:   m,
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// Open makes conn eligible for subscriptions.
func (m *Manager) Open(conn Conn) {
	if !m.registry.Open(conn) {
		m.logger.Warn("connection opened twice", "conn", conn.ID())
	}
}

// AddSubscription resolves req into an event, registers a bus listener that
// forwards matching events to conn, and records the registration. On error
// nothing stays registered on the bus or in the registry.
func (m *Manager) AddSubscription(conn Conn, req SubscriptionRequest) (*Registration, error) {
	e, err := m.resolver.Resolve(req.EventType.ID, req.EventType.Params)
	if err != nil {
		m.metrics.SubscriptionResult("unresolved")
		return nil, &SubscriptionError{EventType: req.EventType.ID, Err: err}
	}

	seq := listenerSeq.Add(1)
	reg := &Registration{
		ID:    fmt.Sprintf("%s%d", ListenerPrefix, seq),
		Event: e,
		Token: req.Token,
		Conn:  conn,
		seq:   seq,
	}

	err = m.bus.AddListener(reg.ID, []event.Event{e}, func(fired event.Event, source, data any) {
		_ = m.forwarder.OnEvent(fired, source, data, reg)
	})
	if err != nil {
		m.metrics.SubscriptionResult("bus_error")
		return nil, &SubscriptionError{EventType: req.EventType.ID, Err: fmt.Errorf("%w: %w", ErrBusRegistration, err)}
	}

	if err := m.registry.RegisterFor(conn, reg); err != nil {
		// The connection went away between resolve and record.
		if rerr := m.bus.RemoveListener(reg.ID); rerr != nil {
			m.logger.Error("remove orphaned listener", "listener", reg.ID, "conn", conn.ID(), "error", rerr)
		}
		m.metrics.SubscriptionResult("session_closed")
		return nil, &SubscriptionError{EventType: req.EventType.ID, Err: err}
	}

	m.metrics.SubscriptionResult("ok")
	m.metrics.ListenersAdded(1)
	m.logger.Debug("listener added", "listener", reg.ID, "conn", conn.ID(), "event", e.Kind())
	return reg, nil
}

// UnsubscribeToken removes every listener of conn whose correlation token
// is JSON-equal to token, and returns how many there were.
func (m *Manager) UnsubscribeToken(conn Conn, token json.RawMessage) (int, error) {
	if !m.registry.IsOpen(conn) {
		return 0, fmt.Errorf("%w: %s", ErrSessionClosed, conn.ID())
	}
	want, err := decodeToken(token)
	if err != nil {
		return 0, fmt.Errorf("decode token: %w", err)
	}
	regs := m.registry.RemoveMatching(conn, func(reg *Registration) bool {
		got, err := decodeToken(reg.Token)
		return err == nil && reflect.DeepEqual(got, want)
	})
	m.release(regs)
	return len(regs), nil
}

// Dispose unregisters everything conn owns. It is safe to call more than
// once; only the first call finds anything.
func (m *Manager) Dispose(conn Conn) int {
	regs := m.registry.RemoveAll(conn)
	m.release(regs)
	if len(regs) > 0 {
		m.logger.Debug("connection disposed", "conn", conn.ID(), "listeners", len(regs))
	}
	return len(regs)
}

// release removes registrations from the bus. A failure is logged and the
// rest are still attempted.
func (m *Manager) release(regs []*Registration) {
	for _, reg := range regs {
		if err := m.bus.RemoveListener(reg.ID); err != nil {
			m.logger.Warn("remove listener", "listener", reg.ID, "conn", reg.Conn.ID(), "error", err)
		}
	}
	m.metrics.ListenersRemoved(len(regs))
}

func decodeToken(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

