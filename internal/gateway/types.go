// Package gateway lets remote connections subscribe to bus events at
// runtime and relays matching events back to them.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/observation"
)

var (
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrBusRegistration    = errors.New("bus registration failed")
	ErrSessionClosed      = errors.New("session closed")

	// Returned by Conn.Send implementations.
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn is the part of a live duplex connection the gateway needs. Send must
// not block on the network: it enqueues msg for an asynchronous writer.
type Conn interface {
	ID() string
	Send(msg []byte) error
}

// Bus is the event bus listeners are registered against.
type Bus interface {
	AddListener(id string, events []event.Event, fn observation.ListenerFunc) error
	RemoveListener(id string) error
}

// Resolver builds an event from a client-named type and its parameters.
type Resolver interface {
	Resolve(typeID string, params map[string]any) (event.Event, error)
}

// EventType identifies the event class to build and its named arguments.
type EventType struct {
	ID     string         `json:"id"`
	Params map[string]any `json:"params,omitempty"`
}

// SubscriptionRequest is one addListener message. Token is echoed back
// untouched with every event the subscription delivers.
type SubscriptionRequest struct {
	EventType EventType
	Token     json.RawMessage
}

// Registration binds a bus listener to the connection that asked for it.
type Registration struct {
	ID    string
	Event event.Event
	Token json.RawMessage
	Conn  Conn

	seq uint64
}

// SubscriptionError reports why addSubscription left nothing registered.
type SubscriptionError struct {
	EventType string
	Err       error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %q failed: %v", e.EventType, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscriptionFailed }
