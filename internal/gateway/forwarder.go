package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/metrics"
)

// OutboundEventMessage is what a client receives for each matching event.
// A source or data value that could not be serialized is left out; EventData
// is always present and is null when the subscription carried no token.
type OutboundEventMessage struct {
	Event     json.RawMessage `json:"event"`
	Source    json.RawMessage `json:"source,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	EventData json.RawMessage `json:"eventData"`
}

// Forwarder turns bus notifications into outbound messages.
type Forwarder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewForwarder(logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{logger: logger, metrics: m}
}

// OnEvent serializes the fired event with its source and data, then hands
// the message to the registration's connection. Source and data are
// serialized on their own so one bad value does not drop the other; an
// event that cannot be serialized drops the whole message.
func (f *Forwarder) OnEvent(e event.Event, source, data any, reg *Registration) error {
	ev, err := marshalValue(e)
	if err != nil {
		f.metrics.SerializationFailed("event")
		f.logger.Error("serialize event", "listener", reg.ID, "event", e.Kind(), "error", err)
		return fmt.Errorf("serialize %s: %w", e.Kind(), err)
	}

	msg := OutboundEventMessage{Event: ev, EventData: reg.Token}
	msg.Source = f.field("source", source, reg)
	msg.Data = f.field("data", data, reg)

	payload, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("encode event message", "listener", reg.ID, "error", err)
		return fmt.Errorf("encode event message: %w", err)
	}

	if err := reg.Conn.Send(payload); err != nil {
		f.metrics.SendFailed()
		level := slog.LevelWarn
		if errors.Is(err, ErrConnClosed) {
			level = slog.LevelDebug
		}
		f.logger.Log(context.Background(), level, "forward event",
			"listener", reg.ID, "conn", reg.Conn.ID(), "event", e.Kind(), "error", err)
		return fmt.Errorf("send to %s: %w", reg.Conn.ID(), err)
	}
	f.metrics.EventForwarded()
	return nil
}

func (f *Forwarder) field(name string, v any, reg *Registration) json.RawMessage {
	raw, err := marshalValue(v)
	if err != nil {
		f.metrics.SerializationFailed(name)
		f.logger.Warn("serialize event field",
			"field", name, "listener", reg.ID, "type", fmt.Sprintf("%T", v), "error", err)
		return nil
	}
	return raw
}

// marshalValue treats a panicking marshaler like any other encoding error.
func marshalValue(v any) (raw json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("marshaler panicked: %v", r)
		}
	}()
	return json.Marshal(v)
}
