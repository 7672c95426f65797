// Package publish fires events on the bus from outside the process: the
// HTTP API, periodic sources and other gateway replicas.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/metrics"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope is an event in transit. Type and Params go through the same
// allow-list as subscriptions.
type Envelope struct {
	Type   string          `json:"type"`
	Params map[string]any  `json:"params,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	// Origin identifies the replica that published the envelope.
	Origin string `json:"origin,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Notifier is the firing side of the bus.
type Notifier interface {
	Notify(e event.Event, source, data any) int
}

// Local resolves envelopes and fires them on the in-process bus.
type Local struct {
	resolver *event.Resolver
	bus      Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewLocal(resolver *event.Resolver, bus Notifier, logger *slog.Logger, m *metrics.Metrics) *Local {
	return &Local{resolver: resolver, bus: bus, logger: logger, metrics: m}
}

func (l *Local) Publish(_ context.Context, env Envelope) error {
	e, err := l.resolver.Resolve(env.Type, env.Params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	source, err := l.resolver.Catalog().DecodeSource(env.Type, env.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	var data any
	if len(env.Data) > 0 && string(env.Data) != "null" {
		data = env.Data
	}

	n := l.bus.Notify(e, source, data)
	l.metrics.EventPublished(env.Type)
	l.logger.Debug("event published", "type", env.Type, "origin", env.Origin, "listeners", n)
	return nil
}
