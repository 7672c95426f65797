package ws

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/obsgate/backend/internal/gateway"
)

type MessageType string

const (
	MsgAddListener    MessageType = "addListener"
	MsgRemoveListener MessageType = "removeListener"
)

// GuestCloseReason is sent with close code 1008 to unauthenticated clients.
const GuestCloseReason = "We don't accept connections from guest users. Please login first."

// WSMessage is an inbound client message. Data is decoded according to
// Type.
type WSMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AddListenerPayload asks for events of EventType to be delivered with
// EventData echoed back.
type AddListenerPayload struct {
	EventType EventTypeRef    `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

// RemoveListenerPayload drops every listener registered with an equal
// EventData.
type RemoveListenerPayload struct {
	EventData json.RawMessage `json:"eventData"`
}

// EventTypeRef is either {"id": ..., "params": {...}} or a bare id string.
type EventTypeRef gateway.EventType

func (r *EventTypeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = EventTypeRef{ID: id}
		return nil
	}
	var et gateway.EventType
	if err := json.Unmarshal(data, &et); err != nil {
		return err
	}
	*r = EventTypeRef(et)
	return nil
}

func (p AddListenerPayload) request() (gateway.SubscriptionRequest, error) {
	if p.EventType.ID == "" {
		return gateway.SubscriptionRequest{}, errors.New("eventType.id is required")
	}
	return gateway.SubscriptionRequest{
		EventType: gateway.EventType(p.EventType),
		Token:     p.EventData,
	}, nil
}
