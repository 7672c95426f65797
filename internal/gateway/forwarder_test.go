package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/logging"
	"github.com/obsgate/backend/internal/metrics"
)

func testCounter(c prometheus.Collector) float64 { return testutil.ToFloat64(c) }

type panickyMarshaler struct{}

func (panickyMarshaler) MarshalJSON() ([]byte, error) { panic("no") }

type failingMarshaler struct{}

func (failingMarshaler) MarshalJSON() ([]byte, error) { return nil, errors.New("nope") }

func newTestForwarder() (*Forwarder, *metrics.Metrics) {
	m := metrics.New()
	return NewForwarder(logging.Discard(), m), m
}

func TestForwarder_FieldOrder(t *testing.T) {
	f, _ := newTestForwarder()
	conn := newFakeConn("c1")
	reg := &Registration{ID: "websocket-1", Conn: conn, Token: json.RawMessage(`"t1"`)}

	require.NoError(t, f.OnEvent(event.NewWikiReady("w"), "src", 1, reg))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, `{"event":{"type":"wiki.ready","wikiId":"w"},"source":"src","data":1,"eventData":"t1"}`, string(conn.sent[0]))
}

func TestForwarder_NoTokenIsNull(t *testing.T) {
	f, _ := newTestForwarder()
	conn := newFakeConn("c1")

	require.NoError(t, f.OnEvent(event.ApplicationReady{}, nil, nil, &Registration{ID: "websocket-1", Conn: conn}))
	assert.Equal(t, `{"event":{},"source":null,"data":null,"eventData":null}`, string(conn.sent[0]))
}

func TestForwarder_PartialSerialization(t *testing.T) {
	tests := []struct {
		name    string
		source  any
		data    any
		failed  string
		present []string
	}{
		{name: "channel source", source: make(chan int), data: map[string]int{"n": 1}, failed: "source", present: []string{"event", "data", "eventData"}},
		{name: "func data", source: "s", data: func() {}, failed: "data", present: []string{"event", "source", "eventData"}},
		{name: "marshaler error", source: failingMarshaler{}, data: 2, failed: "source", present: []string{"event", "data", "eventData"}},
		{name: "marshaler panic", source: "s", data: panickyMarshaler{}, failed: "data", present: []string{"event", "source", "eventData"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, m := newTestForwarder()
			conn := newFakeConn("c1")
			reg := &Registration{ID: "websocket-1", Conn: conn, Token: json.RawMessage(`{"k":"v"}`)}

			require.NoError(t, f.OnEvent(event.NewWikiReady("w"), tt.source, tt.data, reg))

			msgs := conn.messages(t)
			require.Len(t, msgs, 1)
			assert.NotContains(t, msgs[0], tt.failed)
			for _, key := range tt.present {
				assert.Contains(t, msgs[0], key)
			}
			assert.JSONEq(t, `{"k":"v"}`, string(msgs[0]["eventData"]))
			assert.Equal(t, 1.0, testCounter(m.SerializationFailure.WithLabelValues(tt.failed)))
			assert.Equal(t, 1.0, testCounter(m.EventsForwarded))
		})
	}
}

func TestForwarder_SendFailure(t *testing.T) {
	for _, sendErr := range []error{ErrConnClosed, ErrSendQueueFull} {
		t.Run(sendErr.Error(), func(t *testing.T) {
			f, m := newTestForwarder()
			conn := newFakeConn("c1")
			conn.sendErr = fmt.Errorf("conn c1: %w", sendErr)

			err := f.OnEvent(event.ApplicationReady{}, nil, nil, &Registration{ID: "websocket-1", Conn: conn})
			assert.ErrorIs(t, err, sendErr)
			assert.Equal(t, 1.0, testCounter(m.SendFailures))
			assert.Zero(t, testCounter(m.EventsForwarded))
		})
	}
}

type unencodableEvent struct {
	Ch chan int `json:"ch"`
}

func (unencodableEvent) Kind() string { return "test.unencodable" }
func (unencodableEvent) Matches(event.Event) bool { return true }

func TestForwarder_UnencodableEventDropsMessage(t *testing.T) {
	f, m := newTestForwarder()
	conn := newFakeConn("c1")

	err := f.OnEvent(unencodableEvent{Ch: make(chan int)}, "s", 1, &Registration{ID: "websocket-1", Conn: conn})
	assert.Error(t, err)
	assert.Empty(t, conn.sent)
	assert.Equal(t, 1.0, testCounter(m.SerializationFailure.WithLabelValues("event")))
}
