package ws

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsgate/backend/internal/config"
	"github.com/obsgate/backend/internal/event"
)

func TestSession_ForwardsSubscribedEvents(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial()

	send(t, conn, addListener(map[string]any{"id": "wiki.ready", "params": map[string]any{"wikiId": "wiki1"}}, "t1"))
	h.waitListeners(1)

	h.bus.Notify(event.NewWikiReady("wiki2"), nil, nil)
	h.bus.Notify(event.NewWikiReady("wiki1"), "wiki1", map[string]any{"pages": 12})

	msg := readMessage(t, conn)
	assert.JSONEq(t, `{"type":"wiki.ready","wikiId":"wiki1"}`, string(msg["event"]))
	assert.JSONEq(t, `"wiki1"`, string(msg["source"]))
	assert.JSONEq(t, `{"pages":12}`, string(msg["data"]))
	assert.JSONEq(t, `"t1"`, string(msg["eventData"]))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, extra, err := conn.ReadMessage()
	var ne net.Error
	require.ErrorAs(t, err, &ne, "unexpected second message %s", extra)
	assert.True(t, ne.Timeout())
}

func TestSession_RefusesGuests(t *testing.T) {
	h := newHarness(t, nil)

	for _, url := range []string{h.wsURL(""), h.wsURL("wrong")} {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err, "the upgrade itself succeeds")

		ce := readClose(t, conn)
		assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
		assert.Equal(t, GuestCloseReason, ce.Text)
		_ = conn.Close()
	}

	assert.Zero(t, h.bus.ListenerCount())
	assert.Zero(t, h.server.Hub().ClientCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RejectedConnections.WithLabelValues("guest")))
}

func TestSession_CloseReleasesListeners(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial()
	other := h.dial()

	send(t, conn, addListener("application.ready", 1))
	send(t, conn, addListener(map[string]any{"id": "document.updated", "params": map[string]any{"wiki": "xwiki"}}, 2))
	send(t, other, addListener("application.ready", 3))
	h.waitListeners(3)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	h.waitListeners(1)
	require.Eventually(t, func() bool { return h.server.Hub().ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ActiveListeners))

	h.bus.Notify(event.ApplicationReady{}, nil, nil)
	msg := readMessage(t, other)
	assert.JSONEq(t, `3`, string(msg["eventData"]))
}

func TestSession_BadMessagesKeepConnection(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial()

	send(t, conn, "not json")
	send(t, conn, `{"type":"subscribeEverything","data":{}}`)
	send(t, conn, `{"type":"addListener"}`)
	send(t, conn, addListener("os.exec", nil))
	send(t, conn, addListener(map[string]any{"id": "wiki.ready", "params": map[string]any{"unknown": 1}}, nil))
	send(t, conn, addListener(map[string]any{"params": map[string]any{}}, nil))
	send(t, conn, addListener("application.ready", map[string]any{"panel": "a"}))
	h.waitListeners(1)

	h.bus.Notify(event.ApplicationReady{}, nil, nil)
	msg := readMessage(t, conn)
	assert.JSONEq(t, `{"panel":"a"}`, string(msg["eventData"]))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.InboundMessages.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.InboundMessages.WithLabelValues("unknown")))
}

func TestSession_RemoveListener(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial()

	send(t, conn, addListener("application.ready", map[string]any{"listenerId": 1}))
	send(t, conn, addListener("wiki.ready", map[string]any{"listenerId": 2}))
	h.waitListeners(2)

	send(t, conn, map[string]any{"type": "removeListener", "data": map[string]any{"eventData": map[string]any{"listenerId": 1}}})
	h.waitListeners(1)

	h.bus.Notify(event.ApplicationReady{}, nil, nil)
	h.bus.Notify(event.NewWikiReady("w"), nil, nil)
	msg := readMessage(t, conn)
	assert.JSONEq(t, `{"listenerId":2}`, string(msg["eventData"]))
}

func TestSession_MaxConnections(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Server.MaxConnections = 1 })
	first := h.dial()

	second, _, err := websocket.DefaultDialer.Dial(h.wsURL(aliceToken), nil)
	require.NoError(t, err)
	defer second.Close()
	ce := readClose(t, second)
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)

	send(t, first, addListener("application.ready", nil))
	h.waitListeners(1)
}

func TestSession_RateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.WebSocket.RateLimit = 0.001
		c.WebSocket.RateBurst = 1
	})
	conn := h.dial()

	send(t, conn, addListener("application.ready", 1))
	send(t, conn, addListener("application.ready", 2))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.InboundMessages.WithLabelValues("rate_limited")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.bus.ListenerCount())
}

func TestSession_ShutdownClosesClients(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial()
	send(t, conn, addListener("application.ready", nil))
	h.waitListeners(1)

	h.server.Hub().closeAll()

	ce := readClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	h.waitListeners(0)

	late, _, err := websocket.DefaultDialer.Dial(h.wsURL(aliceToken), nil)
	require.NoError(t, err)
	defer late.Close()
	assert.Equal(t, websocket.CloseTryAgainLater, readClose(t, late).Code)
}

func TestSession_PublishedDocumentIsRedacted(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial()

	send(t, conn, addListener(map[string]any{"id": "document.created", "params": map[string]any{"reference": "xwiki:Main.Home"}}, "doc"))
	h.waitListeners(1)

	body, err := json.Marshal(map[string]any{
		"type":   "document.created",
		"params": map[string]any{"reference": "xwiki:Main.Home"},
		"source": map[string]any{"reference": "xwiki:Main.Home", "locale": "de", "content": "private"},
		"data":   map[string]any{"by": "alice"},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.http.URL+"/api/events", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Obsgate-Token", aliceToken)
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	msg := readMessage(t, conn)
	assert.JSONEq(t, `{"type":"document.created","reference":"xwiki:Main.Home","wiki":"xwiki","space":"Main"}`, string(msg["event"]))
	assert.JSONEq(t, `{
		"documentReference": "xwiki:Main.Home",
		"documentReferenceWithLocale": "xwiki:Main.Home(de)",
		"locale": "de"
	}`, string(msg["source"]))
	assert.JSONEq(t, `{"by":"alice"}`, string(msg["data"]))
	assert.NotContains(t, string(msg["source"]), "private")
}
