// Package client is a reconnecting WebSocket client for the observation
// gateway. Subscriptions survive reconnects: they are sent again on every
// new connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// ErrUnauthorized is returned by Run when the gateway refuses the token.
var ErrUnauthorized = errors.New("gateway refused credentials")

// Event is one delivery for a subscription.
type Event struct {
	SubscriptionID int
	EventType      string
	Event          json.RawMessage
	Source         json.RawMessage
	Data           json.RawMessage
	ReceivedAt     time.Time
}

type Handler func(Event)

// State reports connection changes to the caller.
type State struct {
	Connected bool
	Err       error
	// Retry is the wait before the next attempt when not connected.
	Retry time.Duration
}

type Options struct {
	Token   string
	Logger  *slog.Logger
	OnState func(State)
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
}

type subscription struct {
	id        int
	eventType string
	params    map[string]any
	token     json.RawMessage
	handler   Handler
}

// token is what the gateway echoes back as eventData.
type token struct {
	ListenerID int             `json:"listenerId"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	url  string
	opts Options

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes
	conn    *websocket.Conn
	subs    map[int]*subscription
	nextID  int
}

func New(url string, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = reconnectMaxDelay
	}
	return &Client{url: url, opts: opts, subs: make(map[int]*subscription)}
}

// Subscribe registers interest in eventType. data is attached to the
// subscription and comes back with every event. The request is sent now if
// connected and again after every reconnect.
func (c *Client) Subscribe(eventType string, params map[string]any, data any, h Handler) (int, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("encode subscription data: %w", err)
		}
		raw = b
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	tok, err := json.Marshal(token{ListenerID: id, Data: raw})
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	sub := &subscription{id: id, eventType: eventType, params: params, token: tok, handler: h}
	c.subs[id] = sub
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, addListenerMessage(sub)); err != nil {
			c.opts.Logger.Warn("send subscription", "id", id, "error", err)
		}
	}
	return id, nil
}

// Unsubscribe forgets a subscription and tells the gateway to drop it.
func (c *Client) Unsubscribe(id int) error {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	conn := c.conn
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown subscription %d", id)
	}
	if conn == nil {
		return nil
	}
	return c.write(conn, map[string]any{
		"type": "removeListener",
		"data": map[string]any{"eventData": sub.token},
	})
}

// Run connects, reconnecting with exponential backoff, until ctx is done or
// the gateway refuses the credentials.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.serve(ctx, conn)
		c.setState(State{Err: err})
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectBaseDelay
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	var conn *websocket.Conn
	op := func() error {
		cn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.opts.Logger.Debug("ws dial", "url", c.url, "error", err, "retry", wait)
		c.setState(State{Err: err, Retry: wait})
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// serve resends every subscription on conn and reads until it fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	pingCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock ReadMessage when ctx ends.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	c.setState(State{Connected: true})
	for _, s := range subs {
		if err := c.write(conn, addListenerMessage(s)); err != nil {
			return err
		}
	}
	go c.pingLoop(pingCtx, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
				return fmt.Errorf("%w: %s", ErrUnauthorized, ce.Text)
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg struct {
		Event     json.RawMessage `json:"event"`
		Source    json.RawMessage `json:"source"`
		Data      json.RawMessage `json:"data"`
		EventData token           `json:"eventData"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.opts.Logger.Debug("ignore message", "error", err)
		return
	}

	c.mu.Lock()
	sub, ok := c.subs[msg.EventData.ListenerID]
	c.mu.Unlock()
	if !ok || sub.handler == nil {
		return
	}
	sub.handler(Event{
		SubscriptionID: sub.id,
		EventType:      sub.eventType,
		Event:          msg.Event,
		Source:         msg.Source,
		Data:           msg.Data,
		ReceivedAt:     time.Now(),
	})
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) setState(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func addListenerMessage(s *subscription) map[string]any {
	eventType := map[string]any{"id": s.eventType}
	if len(s.params) > 0 {
		eventType["params"] = s.params
	}
	return map[string]any{
		"type": "addListener",
		"data": map[string]any{"eventType": eventType, "eventData": s.token},
	}
}
