package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/obsgate/backend/internal/auth"
	"github.com/obsgate/backend/internal/config"
	"github.com/obsgate/backend/internal/gateway"
)

// client is one WebSocket connection. Outbound messages go through a
// buffered channel drained by writePump, so Send never touches the network.
type client struct {
	id        string
	conn      *websocket.Conn
	principal *auth.Principal
	opts      config.WebSocketConfig
	limiter   *rate.Limiter

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	closeCode int
	closeText string
}

func newClient(conn *websocket.Conn, principal *auth.Principal, opts config.WebSocketConfig) *client {
	return &client{
		id:        uuid.NewString(),
		conn:      conn,
		principal: principal,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		send:      make(chan []byte, opts.SendBuffer),
		closed:    make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *client) ID() string { return c.id }

// Send enqueues msg. A client whose queue is full is too slow to keep up
// and gets disconnected.
func (c *client) Send(msg []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%s: %w", c.id, gateway.ErrConnClosed)
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return fmt.Errorf("%s: %w", c.id, gateway.ErrConnClosed)
	default:
		c.close(websocket.CloseTryAgainLater, "send queue full")
		return fmt.Errorf("%s: %w", c.id, gateway.ErrSendQueueFull)
	}
}

// close asks writePump to send a close frame and drop the connection. Only
// the first call has an effect.
func (c *client) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		close(c.closed)
	})
}

func (c *client) writePump() {
	ping := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.closed:
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeText),
					time.Now().Add(c.opts.WriteTimeout))
			}
			return
		}
	}
}
