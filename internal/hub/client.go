package hub

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"taskboard/internal/codec"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Client is one websocket connection. Its id doubles as the user id once
// the connection joins.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan codec.Frame
}

func newClient(h *Hub, id string, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		hub:  h,
		conn: conn,
		send: make(chan codec.Frame, h.sendBuffer),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// enqueue hands a frame to the write pump without blocking the hub.
func (c *Client) enqueue(frame codec.Frame) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Attach registers an upgraded websocket connection and starts its pumps.
// It returns false if the hub has stopped.
func (h *Hub) Attach(conn *websocket.Conn) bool {
	c := newClient(h, h.newID(), conn)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return false
	}
	go c.writePump()
	go c.readPump()
	return true
}

// readPump decodes frames and forwards them to the hub until the
// connection fails.
func (c *Client) readPump() {
	h := c.hub
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", slog.String("client", c.id), slog.String("error", err.Error()))
			}
			return
		}

		env, err := h.codec.Decode(codec.Frame{Payload: payload, Binary: kind == websocket.BinaryMessage})
		if err != nil {
			h.logger.Debug("dropping malformed frame", slog.String("client", c.id), slog.String("error", err.Error()))
			continue
		}

		select {
		case h.inbound <- inboundEvent{client: c, env: env}:
		case <-h.done:
			return
		}
	}
}

// writePump drains the send queue onto the connection and keeps it alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.TextMessage
			if frame.Binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, frame.Payload); err != nil {
				c.hub.logger.Debug("websocket write failed", slog.String("client", c.id), slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
