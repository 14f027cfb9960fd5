package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
	pkgstrings "togoretrouve/pkg/platform/strings"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// Inbound is a frame received from a client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InboundHandler processes one inbound frame. A returned error is sent back
// to the client as an "error" event; the connection stays open.
type InboundHandler func(ctx context.Context, c *Client, in Inbound) error

// NewUpgrader accepts same-origin requests and the listed origins, compared
// case-insensitively. An empty list accepts every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := pkgstrings.DedupeAndTrimLower(allowedOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			return slices.Contains(allowed, strings.ToLower(origin))
		},
	}
}

// Client is one WebSocket connection.
type Client struct {
	UserID id.UserID

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	topics []string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID id.UserID) *Client {
	return &Client{
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Client) deliver(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Send queues an event for this client only.
func (c *Client) Send(ev Event) bool {
	frame, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return c.deliver(frame)
}

// Serve subscribes the client to topics and pumps frames until the
// connection closes or ctx is done.
func (c *Client) Serve(ctx context.Context, handle InboundHandler, topics ...string) {
	c.topics = topics
	for _, t := range topics {
		c.hub.subscribe(t, c)
	}
	if c.hub.metrics != nil {
		c.hub.metrics.ConnectionOpened()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writePump(ctx)
	c.readPump(ctx, handle)
	c.close()
}

func (c *Client) close() {
	c.once.Do(func() {
		for _, t := range c.topics {
			c.hub.unsubscribe(t, c)
		}
		if c.hub.metrics != nil {
			c.hub.metrics.ConnectionClosed()
		}
		_ = c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context, handle InboundHandler) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.DebugContext(ctx, "websocket closed unexpectedly", "user_id", c.UserID, "error", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			c.Send(Event{Type: EventError, Data: map[string]string{"code": string(dErrors.CodeBadRequest), "message": "invalid frame"}})
			continue
		}
		if handle == nil {
			continue
		}
		if err := handle(ctx, c, in); err != nil {
			code, msg := dErrors.Public(err)
			if code == dErrors.CodeInternal {
				c.hub.logger.ErrorContext(ctx, "websocket frame failed", "user_id", c.UserID, "frame", in.Type, "error", err)
			}
			c.Send(Event{Type: EventError, Data: map[string]string{"code": string(code), "message": msg}})
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
