package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 4 * 1024
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers hit this endpoint cross-origin in development; auth happens
	// via the session token, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientFrame is what the browser sends: subscribe/unsubscribe requests.
type clientFrame struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId"`
}

// Client is one websocket connection owned by an authenticated user. All
// outbound traffic goes through the buffered send channel so one slow reader
// never blocks the hub. readPump owns the send channel: it is closed there
// and nowhere else, so sendEvent and the hub can push into it for as long as
// the read loop lives.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	send          chan []byte
	subscriptions map[string]struct{}
}

// ServeWS upgrades the request and runs the connection's pumps. The caller
// has already authenticated the user.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &Client{
		hub:           hub,
		conn:          conn,
		userID:        userID,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read", "user_id", c.userID, "err", err)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.ConversationID == "" {
			c.sendEvent(Event{Type: "error", Error: "malformed frame"})
			continue
		}
		switch frame.Action {
		case "subscribe":
			if err := c.hub.subscribe(c, frame.ConversationID); err != nil {
				c.sendEvent(Event{Type: "error", ConversationID: frame.ConversationID, Error: "subscription denied"})
				continue
			}
			c.sendEvent(Event{Type: "subscribed", ConversationID: frame.ConversationID})
		case "unsubscribe":
			c.hub.unsubscribe(c, frame.ConversationID)
			c.sendEvent(Event{Type: "unsubscribed", ConversationID: frame.ConversationID})
		default:
			c.sendEvent(Event{Type: "error", Error: "unknown action"})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendEvent(e Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}
