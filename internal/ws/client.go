package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards are browser clients; tighten per deployment.
	},
}

// Client is one dashboard connection. It only ever receives; incoming
// frames besides pongs are discarded.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	filter model.Filter
	done   chan struct{}
}

// Serve upgrades the request and streams feed events matching the filter
// until the client disconnects or the hub shuts down.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, filter model.Filter) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade: %v", err)
		return
	}

	c := &Client{hub: hub, conn: conn, filter: filter, done: make(chan struct{})}
	if !hub.register(c) {
		conn.Close()
		return
	}

	events, unsubscribe := hub.subscribe(filter)

	go c.writePump(events)
	c.readPump()

	unsubscribe()
	hub.unregister(c)
}

func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[ws] read: %v", err)
			}
			return
		}
		// Observers only listen; anything they send is ignored.
	}
}

func (c *Client) writePump(events chan feed.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				log.Printf("[ws] encode event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) close() {
	close(c.done)
	c.conn.Close()
}

func (c *Client) describe() string {
	switch {
	case c.filter.RequestID != "":
		return "request " + c.filter.RequestID
	case c.filter.RequesterID != "":
		return "requester " + c.filter.RequesterID
	}
	return "all requests"
}
