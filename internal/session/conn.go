package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one websocket subscriber. The read side runs in the HTTP handler
// goroutine and the write side in writeLoop; only writeLoop writes to ws.
type conn struct {
	id          string
	remote      string
	connectedAt time.Time
	ws          *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

func newConn(id string, ws *websocket.Conn, buffer int) *conn {
	return &conn{
		id:          id,
		remote:      ws.RemoteAddr().String(),
		connectedAt: time.Now(),
		ws:          ws,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Enqueue queues data without blocking.
func (c *conn) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// reply queues data for the sender, waiting up to timeout for room.
func (c *conn) reply(data []byte, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	case <-t.C:
		c.dropped.Add(1)
		return false
	}
}

// Close asks writeLoop to send a close frame and drop the connection.
func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) Info() Info {
	return Info{
		ID:          c.id,
		Remote:      c.remote,
		ConnectedAt: c.connectedAt,
		Dropped:     c.dropped.Load(),
	}
}

func (c *conn) writeLoop(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
