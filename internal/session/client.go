package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drewfead/deckhand/internal/action"
)

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("client closed")

// Client is a websocket session against a running daemon.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan ActionResult
	hello   Hello

	updates   chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens a session with the daemon listening at addr (host:port).
func Dial(ctx context.Context, addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", addr, err)
	}

	c := &Client{
		ws:      ws,
		pending: make(map[string]chan ActionResult),
		updates: make(chan Envelope, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Updates delivers live_data pushes. It is closed when the session ends.
// Pushes are dropped while the channel is full.
func (c *Client) Updates() <-chan Envelope {
	return c.updates
}

// SessionID returns the id the daemon assigned, once the hello has arrived.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello.SessionID
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the session ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Run sends spec and waits for its result.
func (c *Client) Run(ctx context.Context, spec action.Spec) (ActionResult, error) {
	id := uuid.NewString()
	ch := make(chan ActionResult, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(Command{Type: spec.Type, Params: spec.Params, ID: id})
	if err != nil {
		return ActionResult{}, err
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return ActionResult{}, fmt.Errorf("send command: %w", err)
	}

	select {
	case res := <-ch:
		return res, nil
	case <-c.done:
		return ActionResult{}, ErrClientClosed
	case <-ctx.Done():
		return ActionResult{}, ctx.Err()
	}
}

// Close ends the session.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.finish(ErrClientClosed)
	return err
}

func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.updates)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case TypeHello:
			c.mu.Lock()
			c.hello = Hello{Type: env.Type, SessionID: env.SessionID}
			c.mu.Unlock()
		case TypeActionResult:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			c.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case ch <- ActionResult{
				Type:       env.Type,
				ID:         env.ID,
				Success:    env.Success,
				ActionType: env.ActionType,
				Error:      env.Error,
			}:
			default:
			}
		case TypeLiveData:
			select {
			case c.updates <- env:
			default:
			}
		}
	}
}

// FetchStatus reads /api/status from the daemon at addr.
func FetchStatus(ctx context.Context, addr string) (*StatusReport, error) {
	var report StatusReport
	if err := getJSON(ctx, addr, "/api/status", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Health checks /health on the daemon at addr.
func Health(ctx context.Context, addr string) error {
	var body map[string]string
	if err := getJSON(ctx, addr, "/health", &body); err != nil {
		return err
	}
	if body["status"] != "ok" {
		return fmt.Errorf("daemon unhealthy: %v", body)
	}
	return nil
}

func getJSON(ctx context.Context, addr, path string, v any) error {
	u := url.URL{Scheme: "http", Host: addr, Path: path}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
