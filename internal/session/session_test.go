package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewfead/deckhand/internal/action"
	"github.com/drewfead/deckhand/internal/scheduler"
)

type fakeSink struct {
	id     string
	room   int
	mu     sync.Mutex
	queued [][]byte
}

func (f *fakeSink) ID() string { return f.id }

func (f *fakeSink) Enqueue(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) >= f.room {
		return false
	}
	f.queued = append(f.queued, data)
	return true
}

func TestSetMembership(t *testing.T) {
	set := NewSet()
	assert.Equal(t, 0, set.Count())

	assert.True(t, set.Add(&fakeSink{id: "a"}))
	assert.True(t, set.Add(&fakeSink{id: "b"}))
	assert.False(t, set.Add(&fakeSink{id: "a"}))
	assert.Equal(t, 2, set.Count())
	assert.Equal(t, []string{"a", "b"}, set.IDs())

	set.Remove("a")
	set.Remove("missing")
	assert.Equal(t, []string{"b"}, set.IDs())
}

func TestBroadcastSkipsFullSessions(t *testing.T) {
	set := NewSet()
	fast := &fakeSink{id: "fast", room: 10}
	slow := &fakeSink{id: "slow", room: 1}
	set.Add(fast)
	set.Add(slow)

	for i := range 3 {
		set.Broadcast(scheduler.LiveData{Type: "live_data", Source: "s", Data: i})
	}

	assert.Len(t, fast.queued, 3)
	assert.Len(t, slow.queued, 1, "full session misses messages without stalling others")
	assert.JSONEq(t, `{"type":"live_data","source":"s","data":0}`, string(slow.queued[0]))
}

type fakeDispatcher struct {
	mu    sync.Mutex
	specs []action.Spec
}

func (f *fakeDispatcher) Execute(_ context.Context, spec action.Spec) action.Result {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if spec.Type == "media_next" {
		return action.Result{Success: true, ActionType: spec.Type}
	}
	return action.Result{ActionType: spec.Type, Error: "unknown action type"}
}

type harness struct {
	srv     *Server
	addr    string
	changes atomic.Int32
	disp    *fakeDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{disp: &fakeDispatcher{}}
	h.srv = NewServer(Config{
		Set:                NewSet(),
		Dispatcher:         h.disp,
		OnMembershipChange: func() { h.changes.Add(1) },
		Profile:            func() string { return "streaming" },
		Status: func() StatusReport {
			return StatusReport{Platform: "linux", Profile: "streaming", Sources: []string{"now_playing"}}
		},
	})
	ts := httptest.NewServer(h.srv.Handler())
	t.Cleanup(ts.Close)
	h.addr = strings.TrimPrefix(ts.URL, "http://")
	return h
}

func (h *harness) dial(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, h.addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool { return c.SessionID() != "" }, time.Second, 5*time.Millisecond)
	return c
}

func TestConnectAndDisconnect(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.Eventually(t, func() bool { return h.srv.Set().Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.changes.Load())
	assert.Equal(t, []string{c.SessionID()}, h.srv.Set().IDs())

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return h.srv.Set().Count() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.changes.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t)
	b := h.dial(t)
	require.Eventually(t, func() bool { return h.srv.Set().Count() == 2 }, time.Second, 5*time.Millisecond)

	h.srv.Set().Broadcast(scheduler.LiveData{Type: scheduler.MessageTypeLiveData, Source: "now_playing", Data: map[string]any{"title": "Song"}})

	for _, c := range []*Client{a, b} {
		select {
		case env := <-c.Updates():
			assert.Equal(t, "now_playing", env.Source)
			assert.JSONEq(t, `{"title":"Song"}`, string(env.Data))
		case <-time.After(2 * time.Second):
			t.Fatal("no live_data received")
		}
	}
}

func TestActionResultGoesToSenderOnly(t *testing.T) {
	h := newHarness(t)
	sender := h.dial(t)
	bystander := h.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := sender.Run(ctx, action.Spec{Type: "media_next"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "media_next", res.ActionType)
	assert.Equal(t, "action_result", res.Type)

	res, err = sender.Run(ctx, action.Spec{Type: "warp_drive", Params: json.RawMessage(`{"factor":9}`)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown action type", res.Error)

	h.disp.mu.Lock()
	require.Len(t, h.disp.specs, 2)
	assert.JSONEq(t, `{"factor":9}`, string(h.disp.specs[1].Params))
	h.disp.mu.Unlock()

	select {
	case env := <-bystander.Updates():
		t.Fatalf("bystander received %s", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedMessage(t *testing.T) {
	h := newHarness(t)
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	var hello Hello
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "streaming", hello.Profile)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	var msg ErrorMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "invalid message")

	require.NoError(t, ws.WriteJSON(Command{Type: "media_next", ID: "abc"}))
	var res ActionResult
	require.NoError(t, ws.ReadJSON(&res))
	assert.Equal(t, "abc", res.ID)
	assert.True(t, res.Success)
}

func TestStatusAndHealth(t *testing.T) {
	h := newHarness(t)
	h.dial(t)
	require.Eventually(t, func() bool { return h.srv.Set().Count() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, Health(ctx, h.addr))

	report, err := FetchStatus(ctx, h.addr)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Subscribers)
	assert.Len(t, report.Sessions, 1)
	assert.Equal(t, "streaming", report.Profile)
	assert.Equal(t, []string{"now_playing"}, report.Sources)
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.Addr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Set().Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop(ctx))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected on stop")
	}
	require.Eventually(t, func() bool { return srv.Set().Count() == 0 }, time.Second, 5*time.Millisecond)
}
