// Package discord speaks the Discord desktop client's local IPC protocol.
//
// The socket carries length-prefixed JSON frames. After a handshake the
// client waits for READY, optionally authenticates with a stored access
// token, subscribes to voice events, and folds every response and event into
// one Presence snapshot. Client is also the "discord" provider: Fetch returns
// the current snapshot and lazily (re)connects.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/logging"
)

// Name is the provider name widgets reference.
const Name = "discord"

var (
	ErrNotConnected     = errors.New("discord not connected")
	ErrConnectionClosed = errors.New("discord connection closed")
	ErrTimeout          = errors.New("discord command timed out")
	ErrTokenRejected    = errors.New("discord access token rejected")
	ErrUnauthorized     = errors.New("discord not authorized")
)

// ResponseError is an ERROR reply to a command.
type ResponseError struct {
	Cmd     string
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s failed: %s (code %d)", e.Cmd, e.Message, e.Code)
}

// Unwrap reports authorization failures as ErrUnauthorized.
func (e *ResponseError) Unwrap() error {
	if isAuthError(e.Code) {
		return ErrUnauthorized
	}
	return nil
}

// Error codes the desktop app returns when the session is no longer authorized.
const (
	codeInvalidPermissions = 4006
	codeInvalidToken       = 4009
)

func isAuthError(code int) bool {
	return code == codeInvalidPermissions || code == codeInvalidToken
}

// TokenStore holds the OAuth access token obtained out of band.
type TokenStore interface {
	Token() (string, error)
	ClearToken() error
}

// Dialer opens the IPC connection. It returns the socket path for status reporting.
type Dialer func(ctx context.Context, timeout time.Duration) (net.Conn, string, error)

// Options configures a Client.
type Options struct {
	ClientID         string
	Interval         time.Duration
	CommandTimeout   time.Duration
	ConnectTimeout   time.Duration
	ReconnectBackoff time.Duration
	Tokens           TokenStore
	Dial             Dialer
	Now              func() time.Time
}

// OptionsFromConfig builds Options from the discord config section.
func OptionsFromConfig(cfg config.DiscordConfig, tokens TokenStore) Options {
	return Options{
		ClientID:         cfg.ClientID,
		Interval:         cfg.Interval,
		CommandTimeout:   cfg.CommandTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
		ReconnectBackoff: cfg.ReconnectBackoff,
		Tokens:           tokens,
	}
}

// Status is a point-in-time view of the connection.
type Status struct {
	Connected     bool      `json:"connected"`
	Ready         bool      `json:"ready"`
	Authenticated bool      `json:"authenticated"`
	Socket        string    `json:"socket,omitempty"`
	Pending       int       `json:"pending"`
	VoiceChannel  string    `json:"voice_channel,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
}

type handshake struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

type outgoing struct {
	Cmd   string `json:"cmd"`
	Args  any    `json:"args,omitempty"`
	Evt   string `json:"evt,omitempty"`
	Nonce string `json:"nonce"`
}

type incoming struct {
	Cmd   string          `json:"cmd"`
	Evt   string          `json:"evt"`
	Nonce string          `json:"nonce"`
	Data  json.RawMessage `json:"data"`
}

type errorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// connState is one live socket. A new one is created per connect.
type connState struct {
	conn   net.Conn
	socket string
	ready  chan struct{}
	done   chan struct{}

	// guarded by Client.mu
	isReady bool
}

// Client is a reconnecting IPC client.
type Client struct {
	opts       Options
	log        *slog.Logger
	pending    *pendingTable
	connecting singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu           sync.Mutex
	cur          *connState
	presence     *Presence
	authed       bool
	voiceChannel string
	lastFailure  time.Time
	lastErr      error
	closed       bool
}

// New creates a client. Nothing connects until Fetch or Connect.
func New(opts Options) *Client {
	if opts.Dial == nil {
		opts.Dial = DialSocket
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		log:     logging.Component("discord"),
		pending: newPendingTable(opts.CommandTimeout),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return Name }

// Interval returns the provider poll interval.
func (c *Client) Interval() time.Duration { return c.opts.Interval }

// Fetch returns the current presence, or nil while disconnected. When
// disconnected and outside the reconnect backoff it starts a background
// connection attempt.
func (c *Client) Fetch(context.Context) (any, error) {
	c.maybeConnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence == nil {
		return nil, nil
	}
	return c.presence.Clone(), nil
}

// Presence returns a copy of the snapshot and whether one exists.
func (c *Client) Presence() (Presence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence == nil {
		return Presence{}, false
	}
	return c.presence.Clone(), true
}

func (c *Client) maybeConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.cur != nil {
		return
	}
	if !c.lastFailure.IsZero() && c.opts.Now().Sub(c.lastFailure) < c.opts.ReconnectBackoff {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Connect(c.ctx)
	}()
}

// Connect dials, handshakes, and authenticates. Concurrent calls share one
// attempt. It returns nil immediately if already connected.
func (c *Client) Connect(ctx context.Context) error {
	_, err, _ := c.connecting.Do("connect", func() (any, error) {
		return nil, c.connect(ctx)
	})
	return err
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.cur != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, socket, err := c.opts.Dial(ctx, c.opts.ConnectTimeout)
	if err != nil {
		c.recordFailure(err)
		if errors.Is(err, ErrNoSocket) {
			c.log.Debug("discord not running", "error", err)
		} else {
			c.log.Warn("discord dial failed", "error", err)
		}
		return err
	}

	cs := &connState{
		conn:   conn,
		socket: socket,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	c.cur = cs
	c.authed = false
	c.voiceChannel = ""
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(cs)

	if err := c.writeFrame(cs, OpHandshake, handshake{V: 1, ClientID: c.opts.ClientID}); err != nil {
		c.disconnect(cs, err)
		return fmt.Errorf("handshake: %w", err)
	}

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-cs.ready:
	case <-cs.done:
		return fmt.Errorf("waiting for READY: %w", ErrConnectionClosed)
	case <-timer.C:
		c.disconnect(cs, ErrTimeout)
		return fmt.Errorf("waiting for READY: %w", ErrTimeout)
	case <-ctx.Done():
		c.disconnect(cs, ctx.Err())
		return ctx.Err()
	}

	c.log.Info("discord connected", "socket", socket)
	if err := c.authenticate(ctx, cs); err != nil {
		c.log.Warn("discord authentication failed", "error", err)
	}
	return nil
}

// authenticate sends the stored token, if any. A rejected token is cleared so
// the operator is prompted to authorize again. The connection stays up either
// way; only voice commands need authorization.
func (c *Client) authenticate(ctx context.Context, cs *connState) error {
	if c.opts.Tokens == nil {
		return nil
	}
	token, err := c.opts.Tokens.Token()
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		c.log.Info("no discord access token stored; voice controls unavailable until authorized")
		return nil
	}

	_, err = c.call(ctx, cs, CmdAuthenticate, map[string]string{"access_token": token}, "")
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		if cerr := c.opts.Tokens.ClearToken(); cerr != nil {
			c.log.Error("failed to clear rejected discord token", "error", cerr)
		}
		c.log.Warn("discord access token rejected, re-authorize with `deckhand discord token`",
			"code", rerr.Code, "message", rerr.Message)
		return fmt.Errorf("%w: %s", ErrTokenRejected, rerr.Message)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.cur == cs {
		c.authed = true
	}
	c.mu.Unlock()

	return c.subscribeVoice(ctx, cs)
}

func (c *Client) subscribeVoice(ctx context.Context, cs *connState) error {
	for _, evt := range []string{EvtVoiceSettings, EvtVoiceChannelSelect} {
		if _, err := c.call(ctx, cs, CmdSubscribe, nil, evt); err != nil {
			return fmt.Errorf("subscribe %s: %w", evt, err)
		}
	}
	if _, err := c.call(ctx, cs, CmdGetVoiceSettings, nil, ""); err != nil {
		return err
	}
	data, err := c.call(ctx, cs, CmdGetSelectedVoiceChannel, nil, "")
	if err != nil {
		return err
	}
	var ch struct {
		ID string `json:"id"`
	}
	if !isNull(data) {
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("decode selected channel: %w", err)
		}
	}
	return c.watchChannel(ctx, cs, ch.ID)
}

var voiceStateEvents = []string{EvtVoiceStateCreate, EvtVoiceStateUpdate, EvtVoiceStateDelete}

// watchChannel moves voice-state subscriptions to channelID. An empty id only unsubscribes.
func (c *Client) watchChannel(ctx context.Context, cs *connState, channelID string) error {
	c.mu.Lock()
	prev := c.voiceChannel
	if prev == channelID || c.cur != cs {
		c.mu.Unlock()
		return nil
	}
	c.voiceChannel = channelID
	c.mu.Unlock()

	if prev != "" {
		for _, evt := range voiceStateEvents {
			if _, err := c.call(ctx, cs, CmdUnsubscribe, map[string]string{"channel_id": prev}, evt); err != nil {
				c.log.Debug("unsubscribe failed", "event", evt, "channel_id", prev, "error", err)
			}
		}
	}
	if channelID == "" {
		return nil
	}
	for _, evt := range voiceStateEvents {
		if _, err := c.call(ctx, cs, CmdSubscribe, map[string]string{"channel_id": channelID}, evt); err != nil {
			return fmt.Errorf("subscribe %s: %w", evt, err)
		}
	}
	return nil
}

// followChannel fetches full details for a newly selected channel.
func (c *Client) followChannel(cs *connState, channelID string) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, 2*c.opts.CommandTimeout)
	defer cancel()

	if channelID != "" {
		if _, err := c.call(ctx, cs, CmdGetChannel, map[string]string{"channel_id": channelID}, ""); err != nil {
			c.log.Warn("failed to fetch voice channel", "channel_id", channelID, "error", err)
		}
	}
	if err := c.watchChannel(ctx, cs, channelID); err != nil {
		c.log.Warn("failed to watch voice channel", "channel_id", channelID, "error", err)
	}
}

// Call sends cmd and waits for its response.
func (c *Client) Call(ctx context.Context, cmd string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	cs := c.cur
	ready := cs != nil && cs.isReady
	c.mu.Unlock()
	if !ready {
		return nil, ErrNotConnected
	}
	return c.call(ctx, cs, cmd, args, "")
}

func (c *Client) call(ctx context.Context, cs *connState, cmd string, args any, evt string) (json.RawMessage, error) {
	nonce := uuid.NewString()
	ch, err := c.pending.add(nonce, cmd)
	if err != nil {
		return nil, err
	}

	if err := c.writeFrame(cs, OpFrame, outgoing{Cmd: cmd, Args: args, Evt: evt, Nonce: nonce}); err != nil {
		c.pending.settle(nonce, result{err: err})
		c.disconnect(cs, err)
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		c.pending.settle(nonce, result{err: ctx.Err()})
		return nil, ctx.Err()
	}
}

func (c *Client) writeFrame(cs *connState, op Opcode, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeRaw(cs, op, payload)
}

func (c *Client) writeRaw(cs *connState, op Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = cs.conn.SetWriteDeadline(time.Now().Add(c.opts.CommandTimeout))
	_, err := cs.conn.Write(EncodeFrame(op, payload))
	return err
}

func (c *Client) readLoop(cs *connState) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "discord")
			c.disconnect(cs, fmt.Errorf("panic in read loop: %v", r))
		}
	}()

	dec := NewDecoder(MaxPayload)
	buf := make([]byte, 64*1024)
	for {
		n, err := cs.conn.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			for _, f := range frames {
				if !c.handleFrame(cs, f) {
					return
				}
			}
			if ferr != nil {
				c.disconnect(cs, fmt.Errorf("protocol error: %w", ferr))
				return
			}
		}
		if err != nil {
			c.disconnect(cs, err)
			return
		}
	}
}

// handleFrame processes one frame. It returns false once the peer closed.
func (c *Client) handleFrame(cs *connState, f Frame) bool {
	switch f.Op {
	case OpFrame:
		c.handleMessage(cs, f.Payload)
	case OpPing:
		if err := c.writeRaw(cs, OpPong, f.Payload); err != nil {
			c.log.Debug("pong failed", "error", err)
		}
	case OpPong:
	case OpClose:
		var d errorData
		_ = json.Unmarshal(f.Payload, &d)
		c.disconnect(cs, fmt.Errorf("%w by peer: %s (code %d)", ErrConnectionClosed, d.Message, d.Code))
		return false
	default:
		c.log.Debug("ignoring frame", "opcode", f.Op.String())
	}
	return true
}

func (c *Client) handleMessage(cs *connState, payload []byte) {
	var msg incoming
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Debug("discarding malformed frame", "error", err)
		return
	}

	if msg.Cmd == CmdDispatch {
		if msg.Evt == EvtError {
			var d errorData
			_ = json.Unmarshal(msg.Data, &d)
			c.log.Warn("discord error event", "code", d.Code, "message", d.Message)
			return
		}
		c.apply(cs, msg.Evt, msg.Data)
		return
	}

	if msg.Nonce == "" {
		c.log.Debug("response without nonce", "cmd", msg.Cmd)
		return
	}
	if msg.Evt == EvtError {
		var d errorData
		_ = json.Unmarshal(msg.Data, &d)
		c.log.Debug("discord command failed", "cmd", msg.Cmd, "nonce", msg.Nonce, "code", d.Code)
		rerr := &ResponseError{Cmd: msg.Cmd, Code: d.Code, Message: d.Message}
		// AUTHENTICATE rejections are handled by authenticate.
		if isAuthError(d.Code) && msg.Cmd != CmdAuthenticate {
			c.revokeAuth(cs, rerr)
		}
		c.pending.settle(msg.Nonce, result{err: rerr})
		return
	}
	// Fold before settling so the caller observes its own update.
	c.apply(cs, msg.Cmd, msg.Data)
	if !c.pending.settle(msg.Nonce, result{data: msg.Data}) {
		c.log.Debug("response for unknown nonce", "cmd", msg.Cmd, "nonce", msg.Nonce)
	}
}

// revokeAuth drops the authorization of cs after the app refused a command
// for lack of it, and clears the stored token so the operator re-authorizes.
func (c *Client) revokeAuth(cs *connState, rerr *ResponseError) {
	c.mu.Lock()
	if c.cur != cs || !c.authed {
		c.mu.Unlock()
		return
	}
	c.authed = false
	c.lastErr = rerr
	c.mu.Unlock()

	if c.opts.Tokens != nil {
		if err := c.opts.Tokens.ClearToken(); err != nil {
			c.log.Error("failed to clear discord token", "error", err)
		}
	}
	c.log.Warn("discord authorization revoked, re-authorize with `deckhand discord token`",
		"cmd", rerr.Cmd, "code", rerr.Code, "message", rerr.Message)
}

// apply folds a message into the presence of the current connection.
func (c *Client) apply(cs *connState, name string, data json.RawMessage) {
	c.mu.Lock()
	if c.cur != cs {
		c.mu.Unlock()
		return
	}
	if name != EvtReady && c.presence == nil {
		c.mu.Unlock()
		return
	}

	var base Presence
	if c.presence != nil {
		base = *c.presence
	}
	next, fetchChannel, err := Reduce(base, name, data)
	if err != nil {
		c.mu.Unlock()
		c.log.Debug("discarding malformed payload", "event", name, "error", err)
		return
	}
	c.presence = &next

	if name == EvtReady && !cs.isReady {
		cs.isReady = true
		close(cs.ready)
	}
	follow := name == EvtVoiceChannelSelect && c.authed && !c.closed
	if follow {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if follow {
		go c.followChannel(cs, fetchChannel)
	}
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	c.lastFailure = c.opts.Now()
	c.lastErr = err
	c.mu.Unlock()
}

// disconnect tears down cs if it is still current: pending commands are
// rejected and the presence is dropped.
func (c *Client) disconnect(cs *connState, err error) {
	c.mu.Lock()
	if c.cur != cs {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.presence = nil
	c.authed = false
	c.voiceChannel = ""
	c.lastFailure = c.opts.Now()
	c.lastErr = err
	closed := c.closed
	c.mu.Unlock()

	close(cs.done)
	cs.conn.Close()
	n := c.pending.rejectAll(ErrConnectionClosed)

	if closed {
		return
	}
	c.log.Info("discord disconnected", "error", err, "rejected", n, "backoff", c.opts.ReconnectBackoff)
}

// ToggleMute flips the local microphone mute.
func (c *Client) ToggleMute(ctx context.Context) error {
	return c.toggleVoice(ctx, func(vs VoiceSettings) map[string]bool {
		return map[string]bool{"mute": !vs.Mute}
	})
}

// ToggleDeafen flips the local deafen state.
func (c *Client) ToggleDeafen(ctx context.Context) error {
	return c.toggleVoice(ctx, func(vs VoiceSettings) map[string]bool {
		return map[string]bool{"deaf": !vs.Deaf}
	})
}

func (c *Client) toggleVoice(ctx context.Context, args func(VoiceSettings) map[string]bool) error {
	c.mu.Lock()
	cs := c.cur
	ready := cs != nil && cs.isReady
	authed := c.authed
	var vs *VoiceSettings
	if c.presence != nil && c.presence.VoiceSettings != nil {
		v := *c.presence.VoiceSettings
		vs = &v
	}
	c.mu.Unlock()

	if !ready {
		return ErrNotConnected
	}
	if !authed {
		return ErrUnauthorized
	}

	if vs == nil {
		data, err := c.call(ctx, cs, CmdGetVoiceSettings, nil, "")
		if err != nil {
			return err
		}
		var cur VoiceSettings
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("decode voice settings: %w", err)
		}
		vs = &cur
	}

	_, err := c.call(ctx, cs, CmdSetVoiceSettings, args(*vs), "")
	return err
}

// Status reports the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Authenticated: c.authed,
		Pending:       c.pending.len(),
		VoiceChannel:  c.voiceChannel,
		LastFailure:   c.lastFailure,
	}
	if c.cur != nil {
		st.Connected = true
		st.Ready = c.cur.isReady
		st.Socket = c.cur.socket
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cs := c.cur
	c.mu.Unlock()

	c.cancel()
	if cs != nil {
		c.disconnect(cs, ErrConnectionClosed)
	}
	c.wg.Wait()
	return nil
}
