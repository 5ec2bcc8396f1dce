// ABOUTME: WebSocket client for the stagesound control protocol
// ABOUTME: Handles connection, handshake, command correlation and event delivery
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned when sending on a closed client
	ErrNotConnected = errors.New("protocol: not connected")

	// ErrCommandFailed wraps an error reported by the server in a result
	ErrCommandFailed = errors.New("protocol: command failed")
)

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port
	Path       string // default DefaultPath
	ClientID   string // default: random uuid
	Name       string
	DeviceInfo DeviceInfo
	Timeout    time.Duration // handshake and command timeout (default 10s)
	Logger     *slog.Logger
}

// Client represents a WebSocket client
type Client struct {
	config Config
	logger *slog.Logger
	conn   *websocket.Conn

	// Events receives engine events broadcast by the server.
	// It is closed when the connection ends.
	Events chan Event

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan Result
	connected bool
	server    ServerHello

	done chan struct{}
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config:  config,
		logger:  config.Logger.With("module", "protocol", "client_id", config.ClientID),
		Events:  make(chan Event, 64),
		pending: make(map[string]chan Result),
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	c.logger.Info("connecting", "url", u.String())

	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	go c.readMessages()
	return nil
}

func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:   c.config.ClientID,
		Name:       c.config.Name,
		Version:    Version,
		DeviceInfo: &c.config.DeviceInfo,
	}
	if err := c.send(TypeClientHello, "", hello); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	if msg.Type != TypeServerHello {
		return fmt.Errorf("expected %s, got %s", TypeServerHello, msg.Type)
	}
	var server ServerHello
	if err := msg.Decode(&server); err != nil {
		return err
	}
	if server.Version != Version {
		return fmt.Errorf("unsupported protocol version %d", server.Version)
	}
	c.server = server

	c.logger.Info("handshake complete", "server", server.Name, "server_id", server.ServerID)
	return nil
}

// Server returns the server's hello
func (c *Client) Server() ServerHello {
	return c.server
}

// Send issues cmd and waits for its result.
// A result with ok=false is returned as an error wrapping ErrCommandFailed.
func (c *Client) Send(ctx context.Context, cmd Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	id := uuid.New().String()
	ch := make(chan Result, 1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return Result{}, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(TypeCommand, id, cmd); err != nil {
		return Result{}, err
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return Result{}, ErrNotConnected
		}
		if !res.OK {
			return res, fmt.Errorf("%w: %s %s: %s", ErrCommandFailed, cmd.Layer, cmd.Op, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Client) send(msgType, id string, payload any) error {
	msg, err := NewMessage(msgType, id, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.Timeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// readMessages reads and routes incoming messages until the connection closes
func (c *Client) readMessages() {
	defer c.teardown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read ended", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("failed to parse message", "error", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case TypeResult:
		var res Result
		if err := msg.Decode(&res); err != nil {
			c.logger.Warn("bad result", "error", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("result for unknown command", "id", msg.ID)
			return
		}
		select {
		case ch <- res:
		default:
			c.logger.Debug("duplicate result", "id", msg.ID)
		}

	case TypeEvent:
		var ev Event
		if err := msg.Decode(&ev); err != nil {
			c.logger.Warn("bad event", "error", err)
			return
		}
		select {
		case c.Events <- ev:
		default:
			c.logger.Debug("event channel full, dropping event", "kind", ev.Kind)
		}

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
	}
}

// teardown fails pending commands and closes Events
func (c *Client) teardown() {
	c.mu.Lock()
	c.connected = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.conn.Close()
	close(c.Events)
	close(c.done)
}

// Close says goodbye and closes the connection, waiting for the reader to exit
func (c *Client) Close() error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil
	}

	if err := c.send(TypeClientGoodbye, "", ClientGoodbye{Reason: "user_request"}); err != nil {
		c.logger.Debug("goodbye failed", "error", err)
	}
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(c.config.Timeout):
		c.conn.Close()
		<-c.done
	}
	c.logger.Info("connection closed")
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
