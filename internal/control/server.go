// ABOUTME: Control server exposing the engine over WebSocket
// ABOUTME: Manages client connections, command execution, event broadcast and /metrics
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harperreed/stagesound/pkg/protocol"
	"github.com/harperreed/stagesound/pkg/stage"
)

const writeDeadline = 10 * time.Second

// Config holds server configuration
type Config struct {
	Addr           string // listen address (default ":8928")
	Name           string
	Path           string               // WebSocket path (default protocol.DefaultPath)
	Registry       *prometheus.Registry // served on /metrics when set
	CommandTimeout time.Duration        // upper bound for one command (default 2m)
	Logger         *slog.Logger
}

// Server serves the control protocol for one engine
type Server struct {
	config     Config
	serverID   string
	logger     *slog.Logger
	engine     *stage.Engine
	dispatcher *Dispatcher

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	shutdownMu sync.RWMutex
	isShutdown bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Client represents a connected controller
type Client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	// Output channel for messages
	sendChan chan protocol.Message
}

// New creates a server for engine
func New(engine *stage.Engine, config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8928"
	}
	if config.Name == "" {
		config.Name = "stagesound"
	}
	if config.Path == "" {
		config.Path = protocol.DefaultPath
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		serverID:   uuid.New().String(),
		logger:     config.Logger.With("module", "control"),
		engine:     engine,
		dispatcher: NewDispatcher(engine),
		mux:        http.NewServeMux(),
		clients:    make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			// Non-browser controllers send no Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	if config.Registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{}))
	}

	events, unsubscribe := engine.Subscribe(256)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.broadcast(events)
	}()
	return s
}

// Handler returns the HTTP handler serving the protocol and metrics
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ID returns the server id sent in server/hello
func (s *Server) ID() string {
	return s.serverID
}

// Serve listens on the configured address until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then closes every client
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()
	s.logger.Info("control server listening", "addr", ln.Addr().String(), "path", s.config.Path)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("control server shutting down")
	case err := <-errChan:
		serverErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.Close()

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Close disconnects every client and waits for connection goroutines
func (s *Server) Close() {
	s.shutdownMu.Lock()
	if s.isShutdown {
		s.shutdownMu.Unlock()
		return
	}
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.cancel()
	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()
	s.logger.Info("control server stopped")
}

// Clients returns the number of connected controllers
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.shutdownMu.RUnlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.logger.Debug("new connection", "remote", r.RemoteAddr)
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		s.logger.Debug("error reading hello", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeClientHello {
		s.logger.Warn("expected client/hello", "got", msg.Type)
		return
	}
	var hello protocol.ClientHello
	if err := msg.Decode(&hello); err != nil {
		s.logger.Warn("bad client/hello", "error", err)
		return
	}
	if hello.ClientID == "" {
		s.logger.Warn("client hello missing client_id")
		return
	}
	if hello.Name == "" {
		hello.Name = "anonymous"
	}

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		sendChan: make(chan protocol.Message, 128),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[client.ID]; exists {
		s.clientsMu.Unlock()
		s.logger.Warn("duplicate client id rejected", "client_id", client.ID, "existing", existing.Name)
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	s.logger.Info("client connected", "client", client.Name, "client_id", client.ID)

	var cmdWG sync.WaitGroup
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		cmdWG.Wait()
		close(client.sendChan)
		s.logger.Info("client disconnected", "client", client.Name)
	}()

	hi, err := protocol.NewMessage(protocol.TypeServerHello, "", protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.Version,
		Layers:   []string{protocol.LayerBgm, protocol.LayerSfx, protocol.LayerVoice, protocol.LayerEngine},
	})
	if err != nil {
		return
	}
	client.sendChan <- hi

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket error", "client", client.Name, "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("error unmarshaling message", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeCommand:
			// Long crossfades must not block the reader
			cmdWG.Add(1)
			go func() {
				defer cmdWG.Done()
				s.handleCommand(client, msg)
			}()
		case protocol.TypeClientGoodbye:
			s.logger.Debug("client said goodbye", "client", client.Name)
		default:
			s.logger.Debug("unknown message type", "type", msg.Type)
		}
	}
}

func (s *Server) handleCommand(client *Client, msg protocol.Message) {
	var cmd protocol.Command
	result := protocol.Result{}
	if err := msg.Decode(&cmd); err != nil {
		result.Error = err.Error()
	} else {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.CommandTimeout)
		id, err := s.dispatcher.Execute(ctx, cmd)
		cancel()
		if err != nil {
			s.logger.Debug("command failed", "layer", cmd.Layer, "op", cmd.Op, "src", cmd.Src, "error", err)
			result.Error = err.Error()
		} else {
			result.OK = true
			result.InstanceID = id
		}
	}

	out, err := protocol.NewMessage(protocol.TypeResult, msg.ID, result)
	if err != nil {
		return
	}
	s.send(client, out)
}

// clientWriter is the only goroutine writing to the client's connection
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteJSON(msg); err != nil {
				s.logger.Debug("write failed", "client", client.Name, "error", err)
				client.Conn.Close()
				// keep draining until the reader closes sendChan
				for range client.sendChan {
				}
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				client.Conn.Close()
				for range client.sendChan {
				}
				return
			}
		}
	}
}

func (s *Server) send(client *Client, msg protocol.Message) {
	select {
	case client.sendChan <- msg:
	default:
		s.logger.Warn("client send buffer full, dropping message", "client", client.Name, "type", msg.Type)
	}
}

// broadcast forwards engine events to every client
func (s *Server) broadcast(events <-chan stage.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := protocol.NewMessage(protocol.TypeEvent, "", toWire(ev))
			if err != nil {
				continue
			}
			s.clientsMu.RLock()
			for _, c := range s.clients {
				s.send(c, msg)
			}
			s.clientsMu.RUnlock()
		}
	}
}

func toWire(ev stage.Event) protocol.Event {
	out := protocol.Event{
		Kind:       string(ev.Kind),
		Layer:      string(ev.Layer),
		Src:        ev.Src,
		InstanceID: ev.InstanceID,
		SpeakerID:  ev.SpeakerID,
		Timestamp:  ev.Time.UnixMilli(),
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}
