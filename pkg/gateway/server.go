package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/aldrin/coursedesk/pkg/state"
)

const (
	// pongWait is how long to wait for a pong before dropping the client.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// turnTimeout bounds one dispatcher turn triggered over the wire.
	turnTimeout = 2 * time.Minute
)

// TurnReply is the outcome of one chat turn.
type TurnReply struct {
	AgentID string
	Text    string
	State   *state.Snapshot
}

// TurnHandler runs one dispatcher turn for an inbound chat frame.
type TurnHandler func(ctx context.Context, sessionKey, text string) (TurnReply, error)

// Server exposes the chat dispatcher over WebSocket.
type Server struct {
	port           int
	turnHandler    TurnHandler
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	logger         zerolog.Logger
	server         *http.Server
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightTurns  sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Port           int
	TurnHandler    TurnHandler
	AllowedOrigins []string // empty allows same-host and non-browser clients
	Logger         zerolog.Logger
}

// NewServer creates a chat gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.TurnHandler == nil {
		return nil, fmt.Errorf("turn handler is required")
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}

	s := &Server{
		port:        cfg.Port,
		turnHandler: cfg.TurnHandler,
		clients:     NewClientRegistry(),
		logger:      cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowed) == 0 {
				return true
			}
			return allowed[origin]
		},
	}

	return s, nil
}

// Start starts the server without blocking.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	s.logger.Info().Int("port", s.port).Msg("Starting chat gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server, waiting for in-flight turns.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down chat gateway")

	done := make(chan struct{})
	go func() {
		s.inFlightTurns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Chat gateway stopped")
	return nil
}

// Clients returns information about connected clients.
func (s *Server) Clients() []ClientInfo {
	return s.clients.Infos()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.keepAlive(client)
	go s.handleClient(client)
}

// keepAlive pings the client until the connection drops.
func (s *Server) keepAlive(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if _, exists := s.clients.Get(client.ID); !exists {
			return
		}
		if err := client.writeControl(websocket.PingMessage, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}

func (s *Server) handleClient(client *Client) {
	// One worker per connection: turns for the same client run in
	// order, never concurrently. The read loop stays free so pongs
	// keep arriving while a turn is in flight.
	turns := make(chan Frame, 16)
	go func() {
		for frame := range turns {
			s.runTurn(client, frame)
			s.inFlightTurns.Done()
		}
	}()

	defer func() {
		close(turns)
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleFrame(client, message, turns)
	}
}

func (s *Server) handleFrame(client *Client, message []byte, turns chan<- Frame) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.sendError(client, "", "malformed frame")
		return
	}

	if frame.Type != FrameChat {
		s.sendError(client, frame.Session, fmt.Sprintf("unsupported frame type: %s", frame.Type))
		return
	}
	if frame.Session == "" {
		s.sendError(client, "", "session is required")
		return
	}
	if frame.Text == "" {
		s.sendError(client, frame.Session, "text is required")
		return
	}

	s.inFlightTurns.Add(1)
	turns <- frame
}

func (s *Server) runTurn(client *Client, frame Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	reply, err := s.turnHandler(ctx, frame.Session, frame.Text)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Str("session", frame.Session).
			Msg("Chat turn failed")
		s.sendError(client, frame.Session, "failed to handle message")
		return
	}

	if err := client.WriteFrame(Frame{
		Type:    FrameReply,
		Session: frame.Session,
		Agent:   reply.AgentID,
		Text:    reply.Text,
	}); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send reply frame")
		return
	}

	s.sendState(client, frame.Session, reply.State)
}

func (s *Server) sendState(client *Client, sessionKey string, snapshot *state.Snapshot) {
	if snapshot == nil {
		return
	}

	if err := client.WriteFrame(Frame{
		Type:    FrameState,
		Session: sessionKey,
		State:   snapshot,
	}); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send state frame")
	}
}

func (s *Server) sendError(client *Client, sessionKey, message string) {
	if err := client.WriteFrame(Frame{
		Type:    FrameError,
		Session: sessionKey,
		Text:    message,
	}); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send error frame")
	}
}
