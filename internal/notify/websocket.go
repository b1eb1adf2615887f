package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const maxClientMessageSize = 512

// WSConfig holds websocket endpoint settings
type WSConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// WSServer streams hub pushes to websocket clients
type WSServer struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewWSServer creates a new websocket server
func NewWSServer(hub *Hub, cfg WSConfig, logger *slog.Logger) *WSServer {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	return &WSServer{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Serve upgrades the request and pushes ownerID's events until the client goes away
func (s *WSServer) Serve(w http.ResponseWriter, r *http.Request, ownerID string) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	defer conn.Close()

	sub := s.hub.Subscribe(ownerID)
	defer s.hub.Unsubscribe(sub)

	s.logger.Info("Push client connected", slog.String("user_id", ownerID))
	defer s.logger.Info("Push client disconnected", slog.String("user_id", ownerID))

	closed := s.readLoop(conn)

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return nil

		case push, ok := <-sub.Pushes():
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(push); err != nil {
				s.logger.Debug("Push write failed",
					slog.String("user_id", ownerID),
					slog.Any("error", err),
				)
				return nil
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return nil
			}
		}
	}
}

// readLoop discards client frames and closes the returned channel when the connection ends
func (s *WSServer) readLoop(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	pongWait := s.pingInterval + s.writeTimeout

	conn.SetReadLimit(maxClientMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	return closed
}
