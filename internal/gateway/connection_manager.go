package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/session"
)

// Dispatcher handles a connection's inbound frames and its detach. The
// gateway Service implements it.
type Dispatcher interface {
	HandleMessage(ctx context.Context, conn *Connection, data []byte)
	HandleDetach(conn *Connection, wentOffline bool, roomEmpty bool)
}

// ConnectionManager is the per-room broadcast fanout and presence tracker.
// One logical channel exists per room code; every attached connection of
// that room receives each broadcast.
type ConnectionManager struct {
	// Connection pools and per-username connection counts, by room code.
	roomConnections map[string]map[*Connection]bool
	presence        map[string]map[string]int
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	dispatcher Dispatcher

	broadcastCh chan BroadcastMessage
}

// Connection represents one WebSocket attached to a room.
type Connection struct {
	ID       string
	Username string
	RoomCode string
	Conn     *websocket.Conn
	Send     chan []byte
	Handle   *session.Handle
	Manager  *ConnectionManager

	ConnectedAt time.Time

	// done is closed on detach. Send is never closed: broadcasts race
	// disconnects, and a send on a retired but open buffered channel is
	// harmless where a send on a closed one would panic.
	done       chan struct{}
	detachOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one event addressed to every connection of a room.
type BroadcastMessage struct {
	RoomCode string
	Event    any
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new connection manager. SetDispatcher must
// be called before the first upgrade.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		presence:        make(map[string]map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetDispatcher wires the inbound-message and detach handler.
func (cm *ConnectionManager) SetDispatcher(d Dispatcher) {
	cm.dispatcher = d
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Attach upgrades an HTTP request to a WebSocket bound to a room, registers
// it, and starts the connection pumps. It returns the connection and whether
// the username's presence transitioned offline→online.
func (cm *ConnectionManager) Attach(w http.ResponseWriter, r *http.Request, username, roomCode string, handle *session.Handle) (*Connection, bool, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Username:    username,
		RoomCode:    roomCode,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		Handle:      handle,
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cameOnline := cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("username", username).
		Str("room_code", roomCode).
		Msg("WebSocket connection established")
	return connection, cameOnline, nil
}

// registerConnection adds a connection and bumps its username's presence
// count, reporting a 0→1 transition.
func (cm *ConnectionManager) registerConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
		cm.presence[conn.RoomCode] = make(map[string]int)
	}
	cm.roomConnections[conn.RoomCode][conn] = true
	cm.presence[conn.RoomCode][conn.Username]++

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", conn.RoomCode).
		Int("total_connections", len(cm.roomConnections[conn.RoomCode])).
		Msg("connection registered")
	return cm.presence[conn.RoomCode][conn.Username] == 1
}

// unregisterConnection removes a connection and drops its username's
// presence count. It reports a 1→0 transition and whether the room's pool is
// now empty.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) (wentOffline bool, roomEmpty bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.roomConnections[conn.RoomCode]
	if !exists {
		return false, false
	}
	if _, exists := connections[conn]; !exists {
		return false, false
	}

	delete(connections, conn)

	counts := cm.presence[conn.RoomCode]
	counts[conn.Username]--
	if counts[conn.Username] <= 0 {
		delete(counts, conn.Username)
		wentOffline = true
	}

	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomCode)
		delete(cm.presence, conn.RoomCode)
		roomEmpty = true
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("username", conn.Username).
		Str("room_code", conn.RoomCode).
		Msg("connection unregistered")
	return wentOffline, roomEmpty
}

// Broadcast sends an event to every connection attached to a room.
func (cm *ConnectionManager) Broadcast(roomCode string, event any) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: roomCode, Event: event}:
	default:
		log.Warn().Str("room_code", roomCode).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomCode]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the pool so the lock is not held while sending.
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("username", conn.Username).
				Msg("connection send buffer full, closing connection")
			conn.Conn.Close()
			conn.detach()
		}
	}

	log.Debug().
		Str("room_code", message.RoomCode).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// ConnectionStats summarizes the live pools for the stats endpoint.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveRooms:     len(cm.roomConnections),
		RoomConnections: make(map[string]int),
	}
	for code, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[code] = len(connections)
	}
	return stats
}

// SendEvent queues an event for a single connection, bypassing the room
// fanout. Used for private snapshots and error replies.
func (c *Connection) SendEvent(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal event")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, dropping event")
	}
}

// detach runs the disconnect path exactly once: presence bookkeeping, then
// the dispatcher's detach hook (offline broadcast, handle release).
func (c *Connection) detach() {
	c.detachOnce.Do(func() {
		close(c.done)
		wentOffline, roomEmpty := c.Manager.unregisterConnection(c)
		if c.Manager.dispatcher != nil {
			c.Manager.dispatcher.HandleDetach(c, wentOffline, roomEmpty)
		}
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.detach()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.detach()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	ctx := context.Background()
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.dispatcher != nil {
			c.Manager.dispatcher.HandleMessage(ctx, c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
