// Package robotchannel is the bidirectional framed transport between the
// orchestrator and robot processes (component G.2), grounded on the
// teacher's internal/gateway/handlers/websocket.go Hub/Client but keyed by
// RobotId instead of an anonymous client ID, carrying the robot channel's
// typed Frame instead of the gateway's generic pub/sub Message, and adding
// correlation-id-keyed pending-request tracking for JobAssign/StatusRequest.
package robotchannel

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linkflow-ai/linkflow-ai/internal/platform/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pingInterval    = 30 * time.Second
	pongWait        = 60 * time.Second
	writeWait       = 10 * time.Second
	jobAssignDeadline = 30 * time.Second
	statusDeadline    = 10 * time.Second
)

// Authenticator validates a Register frame's credentials, returning the
// robot ID to use on success. Implementations may check a bearer JWT
// (golang-jwt/jwt/v5) or an API key compared via bcrypt against a stored
// hash.
type Authenticator func(payload RegisterPayload) (robotID string, ok bool)

// Client is one connected robot's live socket plus its correlation state.
type Client struct {
	RobotID string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub

	mu      sync.Mutex
	pending map[string]chan Frame
}

// Hub tracks every connected robot and routes frames by RobotID, the way the
// teacher's Hub routes by subscribed channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	auth Authenticator
	log  logger.Logger

	onRegister   func(robotID string, payload RegisterPayload)
	onDisconnect func(robotID string)
	onFrame      func(robotID string, frame Frame)
}

// NewHub builds a Hub. auth may be nil to accept every Register frame
// (development mode, matching the teacher's CheckOrigin-always-true
// posture).
func NewHub(auth Authenticator, log logger.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), auth: auth, log: log}
}

// OnRegister/OnDisconnect/OnFrame install the callbacks the orchestrator
// wires to the registry, dispatcher, and progress stream respectively.
func (h *Hub) OnRegister(fn func(robotID string, payload RegisterPayload))    { h.onRegister = fn }
func (h *Hub) OnDisconnect(fn func(robotID string))                          { h.onDisconnect = fn }
func (h *Hub) OnFrame(fn func(robotID string, frame Frame))                  { h.onFrame = fn }

// ServeHTTP upgrades the connection and waits for the robot's first frame to
// be a Register, authenticating it before admitting it to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Error("robot channel upgrade failed", "error", err)
		}
		return
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var first Frame
	if err := json.Unmarshal(raw, &first); err != nil || first.Type != FrameRegister {
		h.writeAckAndClose(conn, false, "", "first frame must be register")
		return
	}
	var payload RegisterPayload
	if err := json.Unmarshal(first.Payload, &payload); err != nil {
		h.writeAckAndClose(conn, false, "", "malformed register payload")
		return
	}

	robotID := payload.Name
	if h.auth != nil {
		id, ok := h.auth(payload)
		if !ok {
			h.writeAckAndClose(conn, false, "", "authentication failed")
			return
		}
		robotID = id
	}
	if robotID == "" {
		robotID = uuid.NewString()
	}

	client := &Client{RobotID: robotID, conn: conn, send: make(chan []byte, 256), hub: h, pending: make(map[string]chan Frame)}
	h.mu.Lock()
	h.clients[robotID] = client
	h.mu.Unlock()

	if h.onRegister != nil {
		h.onRegister(robotID, payload)
	}
	ack, _ := json.Marshal(RegisterAckPayload{Success: true, RobotID: robotID})
	frame, _ := json.Marshal(Frame{Type: FrameRegisterAck, ID: uuid.NewString(), CorrelationID: first.ID, Payload: ack})
	client.send <- frame

	go client.writePump()
	client.readPump()
}

func (h *Hub) writeAckAndClose(conn *websocket.Conn, success bool, robotID, reason string) {
	ack, _ := json.Marshal(RegisterAckPayload{Success: success, RobotID: robotID, Reason: reason})
	frame, _ := json.Marshal(Frame{Type: FrameRegisterAck, ID: uuid.NewString(), Payload: ack})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, frame)
	conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c.RobotID)
		c.hub.mu.Unlock()
		close(c.send)
		c.conn.Close()
		if c.hub.onDisconnect != nil {
			c.hub.onDisconnect(c.RobotID)
		}
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		c.mu.Lock()
		waiter, waiting := c.pending[frame.CorrelationID]
		if waiting {
			delete(c.pending, frame.CorrelationID)
		}
		c.mu.Unlock()
		if waiting {
			waiter <- frame
			continue
		}

		if c.hub.onFrame != nil {
			c.hub.onFrame(c.RobotID, frame)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send delivers a fire-and-forget frame to robotID (Orchestrator->Robot
// frames with no correlated reply expected, e.g. HeartbeatAck).
func (h *Hub) Send(robotID string, frame Frame) error {
	h.mu.RLock()
	client, ok := h.clients[robotID]
	h.mu.RUnlock()
	if !ok {
		return &NotConnectedError{RobotID: robotID}
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	client.send <- raw
	return nil
}

// RequestJobAssign sends a JobAssign frame and blocks for the correlated
// JobAccept/JobReject up to the 30s deadline (§4.7.2).
func (h *Hub) RequestJobAssign(robotID string, frame Frame) (Frame, error) {
	return h.request(robotID, frame, jobAssignDeadline)
}

// RequestStatus sends a StatusRequest frame and blocks for the correlated
// StatusResponse up to the 10s deadline.
func (h *Hub) RequestStatus(robotID string, frame Frame) (Frame, error) {
	return h.request(robotID, frame, statusDeadline)
}

func (h *Hub) request(robotID string, frame Frame, deadline time.Duration) (Frame, error) {
	h.mu.RLock()
	client, ok := h.clients[robotID]
	h.mu.RUnlock()
	if !ok {
		return Frame{}, &NotConnectedError{RobotID: robotID}
	}

	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}
	if frame.CorrelationID == "" {
		frame.CorrelationID = frame.ID
	}
	waiter := make(chan Frame, 1)
	client.mu.Lock()
	client.pending[frame.CorrelationID] = waiter
	client.mu.Unlock()

	raw, err := json.Marshal(frame)
	if err != nil {
		return Frame{}, err
	}
	client.send <- raw

	select {
	case reply := <-waiter:
		return reply, nil
	case <-time.After(deadline):
		client.mu.Lock()
		delete(client.pending, frame.CorrelationID)
		client.mu.Unlock()
		return Frame{}, &TimeoutError{RobotID: robotID, CorrelationID: frame.CorrelationID}
	}
}

// Connected reports whether robotID currently has a live socket.
func (h *Hub) Connected(robotID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[robotID]
	return ok
}

// NotConnectedError reports a frame send/request against a robot with no
// live socket.
type NotConnectedError struct{ RobotID string }

func (e *NotConnectedError) Error() string { return "robot not connected: " + e.RobotID }

// TimeoutError reports a correlated request that was never answered within
// its deadline.
type TimeoutError struct {
	RobotID       string
	CorrelationID string
}

func (e *TimeoutError) Error() string {
	return "robot channel request timed out: robot=" + e.RobotID + " correlation_id=" + e.CorrelationID
}
