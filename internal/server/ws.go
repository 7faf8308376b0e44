package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inspection-robot/internal/control"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

const (
	roleController = "controller"
	roleObserver   = "observer"

	clientSendBuffer = 16
	writeWait        = 2 * time.Second
	submitTimeout    = 2 * time.Second
)

// envelope wraps every frame the hub sends so clients can demultiplex.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Role string      `json:"role,omitempty"`
}

// Hub owns all WebSocket sessions. The first session is the controller and the
// only one whose commands reach the robot; later sessions join as observers
// and receive telemetry only.
type Hub struct {
	loop        *control.Loop
	robotSerial string
	maxClients  int
	upgrader    websocket.Upgrader

	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	controller *wsClient
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	role string
}

func NewHub(loop *control.Loop, robotSerial string, maxClients int) *Hub {
	return &Hub{
		loop:        loop,
		robotSerial: robotSerial,
		maxClients:  maxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the operator console is served from a different origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ControllerConnected reports whether a control session currently exists.
// The REST surface refuses motion while this is true.
func (h *Hub) ControllerConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controller != nil
}

// HandleWS upgrades the request and runs the session until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, clientSendBuffer)}

	h.mu.Lock()
	if len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session limit reached"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	if h.controller == nil {
		c.role = roleController
		h.controller = c
	} else {
		c.role = roleObserver
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	utils.Logger.Infof("websocket session opened as %s (%s)", c.role, conn.RemoteAddr())
	c.enqueue(envelope{Type: "hello", Role: c.role, Data: map[string]string{"robot": h.robotSerial}})

	go c.writePump()
	c.readPump()
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	wasController := h.controller == c
	if wasController {
		h.controller = nil
	}
	h.mu.Unlock()

	if wasController {
		utils.Logger.Warnf("control session closed; link watchdog takes over")
	}
}

// PublishTelemetry implements telemetry.Sink: one marshal, fan-out to every
// session, dropping frames for clients that cannot keep up.
func (h *Hub) PublishTelemetry(snap models.TelemetrySnapshot) {
	payload, err := json.Marshal(envelope{Type: "telemetry", Data: snap})
	if err != nil {
		utils.Logger.Errorf("telemetry marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// slow consumer: this frame is superseded in 200ms anyway
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Logger.Warnf("websocket read error: %v", err)
			}
			return
		}

		cmd, err := models.ParseCommand(raw)
		if err != nil {
			c.enqueue(envelope{Type: "ack", Data: models.CommandAck{
				Status:    models.AckRejected,
				Reason:    utils.ClassOf(err),
				Message:   err.Error(),
				Timestamp: time.Now(),
			}})
			continue
		}
		cmd.Source = "ws/" + c.role

		var ack models.CommandAck
		switch {
		// observers can always hit the big red button, never the sticks
		case c.role != roleController && cmd.Action != models.ActionPing && cmd.Action != models.ActionEStop:
			ack = models.CommandAck{
				Action:    cmd.Action,
				Status:    models.AckRejected,
				Reason:    utils.FaultValidation,
				Message:   "observer sessions cannot command the robot",
				Timestamp: time.Now(),
			}
		case cmd.Action == models.ActionEStop:
			// never queued behind motion traffic
			ack = c.hub.loop.ForceEStop()
		default:
			ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
			ack = c.hub.loop.Submit(ctx, cmd)
			cancel()
		}
		c.enqueue(envelope{Type: "ack", Data: ack})
	}
}

func (c *wsClient) writePump() {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (c *wsClient) enqueue(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}
